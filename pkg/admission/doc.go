// Package admission provides rate limiting and quota enforcement for tenant
// requests against the keyword research platform.
//
// # Overview
//
// Every billable operation passes through a single admission decision before
// any work is done. The decision combines two independent mechanisms:
//
//   - ratelimit: sliding-window request frequency per (tenant, user, endpoint)
//   - quota: calendar-aligned usage ceilings per (tenant, quota kind) from the tenant's plan
//
// The guard sub-package composes both behind one call:
//
//	g := guard.New(guard.Config{Limiter: limiter, Tracker: tracker, Operations: ops})
//	verdict := g.Admit(ctx, admission.Caller{TenantID: "t1", UserID: "u1"}, "seeds.create")
//	if !verdict.Allowed {
//	    return verdict.Err()
//	}
//
// # Architecture
//
//   - store: shared counter store (Redis, SQLite, memory)
//   - plan: plan tiers, quota ceilings and per-tenant overrides
//   - ratelimit: sliding window limiter
//   - quota: period-aligned quota tracker
//   - guard: the admission façade
//
// # Failure Policy
//
// Admission fails open. When the counter store is slow or unreachable the
// request is allowed, the verdict is marked Degraded and the event is logged
// and metered separately from policy denials.
package admission
