package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/admission/ratelimit"
	"keywordlab/gatekeeper/pkg/admission/store"
)

type recordingObserver struct {
	mu        sync.Mutex
	checks    []admission.Mechanism
	decisions []admission.Outcome
}

func (o *recordingObserver) ObserveCheck(m admission.Mechanism, v admission.Verdict, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks = append(o.checks, m)
}

func (o *recordingObserver) ObserveDecision(operation string, v admission.Verdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, v.Outcome())
}

type recordingRecorder struct {
	mu        sync.Mutex
	decisions []admission.Decision
}

func (r *recordingRecorder) RecordDecision(ctx context.Context, d admission.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

type fixture struct {
	guard    *Guard
	tracker  *quota.Tracker
	store    *store.MemoryStore
	observer *recordingObserver
	recorder *recordingRecorder
}

var testCaller = admission.Caller{TenantID: "acme", UserID: "u1"}

func newFixture(t *testing.T, ops map[string]Operation) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:   s,
		Default: ratelimit.Rule{Window: time.Minute, MaxRequests: 100},
		Rules: map[string][]ratelimit.Rule{
			"seeds.create": {{Window: time.Minute, MaxRequests: 2}},
		},
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}

	holder, err := plan.NewHolder(&plan.Snapshot{
		Catalog:  plan.DefaultCatalog(),
		Resolver: plan.NewStaticResolver([]plan.Subscription{{TenantID: "acme", Tier: plan.TierFree}}, ""),
	})
	if err != nil {
		t.Fatalf("NewHolder failed: %v", err)
	}

	tracker, err := quota.NewTracker(quota.Config{Store: s, Plans: holder})
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}

	obs := &recordingObserver{}
	rec := &recordingRecorder{}
	g, err := New(Config{
		Limiter:    limiter,
		Tracker:    tracker,
		Operations: ops,
		Observer:   obs,
		Recorder:   rec,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &fixture{guard: g, tracker: tracker, store: s, observer: obs, recorder: rec}
}

func (f *fixture) used(t *testing.T, kind admission.QuotaKind) int64 {
	t.Helper()
	u, err := f.tracker.ReportUsage(context.Background(), "acme", kind, time.Now())
	if err != nil {
		t.Fatalf("ReportUsage failed: %v", err)
	}
	return u.Used
}

func TestGuard_RateDenialConsumesNoQuota(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"seeds.create": {Quotas: []admission.QuotaKind{admission.DailySeeds}},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if v := f.guard.Admit(ctx, testCaller, "seeds.create"); !v.Allowed {
			t.Fatalf("Expected admission %d to be allowed, got %+v", i+1, v)
		}
	}

	v := f.guard.Admit(ctx, testCaller, "seeds.create")
	if v.Allowed {
		t.Fatal("Expected third admission to be rate limited")
	}
	if v.DeniedBy != admission.MechanismRate {
		t.Errorf("Expected denial by rate, got %q", v.DeniedBy)
	}

	if used := f.used(t, admission.DailySeeds); used != 2 {
		t.Errorf("Expected 2 seeds consumed, got %d", used)
	}

	// The quota tracker is never consulted on a rate denial.
	last := f.observer.checks[len(f.observer.checks)-1]
	if last != admission.MechanismRate {
		t.Errorf("Expected last check to be rate, got %q", last)
	}
}

func TestGuard_QuotaDenialRollsBackEarlierReservations(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"brief.export": {Quotas: []admission.QuotaKind{admission.DailySeeds, admission.DailyExports}},
	})
	ctx := context.Background()

	// Exhaust daily_exports (free ceiling 5) directly.
	if v := f.tracker.CheckAndReserve(ctx, "acme", admission.DailyExports, 5); !v.Allowed {
		t.Fatalf("Expected setup reservation to be allowed, got %+v", v)
	}

	v := f.guard.Admit(ctx, testCaller, "brief.export")
	if v.Allowed {
		t.Fatal("Expected admission to be denied by quota")
	}
	if v.DeniedBy != admission.MechanismQuota || v.QuotaKind != admission.DailyExports {
		t.Errorf("Expected denial on daily_exports, got %q/%q", v.DeniedBy, v.QuotaKind)
	}

	if used := f.used(t, admission.DailySeeds); used != 0 {
		t.Errorf("Expected daily_seeds reservation to be rolled back, got %d", used)
	}
	if used := f.used(t, admission.DailyExports); used != 5 {
		t.Errorf("Expected daily_exports untouched at 5, got %d", used)
	}
}

func TestGuard_MostRestrictiveAllow(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"serp.fetch": {Quotas: []admission.QuotaKind{admission.MonthlySerpCalls, admission.DailySerpCalls}},
	})

	v := f.guard.Admit(context.Background(), testCaller, "serp.fetch")
	if !v.Allowed {
		t.Fatalf("Expected allow, got %+v", v)
	}
	// rate 99, monthly 999, daily 49.
	if v.Remaining != 49 {
		t.Errorf("Expected remaining 49, got %d", v.Remaining)
	}
	if v.QuotaKind != admission.DailySerpCalls {
		t.Errorf("Expected tightest kind daily_serp_calls, got %q", v.QuotaKind)
	}
	if v.Limit != 50 {
		t.Errorf("Expected limit 50, got %d", v.Limit)
	}
	if v.Reservation != nil {
		t.Error("Expected merged verdict to carry no reservation")
	}
}

func TestGuard_UnknownOperationIsRateLimitedOnly(t *testing.T) {
	f := newFixture(t, nil)

	v := f.guard.Admit(context.Background(), testCaller, "mystery.op")
	if !v.Allowed || v.Limit != 100 || v.Remaining != 99 {
		t.Errorf("Expected default rate rule verdict, got %+v", v)
	}
	if len(f.observer.checks) != 1 {
		t.Errorf("Expected only the rate check, got %v", f.observer.checks)
	}
}

func TestGuard_AdmitAmount(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"keywords.import": {Quotas: []admission.QuotaKind{admission.MaxKeywords}},
	})
	ctx := context.Background()

	v := f.guard.AdmitAmount(ctx, testCaller, "keywords.import", 600)
	if !v.Allowed {
		t.Fatalf("Expected allow, got %+v", v)
	}
	if v.Remaining != 99 {
		// Rate remaining (99) is tighter than max_keywords (400).
		t.Errorf("Expected remaining 99, got %d", v.Remaining)
	}

	v = f.guard.AdmitAmount(ctx, testCaller, "keywords.import", 500)
	if v.Allowed {
		t.Fatal("Expected import past the ceiling to be denied")
	}
	if v.Remaining != 400 {
		t.Errorf("Expected remaining 400, got %d", v.Remaining)
	}
	if used := f.used(t, admission.MaxKeywords); used != 600 {
		t.Errorf("Expected 600 keywords used, got %d", used)
	}
}

func TestGuard_DegradedIsDistinctFromDenied(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"seeds.create": {Quotas: []admission.QuotaKind{admission.DailySeeds}},
	})
	f.store.SetHealthy(false)

	v := f.guard.Admit(context.Background(), testCaller, "seeds.create")
	if !v.Allowed || !v.Degraded {
		t.Fatalf("Expected degraded allow, got %+v", v)
	}
	if v.Outcome() != admission.OutcomeDegraded {
		t.Errorf("Expected outcome degraded, got %q", v.Outcome())
	}
	if got := f.observer.decisions; len(got) != 1 || got[0] != admission.OutcomeDegraded {
		t.Errorf("Expected one degraded decision, got %v", got)
	}
}

func TestGuard_RecordsDecisions(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"seeds.create": {Endpoint: "seeds", Quotas: []admission.QuotaKind{admission.DailySeeds}},
	})

	f.guard.Admit(context.Background(), testCaller, "seeds.create")

	if len(f.recorder.decisions) != 1 {
		t.Fatalf("Expected 1 recorded decision, got %d", len(f.recorder.decisions))
	}
	d := f.recorder.decisions[0]
	if d.Operation != "seeds.create" || d.Caller.Endpoint != "seeds" || d.Amount != 1 {
		t.Errorf("Unexpected decision %+v", d)
	}
	if d.At.IsZero() {
		t.Error("Expected decision timestamp")
	}
}

func TestNew_Validation(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	limiter, _ := ratelimit.NewLimiter(ratelimit.Config{
		Store:   s,
		Default: ratelimit.Rule{Window: time.Second, MaxRequests: 1},
	})

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no limiter", Config{}, admission.ErrConfigInvalid},
		{"quotas without tracker", Config{
			Limiter:    limiter,
			Operations: map[string]Operation{"x": {Quotas: []admission.QuotaKind{admission.DailySeeds}}},
		}, admission.ErrConfigInvalid},
		{"unknown kind", Config{
			Limiter:    limiter,
			Operations: map[string]Operation{"x": {Quotas: []admission.QuotaKind{"daily_widgets"}}},
		}, admission.ErrUnknownQuotaKind},
		{"bad rule", Config{
			Limiter:    limiter,
			Operations: map[string]Operation{"x": {Rules: []ratelimit.Rule{{}}}},
		}, admission.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMostRestrictive(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	got := mostRestrictive([]admission.Verdict{
		{Allowed: true, Remaining: 5, ResetAt: now.Add(time.Minute)},
		{Allowed: true, Remaining: 5, QuotaKind: admission.MaxBriefs},
		{Allowed: true, Remaining: 5, ResetAt: now.Add(time.Second), QuotaKind: admission.DailySeeds},
		{Allowed: true, Remaining: admission.FailOpenRemaining, Degraded: true},
	})

	if got.QuotaKind != admission.DailySeeds {
		t.Errorf("Expected earliest reset to win the tie, got %q", got.QuotaKind)
	}
	if !got.Degraded {
		t.Error("Expected degraded flag to carry over")
	}
}

func TestMostRestrictive_CarriesReasons(t *testing.T) {
	got := mostRestrictive([]admission.Verdict{
		{Allowed: true, Remaining: 3},
		admission.FailOpen(admission.MechanismQuota, "redis down"),
		admission.Unmetered("no ceiling for daily_widgets"),
	})

	if got.Remaining != 3 {
		t.Errorf("Expected remaining 3, got %d", got.Remaining)
	}
	if !got.Degraded || !got.Unmetered {
		t.Errorf("Expected degraded and unmetered flags, got %+v", got)
	}
	for _, want := range []string{"redis down", "no ceiling for daily_widgets"} {
		if !strings.Contains(got.Reason, want) {
			t.Errorf("Expected reason to contain %q, got %q", want, got.Reason)
		}
	}
}

func TestGuard_LayeredOperationRules(t *testing.T) {
	f := newFixture(t, map[string]Operation{
		"serp.fetch": {
			Rules: []ratelimit.Rule{
				{Window: time.Minute, MaxRequests: 5},
				{Window: time.Hour, MaxRequests: 2},
			},
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v := f.guard.Admit(ctx, testCaller, "serp.fetch")
		if !v.Allowed {
			t.Fatalf("Expected admission %d to be allowed, got %+v", i+1, v)
		}
		if v.Limit != 2 {
			t.Errorf("Expected the hourly limit to be reported, got %d", v.Limit)
		}
	}

	v := f.guard.Admit(ctx, testCaller, "serp.fetch")
	if v.Allowed {
		t.Fatal("Expected hourly window to deny")
	}
	if v.DeniedBy != admission.MechanismRate || v.Limit != 2 {
		t.Errorf("Expected rate denial with limit 2, got %q/%d", v.DeniedBy, v.Limit)
	}
}

// hangingStore never answers before ctx is done.
type hangingStore struct {
	store.Store
}

func (hangingStore) SlidingWindow(ctx context.Context, key string, now time.Time, limits []store.WindowLimit, member string) (store.WindowResult, error) {
	<-ctx.Done()
	return store.WindowResult{}, ctx.Err()
}

func (hangingStore) Reserve(ctx context.Context, key string, amount, ceiling int64, expireAt time.Time) (store.CounterResult, error) {
	<-ctx.Done()
	return store.CounterResult{}, ctx.Err()
}

func TestGuard_FailOpenWithinTimeout(t *testing.T) {
	const timeout = 20 * time.Millisecond

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:   hangingStore{},
		Default: ratelimit.Rule{Window: time.Minute, MaxRequests: 10},
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	holder, err := plan.NewHolder(&plan.Snapshot{
		Catalog:  plan.DefaultCatalog(),
		Resolver: plan.NewStaticResolver([]plan.Subscription{{TenantID: "acme", Tier: plan.TierFree}}, ""),
	})
	if err != nil {
		t.Fatalf("NewHolder failed: %v", err)
	}
	tracker, err := quota.NewTracker(quota.Config{Store: hangingStore{}, Plans: holder, Timeout: timeout})
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	g, err := New(Config{
		Limiter: limiter,
		Tracker: tracker,
		Operations: map[string]Operation{
			"serp.fetch": {Quotas: []admission.QuotaKind{admission.DailySerpCalls, admission.MonthlySerpCalls}},
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	v := g.Admit(context.Background(), testCaller, "serp.fetch")
	elapsed := time.Since(start)

	if !v.Allowed || !v.Degraded {
		t.Errorf("Expected degraded allow, got %+v", v)
	}
	if v.Reason == "" {
		t.Error("Expected a degradation reason")
	}
	if elapsed > time.Second {
		t.Errorf("Expected admission to return near the timeouts, took %v", elapsed)
	}
}
