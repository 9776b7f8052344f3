// Package guard composes the rate limiter and the quota tracker behind one
// call made before every protected operation.
//
//	g, err := guard.New(guard.Config{
//	    Limiter: limiter,
//	    Tracker: tracker,
//	    Operations: map[string]guard.Operation{
//	        "seeds.create": {Quotas: []admission.QuotaKind{admission.DailySeeds}},
//	        "serp.fetch": {Quotas: []admission.QuotaKind{
//	            admission.MonthlySerpCalls, admission.DailySerpCalls,
//	        }},
//	    },
//	})
//	v := g.Admit(ctx, caller, "seeds.create")
//	if !v.Allowed {
//	    return v.Err()
//	}
//
// Denials are verdicts, not errors. Store failures surface as allowed
// verdicts with Degraded set, which Observer implementations count
// separately from denials.
package guard
