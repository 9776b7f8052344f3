// Package ratelimit implements a sliding-window rate limiter keyed by
// (tenant, user, endpoint).
//
// Each check trims timestamps older than the window, counts what is left and,
// if the count is below the rule's maximum, records the request. The three
// steps run as one atomic store operation so many processes can share the
// same keys without a lock.
//
// An endpoint may carry several windows over the same request log, such as a
// burst cap per minute and a larger cap per hour. A request is recorded only
// when every window has room; a denial reports the window that reopens last.
//
// Example:
//
//	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
//	    Store:   redisStore,
//	    Default: ratelimit.Rule{Window: time.Minute, MaxRequests: 60},
//	    Rules: map[string][]ratelimit.Rule{
//	        "serp.fetch": {
//	            {Window: time.Minute, MaxRequests: 10},
//	            {Window: time.Hour, MaxRequests: 200},
//	        },
//	    },
//	})
//	v := limiter.Check(ctx, caller, nil)
//
// When the store is unreachable the limiter fails open: the request is
// allowed, the verdict is marked Degraded and a warning is logged.
package ratelimit
