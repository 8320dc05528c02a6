// Package ratelimit paces outbound requests so sessions stay under the
// request budget the remote service tolerates.
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Suitable for burst traffic followed by quiet periods
//   - Default strategy
//
// Sliding Window:
//   - Tracks requests within a moving time window
//   - Smoother pacing for consistent request patterns
//
// All limiters implement Limiter. Wait blocks until a request is allowed or
// the context is done:
//
//	limiter, err := ratelimit.New(cfg.RateLimit.Strategy, cfg.RateLimit.RequestsPerMinute)
//	if err != nil {
//	    return err
//	}
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
