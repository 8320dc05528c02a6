// Package retry provides backoff and retry logic for transient failures.
//
// Errors classified by igfollowers/pkg/errors drive the default predicate:
// transient network failures and rate limits are retried, authentication,
// challenge and not-found errors are returned at once. Unclassified errors
// (a dropped database connection, say) are retried until attempts run out.
//
//	cfg := &retry.Config{
//		MaxAttempts: 5,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    time.Second,
//			MaxDelay:     30 * time.Second,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//		Logger: log,
//	}
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return store.UpsertFollower(ctx, f)
//	}, cfg)
//
// Wait is the context-aware sleep used for cooldowns and inter-request delays.
package retry
