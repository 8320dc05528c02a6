// Package logger provides structured logging for the follower scraper.
//
// It wraps zerolog behind the Logger interface so components can take a
// logger as a dependency and tests can swap in NewTestLogger or NewNopLogger.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//
//	log := logger.GetLogger().
//	    WithField("component", "scraper").
//	    WithField("job_id", job.ID)
//
//	log.InfoWithFields("Batch committed", map[string]interface{}{
//	    "followers": len(batch.Followers),
//	})
//
// Configuration (config.LoggingConfig):
//   - Level: debug, info, warn, error
//   - Format: console (colorized) or json
//   - File: optional path; when set, output is written to both stdout and the file
package logger
