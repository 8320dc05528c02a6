// Package scraper orchestrates follower scraping jobs.
//
// A Manager ties together the session store, the proxy rotation, the
// worker pool and storage. It is the only component that keeps job-level
// state and applies the rate-limit policy.
//
// Architecture:
//
// StartScraping validates a session, upserts the target account, creates a
// running job and launches one loop per job. Each loop:
//   - checks the job is still running before every page
//   - submits the page fetch to the shared worker pool and waits for it
//   - fetches profile detail for every follower on the page
//   - batches followers and queues full batches for the result pipeline
//   - persists the cursor so a job can be resumed
//
// Rate limiting:
//
// After every external call the manager counts a request on the session,
// persists its health and sleeps the request delay. Challenges and expired
// logins trigger a re-login in place; a session that cannot log in again is
// invalidated and replaced. Rate limit responses sleep a cooldown.
//
// Result pipeline:
//
// Batches go through a bounded queue. RunConsumer commits them as they
// arrive; ProcessResults drains whatever is queued without blocking.
// Committing upserts followers, advances the job counter and completes the
// job once it reached its cap or its stream ended.
//
// Usage:
//
//	mgr, err := scraper.New(scraper.Dependencies{
//	    Store:    store,
//	    Sessions: sessions,
//	    Proxies:  proxies,
//	    Pool:     worker.NewPool(3, sessions, limiter, log),
//	    Credentials: source.Credentials{Username: "me", Password: "secret"},
//	}, scraper.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	go mgr.RunConsumer(ctx)
//	jobID, err := mgr.StartScraping(ctx, "target", 1000)
package scraper
