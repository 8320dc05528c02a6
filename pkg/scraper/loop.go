package scraper

import (
	"context"
	"errors"
	"fmt"

	"igfollowers/internal/worker"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
)

// jobRun is the state one job loop keeps between pages. It is owned by
// the loop goroutine and never shared.
type jobRun struct {
	jobID     uint
	accountID uint
	target    string
	max       int

	session   string
	cursor    string
	collected int
	transient int
	batch     []models.Follower

	results chan worker.Result
}

func newJobRun(job *models.Job, username string, results chan worker.Result) *jobRun {
	return &jobRun{
		jobID:     job.ID,
		accountID: job.AccountID,
		target:    job.TargetUsername,
		max:       job.MaxFollowers,
		session:   username,
		cursor:    job.LastCursor,
		collected: job.FollowersScraped,
		results:   results,
	}
}

func (m *Manager) jobLogger(r *jobRun) logger.Logger {
	return m.logger.WithFields(map[string]interface{}{
		"job_id": r.jobID,
		"target": r.target,
	})
}

// run is the follower loop of one job
func (m *Manager) run(ctx context.Context, r *jobRun) {
	log := m.jobLogger(r)
	defer m.loops.Done()
	defer m.finish(r.jobID)
	defer func() {
		if p := recover(); p != nil {
			log.ErrorWithFields("Recovered from panic in job loop", map[string]interface{}{
				"panic": fmt.Sprint(p),
			})
			m.recordError(context.WithoutCancel(ctx), r, fmt.Sprintf("panic: %v", p))
		}
	}()

	log.InfoWithFields("Job loop started", map[string]interface{}{
		"cursor":    r.cursor,
		"collected": r.collected,
		"max":       r.max,
	})

	for {
		if ctx.Err() != nil {
			log.Info("Job loop cancelled")
			return
		}
		running, err := m.isRunning(ctx, r.jobID)
		if err != nil {
			log.WithError(err).Error("Failed to read job status")
			return
		}
		if !running {
			log.Info("Job is no longer running, exiting loop")
			return
		}

		page, out := m.fetchPage(ctx, r)
		switch out {
		case outcomeStop, outcomeFail:
			return
		case outcomeRetry, outcomeSkip:
			continue
		}

		if !m.processPage(ctx, r, page) {
			return
		}

		capped := r.collected >= r.max
		if capped || page.Exhausted() {
			if m.enqueue(ctx, r, true) {
				log.InfoWithFields("Follower collection finished", map[string]interface{}{
					"collected": r.collected,
					"capped":    capped,
				})
			}
			return
		}

		// batches close on page boundaries, so a batch cursor covers every
		// follower collected before it
		r.cursor = page.NextCursor
		if len(r.batch) >= m.opts.BatchSize {
			if !m.enqueue(ctx, r, false) {
				return
			}
			if err := m.wait(ctx, m.opts.BatchDelay); err != nil {
				return
			}
		}
	}
}

func (m *Manager) isRunning(ctx context.Context, jobID uint) (bool, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == models.StatusRunning, nil
}

// fetchPage hands the next page to the worker pool and waits for its result
func (m *Manager) fetchPage(ctx context.Context, r *jobRun) (*source.Page, outcome) {
	seq := m.seq.Add(1)
	task := worker.Task{JobID: r.jobID, Seq: seq, Target: r.target, Cursor: r.cursor}
	if err := m.pool.Submit(ctx, task); err != nil {
		if !errors.Is(err, worker.ErrPoolStopped) && ctx.Err() == nil {
			m.jobLogger(r).WithError(err).Error("Failed to submit page task")
		}
		return nil, outcomeStop
	}

	for {
		select {
		case res := <-r.results:
			if res.Task.Seq != seq {
				continue
			}
			out := m.handleOutcome(ctx, r, res.Session, res.Err, false)
			if out != outcomeOK {
				return nil, out
			}
			r.session = res.Session
			return res.Page, outcomeOK
		case <-ctx.Done():
			return nil, outcomeStop
		}
	}
}

// processPage fetches details for the page's followers and appends them to
// the pending batch.
// It returns false when the loop must exit.
func (m *Manager) processPage(ctx context.Context, r *jobRun, page *source.Page) bool {
	for _, ref := range page.Followers {
		if r.collected >= r.max {
			return true
		}

		profile, out := m.fetchDetail(ctx, r, ref)
		switch out {
		case outcomeStop, outcomeFail:
			return false
		case outcomeSkip:
			continue
		}

		r.batch = append(r.batch, followerFromProfile(r.accountID, r.jobID, ref, profile))
		r.collected++
	}
	return true
}

func (m *Manager) fetchDetail(ctx context.Context, r *jobRun, ref source.FollowerRef) (*source.Profile, outcome) {
	for attempt := 1; attempt <= m.opts.DetailAttempts; attempt++ {
		sess, err := m.jobSession(ctx, r)
		if err != nil {
			if out := m.noSession(ctx, r, err); out == outcomeStop || out == outcomeFail {
				return nil, out
			}
			continue
		}

		profile, err := sess.Client.FollowerDetail(ctx, ref)
		switch out := m.handleOutcome(ctx, r, sess.Username, err, true); out {
		case outcomeOK:
			return profile, outcomeOK
		case outcomeRetry:
			continue
		default:
			return nil, out
		}
	}

	m.jobLogger(r).WarnWithFields("Giving up on follower", map[string]interface{}{
		"follower": ref.Username,
		"attempts": m.opts.DetailAttempts,
	})
	return nil, outcomeSkip
}

// jobSession returns the session that served the current page while it
// passes the validity check, otherwise a freshly acquired one.
func (m *Manager) jobSession(ctx context.Context, r *jobRun) (*session.Session, error) {
	if r.session != "" && m.sessions.IsValid(ctx, r.session) {
		if sess, ok := m.sessions.Get(r.session); ok {
			return sess, nil
		}
	}

	sess, err := m.acquireSession(ctx)
	if err != nil {
		return nil, err
	}
	r.session = sess.Username
	return sess, nil
}

// acquireSession returns the best cached session or creates one with the
// configured login on its bound proxy, or the next proxy.
func (m *Manager) acquireSession(ctx context.Context) (*session.Session, error) {
	if sess, ok := m.sessions.BestSession(ctx); ok {
		return sess, nil
	}
	if m.credentials.Username == "" || m.credentials.Password == "" {
		return nil, ErrNoCredentials
	}

	proxyURL := m.loginProxy
	if proxyURL == "" && m.proxies != nil {
		proxyURL, _ = m.proxies.Next()
	}
	return m.sessions.CreateSession(ctx, m.credentials.Username, m.credentials.Password, proxyURL)
}
