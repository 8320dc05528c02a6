package scraper

import (
	"context"
	"errors"
	"fmt"

	"igfollowers/internal/worker"
	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
)

// outcome tells a loop what to do after an external call
type outcome int

const (
	outcomeOK outcome = iota
	// outcomeRetry repeats the same call
	outcomeRetry
	// outcomeSkip drops the current follower and moves on
	outcomeSkip
	// outcomeFail means the job was marked failed
	outcomeFail
	// outcomeStop means the loop was cancelled
	outcomeStop
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	case outcomeSkip:
		return "skip"
	case outcomeFail:
		return "fail"
	case outcomeStop:
		return "stop"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// handleOutcome applies the rate-limit policy after a call made with the
// named session, whether or not it failed. item is true for per-follower
// calls, whose unclassified failures skip the follower instead of retrying.
func (m *Manager) handleOutcome(ctx context.Context, r *jobRun, username string, err error, item bool) outcome {
	out := m.classify(ctx, r, username, err, item)

	if username != "" {
		m.sessions.IncrementRequest(username)
		if perr := m.sessions.Persist(ctx, username); perr != nil && ctx.Err() == nil {
			m.logger.WithError(perr).WithField("session", username).Warn("Failed to persist session health")
		}
	}

	if out == outcomeStop || out == outcomeFail {
		return out
	}
	if werr := m.wait(ctx, m.opts.RequestDelay); werr != nil {
		return outcomeStop
	}
	return out
}

func (m *Manager) classify(ctx context.Context, r *jobRun, username string, err error, item bool) outcome {
	if err == nil {
		r.transient = 0
		return outcomeOK
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return outcomeStop
	}
	if errors.Is(err, worker.ErrNoSession) {
		r.session = ""
		if out := m.noSession(ctx, r, err); out != outcomeOK {
			return out
		}
		return outcomeRetry
	}

	kind := errs.KindOf(err)
	log := m.jobLogger(r).WithError(err).WithFields(map[string]interface{}{
		"session": username,
		"kind":    string(kind),
	})

	switch kind {
	case errs.KindChallengeRequired, errs.KindLoginRequired:
		log.Warn("Session needs to log in again")
		m.relogin(ctx, r, username)
		return outcomeRetry

	case errs.KindRateLimited:
		logger.LogRateLimit(m.logger, username, m.opts.RateLimitCooldown)
		if werr := m.wait(ctx, m.opts.RateLimitCooldown); werr != nil {
			return outcomeStop
		}
		m.logger.Info("Rate limit cooldown completed, resuming")
		return outcomeRetry

	case errs.KindTransientNetwork:
		r.transient++
		log.WithField("consecutive", r.transient).Warn("Transient network error")
		if r.transient >= m.opts.TransientLimit {
			r.transient = 0
			if m.recordError(ctx, r, err.Error()) == outcomeFail {
				return outcomeFail
			}
		}
		if item {
			return outcomeSkip
		}
		return outcomeRetry

	case errs.KindNotFound:
		if item {
			log.Warn("Follower profile not found, skipping")
			return outcomeSkip
		}
		log.Error("Target not found")
		m.fail(ctx, r, err.Error())
		return outcomeFail

	case errs.KindAuthenticationFailed, errs.KindChallengeUnresolved:
		log.Error("Session can no longer authenticate")
		m.dropSession(r, username)
		if m.recordError(ctx, r, err.Error()) == outcomeFail {
			return outcomeFail
		}
		return outcomeRetry

	default:
		log.Error("Unclassified error")
		if m.recordError(ctx, r, err.Error()) == outcomeFail {
			return outcomeFail
		}
		if item {
			return outcomeSkip
		}
		return outcomeRetry
	}
}

// relogin re-authenticates the session in place. When that fails the
// session is invalidated so the next acquisition creates a fresh one.
func (m *Manager) relogin(ctx context.Context, r *jobRun, username string) {
	if username == "" {
		return
	}
	if err := m.sessions.Reauthenticate(ctx, username); err != nil {
		m.jobLogger(r).WithError(err).WithField("session", username).Warn("Re-authentication failed")
		m.sessions.IncrementChallenge(username)
		m.dropSession(r, username)
	}
}

func (m *Manager) dropSession(r *jobRun, username string) {
	if username == "" {
		return
	}
	m.sessions.Invalidate(username)
	if r.session == username {
		r.session = ""
	}
}

// noSession tries to make a session available again. Failing to do so is
// a job error.
func (m *Manager) noSession(ctx context.Context, r *jobRun, cause error) outcome {
	_, err := m.acquireSession(ctx)
	if err == nil {
		return outcomeOK
	}
	if ctx.Err() != nil {
		return outcomeStop
	}
	cause = fmt.Errorf("%w: %w", cause, err)

	if m.recordError(ctx, r, cause.Error()) == outcomeFail {
		return outcomeFail
	}
	if werr := m.wait(ctx, m.opts.RequestDelay); werr != nil {
		return outcomeStop
	}
	return outcomeRetry
}

// recordError adds a job error and fails the job once the count exceeds
// the ceiling. It returns outcomeFail in that case, outcomeOK otherwise.
func (m *Manager) recordError(ctx context.Context, r *jobRun, msg string) outcome {
	log := m.jobLogger(r)
	count, err := m.store.RecordJobError(ctx, r.jobID, msg)
	if err != nil {
		log.WithError(err).Error("Failed to record job error")
		return outcomeOK
	}

	log.WarnWithFields("Recorded job error", map[string]interface{}{
		"error_count": count,
		"max_errors":  m.opts.MaxErrors,
		"last_error":  msg,
	})
	if count > m.opts.MaxErrors {
		m.transitionFailed(ctx, r)
		return outcomeFail
	}
	return outcomeOK
}

// fail records msg and fails the job regardless of the error count
func (m *Manager) fail(ctx context.Context, r *jobRun, msg string) {
	if _, err := m.store.RecordJobError(ctx, r.jobID, msg); err != nil {
		m.jobLogger(r).WithError(err).Error("Failed to record job error")
	}
	m.transitionFailed(ctx, r)
}

func (m *Manager) transitionFailed(ctx context.Context, r *jobRun) {
	log := m.jobLogger(r)
	ok, err := m.store.TransitionJob(ctx, r.jobID, models.StatusRunning, models.StatusFailed)
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to mark job as failed")
	case ok:
		log.Error("Job failed")
	default:
		log.Debug("Job left running state before it could fail")
	}
}
