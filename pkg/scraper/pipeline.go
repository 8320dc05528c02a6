package scraper

import (
	"context"

	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/retry"
)

// Batch is a group of followers collected by one job. Cursor is where the
// follower stream continues after the batch; it is persisted once the
// batch is committed. Final marks the last batch of a job whose stream was
// exhausted or whose cap was reached.
type Batch struct {
	JobID     uint
	AccountID uint
	Followers []models.Follower
	Cursor    string
	Final     bool
}

func (m *Manager) enqueue(ctx context.Context, r *jobRun, final bool) bool {
	b := Batch{
		JobID:     r.jobID,
		AccountID: r.accountID,
		Followers: r.batch,
		Cursor:    r.cursor,
		Final:     final,
	}
	select {
	case m.batches <- b:
		r.batch = nil
		m.jobLogger(r).DebugWithFields("Batch queued", map[string]interface{}{
			"followers": len(b.Followers),
			"final":     final,
			"queued":    len(m.batches),
		})
		return true
	case <-ctx.Done():
		return false
	}
}

// QueuedBatches returns the number of batches waiting to be committed
func (m *Manager) QueuedBatches() int {
	return len(m.batches)
}

// ProcessResults commits every batch queued right now and returns how
// many it committed. It never waits for new batches.
func (m *Manager) ProcessResults(ctx context.Context) int {
	n := 0
	for {
		select {
		case b := <-m.batches:
			m.commit(ctx, b)
			n++
		default:
			return n
		}
	}
}

// RunConsumer commits batches as they arrive until ctx is done, then
// commits whatever is still queued.
func (m *Manager) RunConsumer(ctx context.Context) {
	logger.LogComponentStart(m.logger, "result_consumer", nil)
	for {
		select {
		case b := <-m.batches:
			m.commit(ctx, b)
		case <-ctx.Done():
			drained := m.ProcessResults(context.WithoutCancel(ctx))
			logger.LogComponentStop(m.logger, "result_consumer", ctx.Err().Error())
			if drained > 0 {
				m.logger.WithField("batches", drained).Info("Committed remaining batches")
			}
			return
		}
	}
}

// commit upserts a batch, advances the job counter and the persisted
// cursor, and completes the job once it reached its cap or its stream ended. Batches for jobs that are
// no longer running are discarded.
func (m *Manager) commit(ctx context.Context, b Batch) {
	log := m.logger.WithFields(map[string]interface{}{
		"job_id":    b.JobID,
		"followers": len(b.Followers),
	})

	job, err := m.store.GetJob(ctx, b.JobID)
	if err != nil {
		log.WithError(err).Error("Failed to load job for batch")
		return
	}
	if job.Status != models.StatusRunning {
		log.WithField("status", string(job.Status)).Info("Discarding batch for job that is not running")
		return
	}

	saved := 0
	for i := range b.Followers {
		f := b.Followers[i]
		err := retry.Do(ctx, func(ctx context.Context) error {
			return m.store.UpsertFollower(ctx, &f)
		}, m.upsert)
		if err != nil {
			log.WithError(err).WithField("follower", f.Username).Error("Failed to save follower")
			continue
		}
		saved++
	}

	total := job.FollowersScraped
	if saved > 0 {
		total, err = m.store.IncrementFollowersScraped(ctx, b.JobID, saved)
		if err != nil {
			log.WithError(err).Error("Failed to update followers scraped")
			return
		}
	}
	logger.LogScrapeProgress(m.logger, b.JobID, job.TargetUsername, total, job.MaxFollowers)

	if total < job.MaxFollowers && !b.Final {
		if b.Cursor != "" && b.Cursor != job.LastCursor && saved == len(b.Followers) {
			if err := m.store.UpdateJobCursor(ctx, b.JobID, b.Cursor); err != nil {
				log.WithError(err).Warn("Failed to persist job cursor")
			}
		}
		return
	}
	ok, err := m.store.TransitionJob(ctx, b.JobID, models.StatusRunning, models.StatusCompleted)
	switch {
	case err != nil:
		log.WithError(err).Error("Failed to complete job")
	case ok:
		log.InfoWithFields("Job completed", map[string]interface{}{
			"followers_scraped": total,
			"max_followers":     job.MaxFollowers,
			"exhausted":         total < job.MaxFollowers,
		})
	}
}
