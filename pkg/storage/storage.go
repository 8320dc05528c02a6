package storage

import (
	"context"
	"errors"
	"fmt"

	"igfollowers/pkg/models"
)

var (
	// ErrNotFound is returned by point reads and updates of a missing row
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a requested status change is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Storage is the durable store for accounts, jobs and followers.
// Each call is its own unit of work; no call spans more than one row
// except the listing reads.
type Storage interface {
	// UpsertAccount inserts or updates the account keyed by username and
	// returns the stored row.
	UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error)
	GetAccount(ctx context.Context, id uint) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)

	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	GetJob(ctx context.Context, id uint) (*models.Job, error)
	// ListJobs returns jobs with the given status, or every job for "",
	// ordered by id.
	ListJobs(ctx context.Context, status models.Status) ([]*models.Job, error)
	UpdateJobCursor(ctx context.Context, id uint, cursor string) error
	// RecordJobError increments the error count, stores msg as the last
	// error and returns the new count.
	RecordJobError(ctx context.Context, id uint, msg string) (int, error)
	// IncrementFollowersScraped adds n and returns the new total
	IncrementFollowersScraped(ctx context.Context, id uint, n int) (int, error)
	// TransitionJob moves the job from one status to another only if it is
	// currently in from. It reports whether the change was applied and
	// stamps the completion time on entering a terminal status.
	TransitionJob(ctx context.Context, id uint, from, to models.Status) (bool, error)

	// UpsertFollower inserts or updates the follower keyed by (account, username)
	UpsertFollower(ctx context.Context, follower *models.Follower) error
	ListFollowers(ctx context.Context, accountID uint, limit, offset int) ([]*models.Follower, error)
	CountFollowers(ctx context.Context, accountID uint) (int64, error)

	Close() error
}

// AccountStats summarizes what has been collected for an account
func AccountStats(ctx context.Context, s Storage, accountID uint) (*models.AccountStats, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	total, err := s.CountFollowers(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}

	jobs, err := s.ListJobs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	stats := &models.AccountStats{Account: *account, TotalFollowers: total}
	for _, job := range jobs {
		if job.AccountID != accountID {
			continue
		}
		stats.TotalJobs++
		if stats.LastJob == nil || job.CreatedAt.After(stats.LastJob.CreatedAt) ||
			(job.CreatedAt.Equal(stats.LastJob.CreatedAt) && job.ID > stats.LastJob.ID) {
			stats.LastJob = job
		}
	}
	return stats, nil
}

func checkTransition(from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
