package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"igfollowers/pkg/models"
)

type followerKey struct {
	accountID uint
	username  string
}

// Memory is a Storage kept in process memory. Reads return copies.
type Memory struct {
	mu sync.RWMutex

	accounts   map[uint]*models.Account
	byUsername map[string]uint
	jobs       map[uint]*models.Job
	followers  map[followerKey]*models.Follower

	nextAccountID  uint
	nextJobID      uint
	nextFollowerID uint

	now func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[uint]*models.Account),
		byUsername: make(map[string]uint),
		jobs:       make(map[uint]*models.Job),
		followers:  make(map[followerKey]*models.Follower),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) UpsertAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.Username == "" {
		return nil, fmt.Errorf("account username is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if id, ok := m.byUsername[account.Username]; ok {
		existing := m.accounts[id]
		updated := *account
		updated.ID = id
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		m.accounts[id] = &updated
		cp := updated
		return &cp, nil
	}

	m.nextAccountID++
	created := *account
	created.ID = m.nextAccountID
	created.CreatedAt = now
	created.UpdatedAt = now
	m.accounts[created.ID] = &created
	m.byUsername[created.Username] = created.ID
	cp := created
	return &cp, nil
}

func (m *Memory) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *Memory) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if !job.Status.Valid() {
		return nil, fmt.Errorf("invalid job status %q", job.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[job.AccountID]; !ok {
		return nil, fmt.Errorf("account %d: %w", job.AccountID, ErrNotFound)
	}

	now := m.now()
	m.nextJobID++
	created := *job
	created.ID = m.nextJobID
	created.CreatedAt = now
	created.UpdatedAt = now
	m.jobs[created.ID] = &created
	cp := created
	return &cp, nil
}

func (m *Memory) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (m *Memory) ListJobs(ctx context.Context, status models.Status) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *Memory) updateJob(id uint, fn func(j *models.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(j)
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UpdateJobCursor(ctx context.Context, id uint, cursor string) error {
	return m.updateJob(id, func(j *models.Job) { j.LastCursor = cursor })
}

func (m *Memory) RecordJobError(ctx context.Context, id uint, msg string) (int, error) {
	var count int
	err := m.updateJob(id, func(j *models.Job) {
		j.ErrorCount++
		j.LastError = msg
		count = j.ErrorCount
	})
	return count, err
}

func (m *Memory) IncrementFollowersScraped(ctx context.Context, id uint, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("followers scraped cannot decrease (n=%d)", n)
	}
	var total int
	err := m.updateJob(id, func(j *models.Job) {
		j.FollowersScraped += n
		total = j.FollowersScraped
	})
	return total, err
}

func (m *Memory) TransitionJob(ctx context.Context, id uint, from, to models.Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status != from {
		return false, nil
	}

	now := m.now()
	j.Status = to
	j.UpdatedAt = now
	if to.Terminal() {
		j.CompletedAt = &now
	}
	return true, nil
}

func (m *Memory) UpsertFollower(ctx context.Context, follower *models.Follower) error {
	if follower.Username == "" {
		return fmt.Errorf("follower username is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[follower.AccountID]; !ok {
		return fmt.Errorf("account %d: %w", follower.AccountID, ErrNotFound)
	}

	now := m.now()
	key := followerKey{accountID: follower.AccountID, username: follower.Username}
	row := *follower
	if existing, ok := m.followers[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		m.nextFollowerID++
		row.ID = m.nextFollowerID
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.followers[key] = &row
	return nil
}

func (m *Memory) ListFollowers(ctx context.Context, accountID uint, limit, offset int) ([]*models.Follower, error) {
	m.mu.RLock()
	out := make([]*models.Follower, 0)
	for key, f := range m.followers {
		if key.accountID == accountID {
			cp := *f
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })

	if offset > 0 {
		if offset >= len(out) {
			return []*models.Follower{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountFollowers(ctx context.Context, accountID uint) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for key := range m.followers {
		if key.accountID == accountID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

func copyJob(j *models.Job) *models.Job {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
