package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"igfollowers/pkg/logger"
	"igfollowers/pkg/ratelimit"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
	"igfollowers/pkg/source/sourcetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu         sync.Mutex
	sess       *session.Session
	challenges map[string]int
}

func (f *fakeSessions) BestSession(context.Context) (*session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.sess != nil
}

func (f *fakeSessions) IncrementChallenge(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenges == nil {
		f.challenges = make(map[string]int)
	}
	f.challenges[username]++
}

func (f *fakeSessions) challengeCount(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenges[username]
}

func newFakeSessions(t *testing.T, fake *sourcetest.Fake) *fakeSessions {
	t.Helper()
	client, err := fake.Authenticate(context.Background(), source.Credentials{Username: "scraper"}, "")
	require.NoError(t, err)
	return &fakeSessions{sess: &session.Session{Username: "scraper", Client: client}}
}

func collect(t *testing.T, results <-chan Result, n int) []Result {
	t.Helper()
	out := make([]Result, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case r, ok := <-results:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

func TestPoolFetchesPages(t *testing.T) {
	fake := sourcetest.New()
	fake.PageSize = 10
	fake.AddTarget("target", 50)

	pool := NewPool(3, newFakeSessions(t, fake), nil, logger.NewNopLogger())
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 5; i++ {
		cursor := ""
		if i > 0 {
			cursor = strconv.Itoa(i * 10)
		}
		require.NoError(t, pool.Submit(context.Background(), Task{JobID: 1, Seq: uint64(i), Target: "target", Cursor: cursor}))
	}

	results := collect(t, pool.Results(), 5)
	require.Len(t, results, 5)

	seen := make(map[uint64]bool)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, "scraper", r.Session)
		assert.Len(t, r.Page.Followers, 10)
		seen[r.Task.Seq] = true
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 5, fake.Calls().Pages)
}

func TestPoolReportsNoSession(t *testing.T) {
	pool := NewPool(1, &fakeSessions{}, nil, logger.NewNopLogger())
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), Task{JobID: 1, Target: "target"}))
	results := collect(t, pool.Results(), 1)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrNoSession)
	assert.Empty(t, results[0].Session)
}

func TestPoolFailureCountsChallenge(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	fake.PageErr = func(int, string, string) error { return errors.New("feedback_required") }

	sessions := newFakeSessions(t, fake)
	pool := NewPool(1, sessions, nil, logger.NewNopLogger())
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), Task{JobID: 1, Target: "target"}))
	results := collect(t, pool.Results(), 1)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Nil(t, results[0].Page)
	assert.Equal(t, 1, sessions.challengeCount("scraper"))
	// workers never retry
	assert.Equal(t, 1, fake.Calls().Pages)
}

func TestPoolStopDrainsQueuedTasks(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)

	pool := NewPool(2, newFakeSessions(t, fake), nil, logger.NewNopLogger())
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{JobID: 1, Seq: uint64(i), Target: "target"}))
	}
	pool.Start()
	go pool.Stop()

	var results []Result
	for r := range pool.Results() {
		results = append(results, r)
	}
	assert.Len(t, results, 4)
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, &fakeSessions{}, nil, logger.NewNopLogger())
	pool.Start()
	pool.Stop()

	err := pool.Submit(context.Background(), Task{JobID: 1})
	assert.ErrorIs(t, err, ErrPoolStopped)

	// stopping twice is harmless
	pool.Stop()
}

func TestSubmitRespectsContext(t *testing.T) {
	pool := NewPool(1, &fakeSessions{}, nil, logger.NewNopLogger())
	defer pool.Stop()

	// queue holds 2x workers; nothing consumes before Start
	require.NoError(t, pool.Submit(context.Background(), Task{Seq: 1}))
	require.NoError(t, pool.Submit(context.Background(), Task{Seq: 2}))
	assert.Equal(t, 2, pool.QueueSize())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Submit(ctx, Task{Seq: 3}), context.Canceled)
}

func TestPoolUsesLimiter(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)

	limiter := ratelimit.NewTokenBucket(1, 150*time.Millisecond)
	pool := NewPool(2, newFakeSessions(t, fake), limiter, logger.NewNopLogger())
	pool.Start()
	defer pool.Stop()

	start := time.Now()
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{JobID: 1, Seq: uint64(i), Target: "target"}))
	}
	results := collect(t, pool.Results(), 2)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
