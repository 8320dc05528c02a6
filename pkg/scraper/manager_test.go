package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"igfollowers/internal/worker"
	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/proxy"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
	"igfollowers/pkg/source/sourcetest"
	"igfollowers/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mgr      *Manager
	store    *storage.Memory
	sessions *session.Store
	fake     *sourcetest.Fake
}

func newTestEnv(t *testing.T, fake *sourcetest.Fake, opts Options) *testEnv {
	t.Helper()
	return newTestEnvWithCredentials(t, fake, opts, source.Credentials{Username: "scraper", Password: "secret"})
}

func newTestEnvWithCredentials(t *testing.T, fake *sourcetest.Fake, opts Options, creds source.Credentials) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	mgr, sessions := newManager(t, store, fake, opts, creds)
	return &testEnv{mgr: mgr, store: store, sessions: sessions, fake: fake}
}

// newManager builds a manager with its own session store over store
func newManager(t *testing.T, store storage.Storage, fake *sourcetest.Fake, opts Options, creds source.Credentials) (*Manager, *session.Store) {
	t.Helper()
	log := logger.NewNopLogger()
	sessions := session.NewStore(fake, nil, session.Options{}, log)

	mgr, err := New(Dependencies{
		Store:       store,
		Sessions:    sessions,
		Proxies:     proxy.NewManager(0, log),
		Pool:        worker.NewPool(2, sessions, nil, log),
		Credentials: creds,
		Logger:      log,
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, sessions
}

func waitForLoop(t *testing.T, m *Manager, jobID uint) {
	t.Helper()
	require.Eventually(t, func() bool { return !m.IsActive(jobID) }, 5*time.Second, 5*time.Millisecond)
}

func getJob(t *testing.T, s storage.Storage, id uint) *models.Job {
	t.Helper()
	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func seedJob(t *testing.T, s storage.Storage, target string, status models.Status) *models.Job {
	t.Helper()
	ctx := context.Background()
	account, err := s.UpsertAccount(ctx, &models.Account{Username: target})
	require.NoError(t, err)
	job, err := s.CreateJob(ctx, &models.Job{
		TargetUsername: target,
		AccountID:      account.ID,
		Status:         status,
		MaxFollowers:   10,
	})
	require.NoError(t, err)
	return job
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Options{})
	assert.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 50, opts.BatchSize)
	assert.Equal(t, 3, opts.MaxErrors)
	assert.Equal(t, 3, opts.TransientLimit)
	assert.Equal(t, 3, opts.DetailAttempts)
	// delays stay as configured
	assert.Zero(t, opts.RequestDelay)
	assert.Zero(t, opts.RateLimitCooldown)
}

func TestScrapeCompletesAtMaxFollowers(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 5)
	require.NoError(t, err)
	require.NotZero(t, jobID)

	waitForLoop(t, env.mgr, jobID)
	assert.Equal(t, 1, env.mgr.ProcessResults(ctx))

	status, err := env.mgr.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 5, status.FollowersScraped)
	assert.Equal(t, 5, status.MaxFollowers)
	assert.Equal(t, "target", status.TargetUsername)
	assert.NotNil(t, status.CompletedAt)

	job := getJob(t, env.store, jobID)
	n, err := env.store.CountFollowers(ctx, job.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	account, err := env.store.GetAccount(ctx, job.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 5, account.FollowerCount)
	assert.Equal(t, "target Account", account.FullName)
}

func TestScrapeStopsCollectingAtCap(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 20)
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 7)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 7, job.FollowersScraped)
	assert.Equal(t, 7, fake.Calls().Details)
}

func TestChallengeDuringReloginRecovers(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		if n == 1 || n == 3 || n == 5 {
			return errs.New(errs.KindLoginRequired, 403, "login_required")
		}
		return nil
	}
	fake.LoginErr = func(n int, c *sourcetest.Client) error {
		if n == 2 {
			return &source.ChallengeError{Challenge: fake.NewChallenge(c), Message: "challenge_required"}
		}
		return nil
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 5)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 5, job.FollowersScraped)
	assert.Zero(t, job.ErrorCount)

	calls := fake.Calls()
	assert.Equal(t, 3, calls.Logins)
	assert.Equal(t, 1, calls.Confirms)
	assert.Equal(t, []string{"email"}, fake.SelectedMethods())

	health, ok := env.sessions.Health("scraper")
	require.True(t, ok)
	assert.False(t, health.Invalid)
}

func TestUnresolvedChallengeReplacesSession(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 3)
	fake.FailChallenge = true
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		if n == 1 {
			return errors.New("challenge_required")
		}
		return nil
	}
	fake.LoginErr = func(n int, c *sourcetest.Client) error {
		return &source.ChallengeError{Challenge: fake.NewChallenge(c)}
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 3)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.FollowersScraped)

	// creation at start plus the replacement after the failed re-login
	assert.Equal(t, 2, fake.Calls().Authenticate)
	health, ok := env.sessions.Health("scraper")
	require.True(t, ok)
	assert.False(t, health.Invalid)
}

func TestUnclassifiedErrorsFailJob(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 10)
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		if n <= 4 {
			return fmt.Errorf("unexpected response %d", n)
		}
		return nil
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 10)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	assert.Zero(t, env.mgr.ProcessResults(ctx))

	status, err := env.mgr.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.Greater(t, status.ErrorCount, 3)
	assert.Equal(t, "unexpected response 4", status.LastError)
	assert.NotNil(t, status.CompletedAt)
	assert.Equal(t, 4, fake.Calls().Details)
}

func TestItemErrorsAreSkipped(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 4)
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		switch ref.Username {
		case "target_follower_1":
			return errors.New("profile unavailable")
		case "target_follower_2":
			return errs.New(errs.KindNotFound, 404, "user not found")
		}
		return nil
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 10)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	// stream exhausted before the cap
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 2, job.FollowersScraped)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Equal(t, "profile unavailable", job.LastError)
}

func TestTransientErrorsCountAfterLimit(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 2)
	fake.PageErr = func(n int, target, cursor string) error {
		if n <= 3 {
			return errs.New(errs.KindTransientNetwork, 0, "connection reset by peer")
		}
		return nil
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 10)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 2, job.FollowersScraped)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Equal(t, 4, fake.Calls().Pages)
}

func TestBatchesAndCursor(t *testing.T) {
	fake := sourcetest.New()
	fake.PageSize = 3
	fake.AddTarget("target", 7)
	env := newTestEnv(t, fake, Options{BatchSize: 2})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 100)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)

	// one batch per full page and the final one
	assert.Equal(t, 3, env.mgr.QueuedBatches())
	assert.Equal(t, 3, env.mgr.ProcessResults(ctx))

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 7, job.FollowersScraped)
	assert.Equal(t, "6", job.LastCursor)
	assert.Equal(t, 3, fake.Calls().Pages)
}

func TestResumeFromPersistedCursor(t *testing.T) {
	fake := sourcetest.New()
	fake.PageSize = 2
	fake.AddTarget("target", 6)
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	job := seedJob(t, env.store, "target", models.StatusRunning)
	_, err := env.store.IncrementFollowersScraped(ctx, job.ID, 4)
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateJobCursor(ctx, job.ID, "4"))

	require.NoError(t, env.mgr.Resume(ctx, job.ID))
	waitForLoop(t, env.mgr, job.ID)
	env.mgr.ProcessResults(ctx)

	got := getJob(t, env.store, job.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 6, got.FollowersScraped)

	rows, err := env.store.ListFollowers(ctx, job.AccountID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "target_follower_4", rows[0].Username)
	assert.Equal(t, "target_follower_5", rows[1].Username)

	err = env.mgr.Resume(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotRunning)
}

func TestResumeAfterCloseKeepsUnbatchedFollowers(t *testing.T) {
	fake := sourcetest.New()
	fake.PageSize = 3
	fake.AddTarget("target", 7)
	reached := make(chan struct{})
	release := make(chan struct{})
	fake.PageErr = func(n int, target, cursor string) error {
		if n == 2 {
			close(reached)
			<-release
			return errs.New(errs.KindTransientNetwork, 0, "connection reset by peer")
		}
		return nil
	}
	env := newTestEnv(t, fake, Options{BatchSize: 10})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 100)
	require.NoError(t, err)
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("second page was never requested")
	}

	// page one sits in an unqueued batch while the manager shuts down
	closed := make(chan error, 1)
	go func() { closed <- env.mgr.Close() }()
	waitForLoop(t, env.mgr, jobID)
	close(release)
	require.NoError(t, <-closed)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusRunning, job.Status)
	assert.Zero(t, job.FollowersScraped)
	assert.Empty(t, job.LastCursor)

	mgr, _ := newManager(t, env.store, fake, Options{BatchSize: 10}, source.Credentials{Username: "scraper", Password: "secret"})
	require.NoError(t, mgr.Resume(ctx, jobID))
	waitForLoop(t, mgr, jobID)
	mgr.ProcessResults(ctx)

	job = getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 7, job.FollowersScraped)

	rows, err := env.store.ListFollowers(ctx, job.AccountID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 7)
}

func TestCursorAdvancesOnlyWithCommittedBatches(t *testing.T) {
	fake := sourcetest.New()
	fake.PageSize = 2
	fake.AddTarget("target", 5)
	env := newTestEnv(t, fake, Options{BatchSize: 3})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 100)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)

	// pages of two close a batch of four after the second page
	assert.Empty(t, getJob(t, env.store, jobID).LastCursor)
	require.Equal(t, 2, env.mgr.QueuedBatches())
	require.Equal(t, 2, env.mgr.ProcessResults(ctx))

	job := getJob(t, env.store, jobID)
	assert.Equal(t, "4", job.LastCursor)
	assert.Equal(t, 5, job.FollowersScraped)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestChallengeCeilingReplacesSessionBetweenDetails(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 3)
	env := newTestEnv(t, fake, Options{})
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		if n == 1 {
			for i := 0; i < session.DefaultMaxChallenges; i++ {
				env.sessions.IncrementChallenge("scraper")
			}
		}
		return nil
	}
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 3)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.FollowersScraped)

	// the session over the challenge ceiling is replaced before the next detail
	assert.Equal(t, 2, fake.Calls().Authenticate)
	health, ok := env.sessions.Health("scraper")
	require.True(t, ok)
	assert.Zero(t, health.Challenges)
}

func TestLoginProxyBindsCreatedSession(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 1)
	log := logger.NewNopLogger()
	store := storage.NewMemory()
	sessions := session.NewStore(fake, nil, session.Options{}, log)
	proxies := proxy.NewManager(0, log)
	proxies.Add("http://rotating:8080")

	mgr, err := New(Dependencies{
		Store:       store,
		Sessions:    sessions,
		Proxies:     proxies,
		Pool:        worker.NewPool(1, sessions, nil, log),
		Credentials: source.Credentials{Username: "scraper", Password: "secret"},
		LoginProxy:  "http://bound:8080",
		Logger:      log,
	}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	jobID, err := mgr.StartScraping(context.Background(), "target", 1)
	require.NoError(t, err)
	waitForLoop(t, mgr, jobID)

	health, ok := sessions.Health("scraper")
	require.True(t, ok)
	assert.Equal(t, "http://bound:8080", health.Proxy)
}

func TestFollowersPagesStoredRows(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 5)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)
	env.mgr.ProcessResults(ctx)

	page, err := env.mgr.Followers(ctx, jobID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, getJob(t, env.store, jobID).AccountID, page.AccountID)
	require.Len(t, page.Followers, 2)
	assert.Equal(t, "target_follower_1", page.Followers[0].Username)
	assert.Equal(t, "target_follower_2", page.Followers[1].Username)

	all, err := env.mgr.Followers(ctx, jobID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all.Followers, 5)

	_, err = env.mgr.Followers(ctx, 999, 10, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStopRunningJob(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	fake.PageErr = func(int, string, string) error {
		return errs.New(errs.KindRateLimited, 429, "Please wait a few minutes before you try again.")
	}
	env := newTestEnv(t, fake, Options{RateLimitCooldown: time.Hour})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fake.Calls().Pages >= 1 }, 5*time.Second, 5*time.Millisecond)

	ok, err := env.mgr.Stop(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
	waitForLoop(t, env.mgr, jobID)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusStopped, job.Status)
	assert.NotNil(t, job.CompletedAt)

	ok, err = env.mgr.Stop(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.StatusStopped, getJob(t, env.store, jobID).Status)
}

func TestStopNonRunningJob(t *testing.T) {
	env := newTestEnv(t, sourcetest.New(), Options{})
	ctx := context.Background()

	for _, status := range []models.Status{models.StatusCompleted, models.StatusFailed, models.StatusPending} {
		job := seedJob(t, env.store, "target_"+string(status), status)
		ok, err := env.mgr.Stop(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, status, getJob(t, env.store, job.ID).Status)
	}

	_, err := env.mgr.Stop(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStopAll(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("first", 5)
	fake.AddTarget("second", 5)
	fake.PageErr = func(int, string, string) error {
		return errs.New(errs.KindRateLimited, 429, "rate limit")
	}
	env := newTestEnv(t, fake, Options{RateLimitCooldown: time.Hour})
	ctx := context.Background()

	done := seedJob(t, env.store, "done", models.StatusCompleted)
	first, err := env.mgr.StartScraping(ctx, "first", 5)
	require.NoError(t, err)
	second, err := env.mgr.StartScraping(ctx, "second", 5)
	require.NoError(t, err)

	n, err := env.mgr.StopAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waitForLoop(t, env.mgr, first)
	waitForLoop(t, env.mgr, second)
	assert.Equal(t, models.StatusStopped, getJob(t, env.store, first).Status)
	assert.Equal(t, models.StatusStopped, getJob(t, env.store, second).Status)
	assert.Equal(t, models.StatusCompleted, getJob(t, env.store, done.ID).Status)

	running, err := env.mgr.ListJobs(ctx, models.StatusRunning)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestStartScrapingSetupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown target", func(t *testing.T) {
		env := newTestEnv(t, sourcetest.New(), Options{})
		id, err := env.mgr.StartScraping(ctx, "ghost", 5)
		assert.Error(t, err)
		assert.Zero(t, id)
		assert.True(t, errs.Is(err, errs.KindNotFound))

		jobs, err := env.store.ListJobs(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("no credentials", func(t *testing.T) {
		fake := sourcetest.New()
		fake.AddTarget("target", 1)
		env := newTestEnvWithCredentials(t, fake, Options{}, source.Credentials{})
		id, err := env.mgr.StartScraping(ctx, "target", 5)
		assert.ErrorIs(t, err, ErrNoCredentials)
		assert.Zero(t, id)
	})

	t.Run("bad password", func(t *testing.T) {
		fake := sourcetest.New()
		fake.AddTarget("target", 1)
		fake.Passwords = map[string]string{"scraper": "other"}
		env := newTestEnv(t, fake, Options{})
		_, err := env.mgr.StartScraping(ctx, "target", 5)
		assert.True(t, errs.Is(err, errs.KindAuthenticationFailed))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		env := newTestEnv(t, sourcetest.New(), Options{})
		_, err := env.mgr.StartScraping(ctx, "", 5)
		assert.Error(t, err)
		_, err = env.mgr.StartScraping(ctx, "target", 0)
		assert.Error(t, err)
	})
}

func TestRescrapeUpdatesFollowersInPlace(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	var accountID uint
	for i := 0; i < 2; i++ {
		jobID, err := env.mgr.StartScraping(ctx, "target", 5)
		require.NoError(t, err)
		waitForLoop(t, env.mgr, jobID)
		env.mgr.ProcessResults(ctx)
		accountID = getJob(t, env.store, jobID).AccountID
	}

	n, err := env.store.CountFollowers(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestConsumerDiscardsBatchForStoppedJob(t *testing.T) {
	env := newTestEnv(t, sourcetest.New(), Options{})
	ctx := context.Background()
	job := seedJob(t, env.store, "target", models.StatusStopped)

	env.mgr.batches <- Batch{
		JobID:     job.ID,
		AccountID: job.AccountID,
		Followers: []models.Follower{{AccountID: job.AccountID, JobID: job.ID, Username: "late"}},
		Final:     true,
	}
	assert.Equal(t, 1, env.mgr.ProcessResults(ctx))

	n, err := env.store.CountFollowers(ctx, job.AccountID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.StatusStopped, getJob(t, env.store, job.ID).Status)
}

func TestRunConsumer(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 5)
	env := newTestEnv(t, fake, Options{BatchSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.mgr.RunConsumer(ctx)
		close(done)
	}()

	jobID, err := env.mgr.StartScraping(context.Background(), "target", 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return getJob(t, env.store, jobID).Status == models.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, getJob(t, env.store, jobID).FollowersScraped)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not exit after cancel")
	}
}

func TestPanicInLoopIsRecordedOnJob(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 3)
	fake.DetailErr = func(n int, ref source.FollowerRef) error {
		panic("malformed profile")
	}
	env := newTestEnv(t, fake, Options{})
	ctx := context.Background()

	jobID, err := env.mgr.StartScraping(ctx, "target", 3)
	require.NoError(t, err)
	waitForLoop(t, env.mgr, jobID)

	job := getJob(t, env.store, jobID)
	assert.Equal(t, models.StatusRunning, job.Status)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Contains(t, job.LastError, "malformed profile")
}

func TestClosedManagerRejectsJobs(t *testing.T) {
	fake := sourcetest.New()
	fake.AddTarget("target", 1)
	env := newTestEnv(t, fake, Options{})
	require.NoError(t, env.mgr.Close())

	_, err := env.mgr.StartScraping(context.Background(), "target", 1)
	assert.ErrorIs(t, err, ErrClosed)

	jobs, err := env.store.ListJobs(context.Background(), models.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
