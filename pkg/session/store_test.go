package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/source"
	"igfollowers/pkg/source/sourcetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memCache struct {
	mu      sync.Mutex
	records map[string]*Record
	saves   int
}

func newMemCache() *memCache { return &memCache{records: make(map[string]*Record)} }

func (m *memCache) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.Username] = &cp
	m.saves++
	return nil
}

func (m *memCache) LoadAll(context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memCache) Delete(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, username)
	return nil
}

type testEnv struct {
	store  *Store
	fake   *sourcetest.Fake
	cache  *memCache
	clock  *fakeClock
	waited []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		fake:  sourcetest.New(),
		cache: newMemCache(),
		clock: &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	env.store = NewStore(env.fake, env.cache, Options{}, logger.NewNopLogger())
	env.store.now = env.clock.Now
	env.store.wait = func(ctx context.Context, d time.Duration) error {
		env.waited = append(env.waited, d)
		return ctx.Err()
	}
	return env
}

func (env *testEnv) addSession(t *testing.T, username string) {
	t.Helper()
	_, err := env.store.CreateSession(context.Background(), username, "pw", "")
	require.NoError(t, err)
}

func TestBestSessionEmpty(t *testing.T) {
	env := newTestEnv(t)
	sess, ok := env.store.BestSession(context.Background())
	assert.False(t, ok)
	assert.Nil(t, sess)
}

func TestBestSessionPrefersFewestChallenges(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.addSession(t, "bob")

	env.store.IncrementChallenge("alice")

	sess, ok := env.store.BestSession(context.Background())
	require.True(t, ok)
	assert.Equal(t, "bob", sess.Username)

	h, _ := env.store.Health("bob")
	assert.Equal(t, 1, h.Requests)
}

func TestBestSessionTieBreaksOnLeastRecentlyUsed(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.clock.Advance(time.Second)
	env.addSession(t, "bob")
	env.clock.Advance(time.Minute)

	first, ok := env.store.BestSession(context.Background())
	require.True(t, ok)
	assert.Equal(t, "alice", first.Username)

	second, ok := env.store.BestSession(context.Background())
	require.True(t, ok)
	assert.Equal(t, "bob", second.Username)
}

func TestBestSessionNeverReturnsChallengedSession(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	for i := 0; i < DefaultMaxChallenges; i++ {
		env.store.IncrementChallenge("alice")
	}

	_, ok := env.store.BestSession(context.Background())
	assert.False(t, ok)
	assert.False(t, env.store.IsValid(context.Background(), "alice"))

	env.store.ClearChallenges("alice")
	assert.True(t, env.store.IsValid(context.Background(), "alice"))
}

func TestBestSessionNeverReturnsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.clock.Advance(DefaultTTL + time.Minute)

	_, ok := env.store.BestSession(context.Background())
	assert.False(t, ok)
	assert.False(t, env.store.IsValid(context.Background(), "alice"))
}

func TestBestSessionSkipsLoggedOutClient(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.fake.SetLoggedOut(true)

	_, ok := env.store.BestSession(context.Background())
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.store.Invalidate("alice")

	_, ok := env.store.BestSession(context.Background())
	assert.False(t, ok)

	h, _ := env.store.Health("alice")
	assert.True(t, h.Invalid)
}

func TestCreateSessionResolvesChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.fake.LoginChallenges = 1

	sess, err := env.store.CreateSession(context.Background(), "alice", "pw", "http://proxy:1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, "http://proxy:1", sess.Proxy)

	assert.Equal(t, []string{"email"}, env.fake.SelectedMethods())
	assert.Equal(t, []time.Duration{DefaultChallengeGrace}, env.waited)
	assert.Equal(t, 1, env.fake.Calls().Confirms)
	assert.True(t, env.store.IsValid(context.Background(), "alice"))
	assert.Contains(t, env.cache.records, "alice")
}

func TestCreateSessionChallengeUnresolved(t *testing.T) {
	env := newTestEnv(t)
	env.fake.LoginChallenges = 1
	env.fake.FailChallenge = true

	_, err := env.store.CreateSession(context.Background(), "alice", "pw", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChallengeUnresolved))
	assert.Equal(t, errs.KindChallengeUnresolved, errs.KindOf(err))

	_, ok := env.store.Get("alice")
	assert.False(t, ok)
}

func TestCreateSessionAuthenticationFailed(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Passwords = map[string]string{"alice": "right"}

	_, err := env.store.CreateSession(context.Background(), "alice", "wrong", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindAuthenticationFailed, errs.KindOf(err))
}

func TestCreateSessionCancelledDuringGrace(t *testing.T) {
	env := newTestEnv(t)
	env.fake.LoginChallenges = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.store.CreateSession(ctx, "alice", "pw", "")
	require.Error(t, err)
}

func TestSaveResetsCounters(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.store.IncrementChallenge("alice")
	env.store.IncrementRequest("alice")

	sess, _ := env.store.Get("alice")
	require.NoError(t, env.store.Save(context.Background(), "alice", sess.Client, ""))

	h, ok := env.store.Health("alice")
	require.True(t, ok)
	assert.Equal(t, 0, h.Challenges)
	assert.Equal(t, 0, h.Requests)
}

func TestPersistAndLoad(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.store.IncrementRequest("alice")
	env.store.IncrementRequest("alice")
	env.store.IncrementChallenge("alice")
	require.NoError(t, env.store.Persist(context.Background(), "alice"))

	restored := NewStore(env.fake, env.cache, Options{}, logger.NewNopLogger())
	restored.now = env.clock.Now

	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h, ok := restored.Health("alice")
	require.True(t, ok)
	assert.Equal(t, 2, h.Requests)
	assert.Equal(t, 1, h.Challenges)

	sess, ok := restored.BestSession(context.Background())
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Client.Username())
}

func TestLoadSkipsLoggedOutSessions(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.fake.SetLoggedOut(true)

	restored := NewStore(env.fake, env.cache, Options{}, logger.NewNopLogger())
	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReauthenticate(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.fake.SetLoggedOut(true)
	require.False(t, env.store.IsValid(context.Background(), "alice"))

	require.NoError(t, env.store.Reauthenticate(context.Background(), "alice"))
	assert.True(t, env.store.IsValid(context.Background(), "alice"))
	assert.Equal(t, 1, env.fake.Calls().Logins)
}

func TestReauthenticateResolvesChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.fake.LoginErr = func(n int, c *sourcetest.Client) error {
		return &source.ChallengeError{Challenge: env.fake.NewChallenge(c)}
	}

	require.NoError(t, env.store.Reauthenticate(context.Background(), "alice"))
	assert.Equal(t, 1, env.fake.Calls().Confirms)
	assert.Len(t, env.waited, 1)
}

func TestReauthenticateUnknown(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.Reauthenticate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.addSession(t, "bob")
	env.store.IncrementChallenge("alice")
	env.store.IncrementRequest("alice")
	env.store.IncrementRequest("bob")
	env.store.Invalidate("bob")

	st := env.store.Stats(context.Background())
	assert.Equal(t, Stats{Total: 2, Valid: 1, Challenges: 1, Requests: 2}, st)
}

func TestIncrementUnknownIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.store.IncrementChallenge("ghost")
	env.store.IncrementRequest("ghost")
	_, ok := env.store.Health("ghost")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	require.NoError(t, env.store.Remove(context.Background(), "alice"))

	_, ok := env.store.Get("alice")
	assert.False(t, ok)
	assert.NotContains(t, env.cache.records, "alice")
}

func TestConcurrentAccess(t *testing.T) {
	env := newTestEnv(t)
	env.addSession(t, "alice")
	env.addSession(t, "bob")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess, ok := env.store.BestSession(context.Background()); ok {
				env.store.IncrementRequest(sess.Username)
			}
		}()
	}
	wg.Wait()

	st := env.store.Stats(context.Background())
	assert.Equal(t, 40, st.Requests)
}
