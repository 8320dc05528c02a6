// Package session owns the authenticated clients the scraper works with.
//
// A Store caches one client per login username together with its health
// (challenge count, request count, last use). Sessions that are too old,
// have collected too many challenges, were invalidated, or whose client
// reports it is logged out are never handed out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/retry"
	"igfollowers/pkg/source"
)

// ErrChallengeUnresolved is returned when a login challenge could not be completed
var ErrChallengeUnresolved = errs.New(errs.KindChallengeUnresolved, 0, "challenge could not be resolved")

// ErrUnknownSession is returned for operations on a username the store does not hold
var ErrUnknownSession = errors.New("unknown session")

const (
	DefaultTTL            = 24 * time.Hour
	DefaultMaxChallenges  = 3
	DefaultChallengeGrace = 30 * time.Second
)

// Options tunes validity rules and challenge handling
type Options struct {
	TTL            time.Duration
	MaxChallenges  int
	ChallengeGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxChallenges <= 0 {
		o.MaxChallenges = DefaultMaxChallenges
	}
	if o.ChallengeGrace < 0 {
		o.ChallengeGrace = 0
	}
	return o
}

// Session is a client handed out by the store
type Session struct {
	Username string
	Proxy    string
	Client   source.Client
}

// Health is the bookkeeping the store keeps for a session
type Health struct {
	Username   string    `json:"username"`
	Proxy      string    `json:"proxy,omitempty"`
	Challenges int       `json:"challenges"`
	Requests   int       `json:"requests"`
	LastUsed   time.Time `json:"last_used"`
	CreatedAt  time.Time `json:"created_at"`
	Invalid    bool      `json:"invalid"`
}

// Stats summarizes every cached session
type Stats struct {
	Total      int `json:"total_sessions"`
	Valid      int `json:"valid_sessions"`
	Challenges int `json:"total_challenges"`
	Requests   int `json:"total_requests"`
}

type entry struct {
	client     source.Client
	proxy      string
	challenges int
	requests   int
	lastUsed   time.Time
	createdAt  time.Time
	invalid    bool
}

// Store is safe for concurrent use. A single mutex guards the map;
// calls into clients happen with it released.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	source source.Source
	cache  Cache
	opts   Options
	log    logger.Logger

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// NewStore creates a store. A nil cache keeps sessions in memory only.
func NewStore(src source.Source, cache Cache, opts Options, log logger.Logger) *Store {
	if cache == nil {
		cache = NopCache{}
	}
	return &Store{
		entries: make(map[string]*entry),
		source:  src,
		cache:   cache,
		opts:    opts.withDefaults(),
		log:     logger.OrDefault(log).WithField("component", "session_store"),
		now:     time.Now,
		wait:    retry.Wait,
	}
}

// invalidReason returns why e may not be handed out, or "" if the
// bookkeeping allows it. The client itself is checked separately.
func (s *Store) invalidReason(e *entry, now time.Time) string {
	switch {
	case e.invalid:
		return "invalidated"
	case now.Sub(e.lastUsed) > s.opts.TTL:
		return "too old"
	case e.challenges >= s.opts.MaxChallenges:
		return "too many challenges"
	default:
		return ""
	}
}

type candidate struct {
	username   string
	client     source.Client
	challenges int
	lastUsed   time.Time
}

// BestSession returns the valid session with the fewest challenges,
// least recently used first. It marks the session used and counts a request.
func (s *Store) BestSession(ctx context.Context) (*Session, bool) {
	s.mu.Lock()
	now := s.now()
	candidates := make([]candidate, 0, len(s.entries))
	for username, e := range s.entries {
		if s.invalidReason(e, now) != "" {
			continue
		}
		candidates = append(candidates, candidate{
			username:   username,
			client:     e.client,
			challenges: e.challenges,
			lastUsed:   e.lastUsed,
		})
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.challenges != b.challenges {
			return a.challenges < b.challenges
		}
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
		return a.username < b.username
	})

	for _, c := range candidates {
		if !c.client.IsAuthenticated(ctx) {
			s.log.WarnWithFields("Session is no longer logged in", map[string]interface{}{
				"username": c.username,
			})
			continue
		}

		s.mu.Lock()
		e, ok := s.entries[c.username]
		// re-check: the entry may have changed while the lock was released
		if !ok || e.client != c.client || s.invalidReason(e, s.now()) != "" {
			s.mu.Unlock()
			continue
		}
		e.lastUsed = s.now()
		e.requests++
		sess := &Session{Username: c.username, Proxy: e.proxy, Client: e.client}
		s.mu.Unlock()

		s.log.DebugWithFields("Using session", map[string]interface{}{
			"username":   c.username,
			"challenges": c.challenges,
		})
		return sess, true
	}

	return nil, false
}

// CreateSession authenticates a new client and persists it. A login
// challenge is resolved by selecting the first offered method, waiting the
// grace period and confirming.
func (s *Store) CreateSession(ctx context.Context, username, password, proxy string) (*Session, error) {
	log := s.log.WithField("username", username)

	client, err := s.source.Authenticate(ctx, source.Credentials{Username: username, Password: password}, proxy)
	if ce, ok := source.AsChallenge(err); ok {
		log.Warn("Login challenge required")
		client, err = s.resolveChallenge(ctx, username, ce)
	}
	if err != nil {
		log.WithError(err).Error("Failed to create session")
		return nil, fmt.Errorf("failed to create session for %s: %w", username, err)
	}

	if err := s.Save(ctx, username, client, proxy); err != nil {
		log.WithError(err).Warn("Session created but could not be persisted")
	}

	log.InfoWithFields("Created new session", map[string]interface{}{
		"proxy": proxy,
	})
	return &Session{Username: username, Proxy: proxy, Client: client}, nil
}

// Reauthenticate logs the cached client for username in again, resolving a
// challenge the same way CreateSession does. The session's counters are kept.
func (s *Store) Reauthenticate(ctx context.Context, username string) error {
	s.mu.Lock()
	e, ok := s.entries[username]
	var client source.Client
	if ok {
		client = e.client
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, username)
	}

	err := client.Login(ctx)
	if ce, isChallenge := source.AsChallenge(err); isChallenge {
		s.log.WithField("username", username).Warn("Challenge during re-login")
		var resolved source.Client
		resolved, err = s.resolveChallenge(ctx, username, ce)
		if err == nil && resolved != nil {
			client = resolved
		}
	}
	if err != nil {
		return fmt.Errorf("failed to re-authenticate %s: %w", username, err)
	}

	s.mu.Lock()
	if e, ok := s.entries[username]; ok {
		e.client = client
		e.invalid = false
	}
	s.mu.Unlock()

	s.log.WithField("username", username).Info("Session re-authenticated")
	return s.Persist(ctx, username)
}

func (s *Store) resolveChallenge(ctx context.Context, username string, ce *source.ChallengeError) (source.Client, error) {
	if ce.Challenge == nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeUnresolved, ce)
	}
	methods := ce.Challenge.Methods()
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no verification method offered", ErrChallengeUnresolved)
	}

	log := s.log.WithFields(map[string]interface{}{
		"username": username,
		"method":   methods[0],
	})
	if err := ce.Challenge.Select(ctx, methods[0]); err != nil {
		return nil, fmt.Errorf("%w: select %s: %w", ErrChallengeUnresolved, methods[0], err)
	}

	log.InfoWithFields("Waiting for challenge confirmation", map[string]interface{}{
		"grace": s.opts.ChallengeGrace,
	})
	if err := s.wait(ctx, s.opts.ChallengeGrace); err != nil {
		return nil, err
	}

	client, err := ce.Challenge.Confirm(ctx)
	if err != nil {
		log.WithError(err).Error("Challenge confirmation failed")
		return nil, fmt.Errorf("%w: %w", ErrChallengeUnresolved, err)
	}
	log.Info("Challenge resolved")
	return client, nil
}

// Save caches client under username with fresh counters and persists it
func (s *Store) Save(ctx context.Context, username string, client source.Client, proxy string) error {
	now := s.now()

	s.mu.Lock()
	createdAt := now
	if prev, ok := s.entries[username]; ok {
		createdAt = prev.createdAt
	}
	s.entries[username] = &entry{
		client:    client,
		proxy:     proxy,
		lastUsed:  now,
		createdAt: createdAt,
	}
	s.mu.Unlock()

	return s.Persist(ctx, username)
}

// Persist writes the session's current state and counters to the cache
func (s *Store) Persist(ctx context.Context, username string) error {
	s.mu.Lock()
	e, ok := s.entries[username]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, username)
	}
	rec := &Record{
		Username:   username,
		Proxy:      e.proxy,
		Challenges: e.challenges,
		Requests:   e.requests,
		LastUsed:   e.lastUsed,
		CreatedAt:  e.createdAt,
	}
	client := e.client
	s.mu.Unlock()

	state, err := client.State()
	if err != nil {
		return fmt.Errorf("failed to serialize session %s: %w", username, err)
	}
	rec.State = state

	if err := s.cache.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", username, err)
	}
	return nil
}

// Load restores persisted sessions, keeping only those still logged in
func (s *Store) Load(ctx context.Context) (int, error) {
	records, err := s.cache.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	loaded := 0
	for _, rec := range records {
		log := s.log.WithField("username", rec.Username)

		client, err := s.source.Restore(ctx, rec.State, rec.Proxy)
		if err != nil {
			log.WithError(err).Warn("Could not restore session")
			continue
		}
		if !client.IsAuthenticated(ctx) {
			log.Warn("Invalid or expired session")
			continue
		}

		s.mu.Lock()
		s.entries[rec.Username] = &entry{
			client:     client,
			proxy:      rec.Proxy,
			challenges: rec.Challenges,
			requests:   rec.Requests,
			lastUsed:   rec.LastUsed,
			createdAt:  rec.CreatedAt,
		}
		s.mu.Unlock()

		loaded++
		log.Info("Loaded valid session")
	}

	return loaded, nil
}

// IsValid reports whether the session for username may be handed out
func (s *Store) IsValid(ctx context.Context, username string) bool {
	s.mu.Lock()
	e, ok := s.entries[username]
	if !ok {
		s.mu.Unlock()
		return false
	}
	reason := s.invalidReason(e, s.now())
	client := e.client
	s.mu.Unlock()

	if reason != "" {
		s.log.WarnWithFields("Session is not valid", map[string]interface{}{
			"username": username,
			"reason":   reason,
		})
		return false
	}
	if !client.IsAuthenticated(ctx) {
		s.log.WithField("username", username).Warn("Session is no longer logged in")
		return false
	}
	return true
}

func (s *Store) update(username string, fn func(e *entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[username]
	if ok {
		fn(e)
	}
	return ok
}

// IncrementChallenge adds a challenge to the session's count
func (s *Store) IncrementChallenge(username string) {
	var count int
	if s.update(username, func(e *entry) {
		e.challenges++
		count = e.challenges
	}) {
		s.log.InfoWithFields("Incremented challenges", map[string]interface{}{
			"username":   username,
			"challenges": count,
		})
	}
}

// IncrementRequest counts a request and marks the session used
func (s *Store) IncrementRequest(username string) {
	s.update(username, func(e *entry) {
		e.requests++
		e.lastUsed = s.now()
	})
}

// Invalidate stops the session from being handed out until it is saved again
// or re-authenticated.
func (s *Store) Invalidate(username string) {
	if s.update(username, func(e *entry) { e.invalid = true }) {
		s.log.WithField("username", username).Warn("Session invalidated")
	}
}

func (s *Store) ClearChallenges(username string) {
	if s.update(username, func(e *entry) { e.challenges = 0 }) {
		s.log.WithField("username", username).Info("Cleared challenges")
	}
}

// Get returns the cached session without checking validity
func (s *Store) Get(username string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[username]
	if !ok {
		return nil, false
	}
	return &Session{Username: username, Proxy: e.proxy, Client: e.client}, true
}

// Health returns the bookkeeping for username
func (s *Store) Health(username string) (Health, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[username]
	if !ok {
		return Health{}, false
	}
	return e.health(username), true
}

// List returns the health of every cached session ordered by username
func (s *Store) List() []Health {
	s.mu.Lock()
	out := make([]Health, 0, len(s.entries))
	for username, e := range s.entries {
		out = append(out, e.health(username))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (e *entry) health(username string) Health {
	return Health{
		Username:   username,
		Proxy:      e.proxy,
		Challenges: e.challenges,
		Requests:   e.requests,
		LastUsed:   e.lastUsed,
		CreatedAt:  e.createdAt,
		Invalid:    e.invalid,
	}
}

// Stats summarizes all sessions. Valid counts require a liveness check per session.
func (s *Store) Stats(ctx context.Context) Stats {
	var st Stats
	s.mu.Lock()
	usernames := make([]string, 0, len(s.entries))
	for username, e := range s.entries {
		st.Total++
		st.Challenges += e.challenges
		st.Requests += e.requests
		usernames = append(usernames, username)
	}
	s.mu.Unlock()

	for _, username := range usernames {
		if s.IsValid(ctx, username) {
			st.Valid++
		}
	}
	return st
}

// Remove drops the session from memory and the cache
func (s *Store) Remove(ctx context.Context, username string) error {
	s.mu.Lock()
	delete(s.entries, username)
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, username); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", username, err)
	}
	return nil
}
