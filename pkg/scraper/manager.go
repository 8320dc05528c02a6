package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"igfollowers/internal/worker"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/proxy"
	"igfollowers/pkg/retry"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
	"igfollowers/pkg/storage"
)

var (
	// ErrNoCredentials is returned when a session must be created but no login is configured
	ErrNoCredentials = errors.New("no login credentials configured")
	// ErrJobNotRunning is returned by Resume for a job that is not running
	ErrJobNotRunning = errors.New("job is not running")
	// ErrJobActive is returned by Resume for a job whose loop is already running
	ErrJobActive = errors.New("job is already being processed")
	// ErrClosed is returned once the manager has been closed
	ErrClosed = errors.New("scraper manager is closed")
)

// Options tunes pacing and error ceilings. Zero delays are honored as zero.
type Options struct {
	// BatchSize is the follower count after which the pending batch is
	// queued at the next page boundary
	BatchSize         int
	RequestDelay      time.Duration
	BatchDelay        time.Duration
	RateLimitCooldown time.Duration
	// MaxErrors is the job error count a job may reach before it fails
	MaxErrors int
	// TransientLimit is how many consecutive network errors count as one job error
	TransientLimit int
	QueueSize      int
	DetailAttempts int
}

// DefaultOptions returns the pacing used against the live platform
func DefaultOptions() Options {
	return Options{
		BatchSize:         50,
		RequestDelay:      2 * time.Second,
		BatchDelay:        5 * time.Second,
		RateLimitCooldown: 600 * time.Second,
		MaxErrors:         3,
		TransientLimit:    3,
		QueueSize:         100,
		DetailAttempts:    3,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = def.MaxErrors
	}
	if o.TransientLimit <= 0 {
		o.TransientLimit = def.TransientLimit
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.DetailAttempts <= 0 {
		o.DetailAttempts = def.DetailAttempts
	}
	return o
}

// Dependencies are the collaborators a Manager orchestrates
type Dependencies struct {
	Store    storage.Storage
	Sessions *session.Store
	// Proxies may be nil, sessions are then created unproxied
	Proxies     *proxy.Manager
	Pool        *worker.Pool
	Credentials source.Credentials
	// LoginProxy, when set, is used instead of rotation for the login's session
	LoginProxy string
	Logger     logger.Logger
}

// Manager owns job state and the rate-limit policy. It runs one loop per
// job, fetching pages through the shared worker pool, and commits batches
// through a bounded result queue.
type Manager struct {
	store       storage.Storage
	sessions    *session.Store
	proxies     *proxy.Manager
	pool        *worker.Pool
	credentials source.Credentials
	loginProxy  string
	opts        Options
	logger      logger.Logger

	batches chan Batch
	upsert  *retry.Config
	wait    func(ctx context.Context, d time.Duration) error
	seq     atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	relay  sync.WaitGroup

	startOnce sync.Once
	mu        sync.Mutex
	closed    bool
	active    map[uint]context.CancelFunc
	waiters   map[uint]chan worker.Result
}

// New creates a manager. Start is called lazily by the first job.
func New(deps Dependencies, opts Options) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	opts = opts.withDefaults()
	log := logger.OrDefault(deps.Logger).WithField("component", "scraper")
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:       deps.Store,
		sessions:    deps.Sessions,
		proxies:     deps.Proxies,
		pool:        deps.Pool,
		credentials: deps.Credentials,
		loginProxy:  deps.LoginProxy,
		opts:        opts,
		logger:      log,
		batches:     make(chan Batch, opts.QueueSize),
		upsert: &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: 200 * time.Millisecond},
			RetryIf: func(err error) bool {
				return !errors.Is(err, storage.ErrNotFound) && retry.DefaultRetryIf(err)
			},
			Logger: log,
		},
		wait:    retry.Wait,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[uint]context.CancelFunc),
		waiters: make(map[uint]chan worker.Result),
	}, nil
}

// Start starts the worker pool and the goroutine routing its results to jobs
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		logger.LogComponentStart(m.logger, "scraper", map[string]interface{}{
			"workers":    m.pool.Size(),
			"batch_size": m.opts.BatchSize,
			"max_errors": m.opts.MaxErrors,
		})
		m.pool.Start()
		m.relay.Add(1)
		go m.dispatch()
	})
}

// dispatch routes pool results to the loop of the job that submitted them.
// Results nobody waits for belong to loops that already exited.
func (m *Manager) dispatch() {
	defer m.relay.Done()
	for res := range m.pool.Results() {
		m.mu.Lock()
		ch := m.waiters[res.Task.JobID]
		m.mu.Unlock()

		if ch == nil {
			m.logger.DebugWithFields("Dropping result for inactive job", map[string]interface{}{
				"job_id": res.Task.JobID,
			})
			continue
		}
		select {
		case ch <- res:
		default:
			m.logger.WarnWithFields("Dropping result, job is not waiting", map[string]interface{}{
				"job_id": res.Task.JobID,
			})
		}
	}
}

// StartScraping validates a session, records the target account, creates a
// running job and starts its loop. It returns the job id without waiting
// for any follower to be fetched; on any setup failure no job is created.
func (m *Manager) StartScraping(ctx context.Context, target string, maxFollowers int) (uint, error) {
	if target == "" {
		return 0, fmt.Errorf("target username is required")
	}
	if maxFollowers <= 0 {
		return 0, fmt.Errorf("max followers must be positive, got %d", maxFollowers)
	}
	log := m.logger.WithField("target", target)

	sess, err := m.acquireSession(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to acquire session")
		return 0, fmt.Errorf("failed to acquire session: %w", err)
	}

	profile, err := sess.Client.AccountInfo(ctx, target)
	m.sessions.IncrementRequest(sess.Username)
	if perr := m.sessions.Persist(ctx, sess.Username); perr != nil {
		log.WithError(perr).Warn("Failed to persist session health")
	}
	if err != nil {
		log.WithError(err).Error("Failed to fetch target account")
		return 0, fmt.Errorf("failed to fetch account %s: %w", target, err)
	}

	account, err := m.store.UpsertAccount(ctx, accountFromProfile(target, profile))
	if err != nil {
		return 0, fmt.Errorf("failed to save account %s: %w", target, err)
	}

	job, err := m.store.CreateJob(ctx, &models.Job{
		TargetUsername: target,
		AccountID:      account.ID,
		Status:         models.StatusRunning,
		MaxFollowers:   maxFollowers,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create job for %s: %w", target, err)
	}

	if err := m.launch(job, sess.Username); err != nil {
		// nothing will ever process it
		if _, terr := m.store.TransitionJob(ctx, job.ID, models.StatusRunning, models.StatusFailed); terr != nil {
			log.WithError(terr).Warn("Failed to mark unlaunched job as failed")
		}
		return 0, err
	}

	log.InfoWithFields("Started scraping job", map[string]interface{}{
		"job_id":        job.ID,
		"account_id":    account.ID,
		"max_followers": maxFollowers,
		"session":       sess.Username,
	})
	return job.ID, nil
}

// Resume restarts the loop of a running job from its persisted cursor,
// for example after a process restart.
func (m *Manager) Resume(ctx context.Context, jobID uint) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %d: %w", jobID, err)
	}
	if job.Status != models.StatusRunning {
		return fmt.Errorf("job %d is %s: %w", jobID, job.Status, ErrJobNotRunning)
	}

	if err := m.launch(job, ""); err != nil {
		return err
	}
	m.logger.InfoWithFields("Resumed scraping job", map[string]interface{}{
		"job_id":  jobID,
		"target":  job.TargetUsername,
		"cursor":  job.LastCursor,
		"scraped": job.FollowersScraped,
	})
	return nil
}

func (m *Manager) launch(job *models.Job, username string) error {
	m.Start()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.active[job.ID]; ok {
		return fmt.Errorf("job %d: %w", job.ID, ErrJobActive)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	results := make(chan worker.Result, 2)
	m.active[job.ID] = cancel
	m.waiters[job.ID] = results

	m.loops.Add(1)
	go m.run(ctx, newJobRun(job, username, results))
	return nil
}

func (m *Manager) finish(jobID uint) {
	m.mu.Lock()
	if cancel, ok := m.active[jobID]; ok {
		cancel()
	}
	delete(m.active, jobID)
	delete(m.waiters, jobID)
	m.mu.Unlock()
}

// IsActive reports whether the job's loop is running in this process
func (m *Manager) IsActive(jobID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[jobID]
	return ok
}

// GetStatus reads the job record. It never waits on network I/O.
func (m *Manager) GetStatus(ctx context.Context, jobID uint) (*models.StatusSnapshot, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Snapshot(), nil
}

// ListJobs returns jobs with the given status, all jobs when status is empty
func (m *Manager) ListJobs(ctx context.Context, status models.Status) ([]*models.StatusSnapshot, error) {
	jobs, err := m.store.ListJobs(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]*models.StatusSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out, nil
}

// Followers returns a window of the followers stored for the job's target
// account, oldest first. A zero limit returns all of them from offset.
func (m *Manager) Followers(ctx context.Context, jobID uint, limit, offset int) (*models.FollowerPage, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %d: %w", jobID, err)
	}
	followers, err := m.store.ListFollowers(ctx, job.AccountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list followers of job %d: %w", jobID, err)
	}
	total, err := m.store.CountFollowers(ctx, job.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count followers of job %d: %w", jobID, err)
	}
	return &models.FollowerPage{
		JobID:     jobID,
		AccountID: job.AccountID,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		Followers: followers,
	}, nil
}

// Stop moves a running job to stopped and cancels its loop's waits. It
// reports false, changing nothing, when the job is not running.
func (m *Manager) Stop(ctx context.Context, jobID uint) (bool, error) {
	ok, err := m.store.TransitionJob(ctx, jobID, models.StatusRunning, models.StatusStopped)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	if cancel, active := m.active[jobID]; active {
		cancel()
	}
	m.mu.Unlock()

	m.logger.WithField("job_id", jobID).Info("Stopped scraping job")
	return true, nil
}

// StopAll stops every running job and returns how many were stopped
func (m *Manager) StopAll(ctx context.Context) (int, error) {
	jobs, err := m.store.ListJobs(ctx, models.StatusRunning)
	if err != nil {
		return 0, err
	}

	stopped := 0
	var errs []error
	for _, j := range jobs {
		ok, err := m.Stop(ctx, j.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %d: %w", j.ID, err))
			continue
		}
		if ok {
			stopped++
		}
	}
	return stopped, errors.Join(errs...)
}

// Close cancels every job loop, stops the pool and commits whatever is
// still queued. Jobs stay running in storage and can be resumed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.loops.Wait()
	m.pool.Stop()
	m.relay.Wait()

	drained := m.ProcessResults(context.Background())
	logger.LogComponentStop(m.logger, "scraper", fmt.Sprintf("closed, %d queued batches committed", drained))
	return nil
}

func accountFromProfile(target string, p *source.Profile) *models.Account {
	username := p.Username
	if username == "" {
		username = target
	}
	return &models.Account{
		Username:       username,
		FullName:       p.FullName,
		Biography:      p.Biography,
		FollowerCount:  p.FollowerCount,
		FollowingCount: p.FollowingCount,
		PostCount:      p.PostCount,
		IsPrivate:      p.IsPrivate,
		IsVerified:     p.IsVerified,
		ExternalURL:    p.ExternalURL,
	}
}

func followerFromProfile(accountID, jobID uint, ref source.FollowerRef, p *source.Profile) models.Follower {
	f := models.Follower{
		AccountID:  accountID,
		JobID:      jobID,
		Username:   ref.Username,
		FullName:   ref.FullName,
		IsPrivate:  ref.IsPrivate,
		IsVerified: ref.IsVerified,
	}
	if p == nil {
		return f
	}
	if p.FullName != "" {
		f.FullName = p.FullName
	}
	f.Biography = p.Biography
	f.FollowerCount = p.FollowerCount
	f.FollowingCount = p.FollowingCount
	f.PostCount = p.PostCount
	f.IsPrivate = p.IsPrivate
	f.IsVerified = p.IsVerified
	f.ExternalURL = p.ExternalURL
	f.Email = p.Email
	f.Phone = p.Phone
	f.BusinessCategory = p.BusinessCategory
	f.IsBusinessAccount = p.IsBusinessAccount
	return f
}
