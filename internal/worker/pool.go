// Package worker runs a fixed-size pool that fetches follower pages.
//
// Workers pull tasks from a shared queue, fetch one page with the best
// available session and push the outcome onto a shared result channel.
// They never retry; callers decide what a failure means.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"igfollowers/pkg/logger"
	"igfollowers/pkg/ratelimit"
	"igfollowers/pkg/session"
	"igfollowers/pkg/source"
)

var (
	// ErrNoSession is reported when no valid session could be acquired for a task
	ErrNoSession = errors.New("no valid session available")
	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker pool is shutting down")
)

// Task asks for one page of a target's followers
type Task struct {
	JobID  uint
	Seq    uint64
	Target string
	Cursor string
}

// Result is the outcome of a Task. Session is the username of the session
// that served it, empty if none could be acquired.
type Result struct {
	Task     Task
	Session  string
	Page     *source.Page
	Err      error
	Duration time.Duration
}

// SessionProvider is the part of the session store workers need
type SessionProvider interface {
	BestSession(ctx context.Context) (*session.Session, bool)
	IncrementChallenge(username string)
}

// Pool manages concurrent page fetch workers
type Pool struct {
	numWorkers int
	tasks      chan Task
	results    chan Result

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	sessions SessionProvider
	limiter  ratelimit.Limiter
	logger   logger.Logger
}

// NewPool creates a pool of n workers. A nil limiter never blocks.
func NewPool(n int, sessions SessionProvider, limiter ratelimit.Limiter, log logger.Logger) *Pool {
	if n <= 0 {
		n = 1
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		numWorkers: n,
		tasks:      make(chan Task, n*2),
		results:    make(chan Result, n),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   sessions,
		limiter:    limiter,
		logger:     logger.OrDefault(log).WithField("component", "worker_pool"),
	}
}

// Start spawns the workers. Calling it twice has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop lets workers finish every queued task, waits for them and closes
// the result channel.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool...")
	p.wg.Wait()
	close(p.results)
	p.cancel()
	p.logger.Info("Worker pool stopped")
}

// Submit queues a task, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		p.logger.DebugWithFields("Task submitted to queue", map[string]interface{}{
			"job_id": task.JobID,
			"target": task.Target,
			"cursor": task.Cursor,
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Results returns the shared result channel. It is closed by Stop.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueSize returns the number of tasks waiting for a worker
func (p *Pool) QueueSize() int {
	return len(p.tasks)
}

func (p *Pool) Size() int {
	return p.numWorkers
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for task := range p.tasks {
		result := p.process(task, id)

		select {
		case p.results <- result:
		case <-p.ctx.Done():
			return
		}
	}

	p.logger.DebugWithFields("Worker stopping - task queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (p *Pool) process(task Task, workerID int) Result {
	start := time.Now()
	result := Result{Task: task}
	log := p.logger.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"job_id":    task.JobID,
		"target":    task.Target,
	})

	sess, ok := p.sessions.BestSession(p.ctx)
	if !ok {
		result.Err = ErrNoSession
		result.Duration = time.Since(start)
		log.Warn("No valid session for task")
		return result
	}
	result.Session = sess.Username

	if err := p.limiter.Wait(p.ctx); err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	page, err := sess.Client.Followers(p.ctx, task.Target, task.Cursor)
	result.Duration = time.Since(start)
	if err != nil {
		// any failure may be a soft ban; count it against the session
		p.sessions.IncrementChallenge(sess.Username)
		result.Err = err
		log.WithError(err).WithField("session", sess.Username).Warn("Page fetch failed")
		return result
	}

	result.Page = page
	log.DebugWithFields("Page fetched", map[string]interface{}{
		"session":   sess.Username,
		"followers": len(page.Followers),
		"exhausted": page.Exhausted(),
		"duration":  result.Duration,
	})
	return result
}
