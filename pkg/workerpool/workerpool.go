// Package workerpool runs jobs concurrently with a bounded number of
// workers.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/rdist/internal/lg"
)

const TotalMaxWorkers = 10

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool starts one goroutine per job while at most maxWorkers run at once.
// Failed jobs are retried up to attempts times with a linear pause.
type Pool[T any] struct {
	Jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	sem           chan struct{}
	quit          chan struct{}
	dispatched    chan struct{}
	stopOnce      sync.Once
	attempts      int
	pause         time.Duration

	mu   sync.Mutex
	errs []error
}

type Option func(*poolOptions)

type poolOptions struct {
	attempts int
	pause    time.Duration
}

func WithRetry(attempts int, pause time.Duration) Option {
	return func(o *poolOptions) {
		o.attempts = attempts
		o.pause = pause
	}
}

func NewPool[T any](maxWorkers int, opts ...Option) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	o := poolOptions{attempts: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}
	pool := &Pool[T]{
		Jobs:       make(chan Job[T], maxWorkers),
		sem:        make(chan struct{}, maxWorkers),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
		attempts:   o.attempts,
		pause:      o.pause,
	}
	go pool.dispatch()
	return pool
}

// Submit queues a job. It reports false once the pool is stopping.
func (p *Pool[T]) Submit(job Job[T]) bool {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	select {
	case <-p.quit:
		lg.FromContext(job.Ctx).Info("worker pool is shutting down, job rejected")
		return false
	default:
	}
	select {
	case p.Jobs <- job:
		return true
	case <-p.quit:
		lg.FromContext(job.Ctx).Info("worker pool is shutting down, job rejected")
		return false
	}
}

// Wait stops accepting jobs, waits for every submitted job and returns
// the errors of the jobs that failed.
func (p *Pool[T]) Wait() []error {
	p.stopOnce.Do(func() { close(p.quit) })
	<-p.dispatched
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}

func (p *Pool[T]) dispatch() {
	defer close(p.dispatched)
	for {
		select {
		case job := <-p.Jobs:
			p.start(job)
		case <-p.quit:
			// drain what was queued before the stop
			for {
				select {
				case job := <-p.Jobs:
					p.start(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) start(job Job[T]) {
	p.wg.Add(1)
	p.sem <- struct{}{}
	atomic.AddInt32(&p.activeWorkers, 1)
	go p.worker(job)
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := lg.FromContext(job.Ctx).With(lg.Any("job", job.Payload))
	logger.Debug("worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = job.Fn(job.Ctx, job.Payload); err == nil {
			break
		}
		if attempt == p.attempts || job.Ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * p.pause):
		case <-job.Ctx.Done():
		}
	}
	if err != nil {
		if p.attempts > 1 {
			err = fmt.Errorf("failed after %d attempts: %w", p.attempts, err)
		}
		logger.Warn("job failed", lg.Err(err))
		p.mu.Lock()
		p.errs = append(p.errs, err)
		p.mu.Unlock()
		return
	}
	logger.Debug("worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
