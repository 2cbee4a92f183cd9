// Package pool runs guest calls on a fixed set of worker goroutines.
//
// A Pool executes independent jobs concurrently. A Queue, created per
// instance, runs its jobs one at a time in submission order on the pool's
// workers, which is what an Instance requires.
package pool

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

// Job is the unit of work. The context is the one passed to Submit.
type Job func(ctx context.Context) (value.Variant, error)

// Result is delivered once per submitted job.
type Result struct {
	Value value.Variant
	Err   error
}

type task struct {
	ctx context.Context
	job Job
	out chan Result
}

// Pool is a fixed-size worker pool.
type Pool struct {
	tasks   chan task
	done    chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger
	size    int
	backlog int

	mu     sync.RWMutex
	closed bool
}

// Option configures a Pool.
type Option func(*Pool) error

// WithBacklog sets how many submitted jobs may wait for a worker before
// Submit blocks.
func WithBacklog(n int) Option {
	return func(p *Pool) error {
		if n < 0 {
			return fmt.Errorf("backlog must not be negative, got %d", n)
		}
		p.backlog = n
		return nil
	}
}

// WithLogger sets the logger for worker events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) error {
		if l != nil {
			p.log = l
		}
		return nil
	}
}

// New starts a pool of size workers. A size of 0 uses one worker per CPU.
func New(size int, opts ...Option) (*Pool, error) {
	if size < 0 {
		return nil, errors.InvalidConfig("pool.size", fmt.Errorf("must not be negative, got %d", size))
	}
	if size == 0 {
		size = goruntime.NumCPU()
	}
	p := &Pool{
		size:    size,
		backlog: size,
		done:    make(chan struct{}),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.InvalidConfig("pool", err)
		}
	}
	p.tasks = make(chan task, p.backlog)
	p.wg.Add(size)
	for n := 0; n < size; n++ {
		go p.worker(n)
	}
	p.log.Debug("pool started", zap.Int("workers", size), zap.Int("backlog", p.backlog))
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			t.out <- run(t.ctx, t.job)
		case <-p.done:
			// drain what was accepted before Close
			for {
				select {
				case t := <-p.tasks:
					t.out <- run(t.ctx, t.job)
				default:
					p.log.Debug("worker stopped", zap.Int("worker", n))
					return
				}
			}
		}
	}
}

// run executes job, turning a panic into an error result.
func run(ctx context.Context, job Job) (res Result) {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: errors.New(errors.PhaseHost, errors.KindHostError).
				Detail("job panicked: %v", r).
				Build()}
		}
	}()
	v, err := job(ctx)
	return Result{Value: v, Err: err}
}

// Submit schedules job and returns a channel that receives exactly one
// Result. It blocks while the backlog is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) <-chan Result {
	out := make(chan Result, 1)
	if err := p.submit(ctx, task{ctx: ctx, job: job, out: out}); err != nil {
		out <- Result{Err: err}
	}
	return out
}

func (p *Pool) submit(ctx context.Context, t task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return closedError()
	}
	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs the ones already accepted and stops the
// workers. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func closedError() error {
	return errors.New(errors.PhaseCall, errors.KindClosed).Detail("pool closed").Build()
}
