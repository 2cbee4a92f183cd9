package pool

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/value"
)

// Queue runs jobs one at a time, in submission order, on a Pool. At most
// one worker serves a queue at any moment.
type Queue struct {
	id   string
	pool *Pool
	inst *runtime.Instance

	mu      sync.Mutex
	pending []task
	running bool
	closed  bool
}

// Queue creates a queue that is not bound to an instance.
func (p *Pool) Queue() *Queue {
	return &Queue{id: uuid.NewString(), pool: p}
}

// Bind creates a queue for calls into inst.
func (p *Pool) Bind(inst *runtime.Instance) *Queue {
	q := p.Queue()
	q.inst = inst
	return q
}

// ID identifies the queue in logs.
func (q *Queue) ID() string { return q.id }

// Len returns the number of jobs waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submit appends job to the queue without blocking. The returned channel
// receives exactly one Result. A job whose ctx is done before the queue
// reaches a worker receives the context error.
func (q *Queue) Submit(ctx context.Context, job Job) <-chan Result {
	out := make(chan Result, 1)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		out <- Result{Err: errors.New(errors.PhaseCall, errors.KindClosed).Detail("queue closed").Build()}
		return out
	}
	q.pending = append(q.pending, task{ctx: ctx, job: job, out: out})
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if start {
		go q.schedule(ctx)
	}
	return out
}

// Call queues a call of the export name on the bound instance.
func (q *Queue) Call(ctx context.Context, name string, args ...value.Variant) <-chan Result {
	if q.inst == nil {
		out := make(chan Result, 1)
		out <- Result{Err: errors.Unsupported(errors.PhaseCall, "queue is not bound to an instance")}
		return out
	}
	return q.Submit(ctx, func(ctx context.Context) (value.Variant, error) {
		return q.inst.CallWasm(ctx, name, args...)
	})
}

// schedule hands the queue to a worker, waiting for a free backlog slot
// for as long as ctx allows. When ctx ends first, the jobs whose own
// context is done are failed and the wait continues on behalf of the next
// pending job.
func (q *Queue) schedule(ctx context.Context) {
	for {
		drain := task{ctx: context.Background(), job: q.drain, out: make(chan Result, 1)}
		err := q.pool.submit(ctx, drain)
		if err == nil {
			return
		}
		if ctx.Err() == nil {
			q.fail(err)
			return
		}
		next, ok := q.expire()
		if !ok {
			return
		}
		ctx = next
	}
}

// expire fails the pending jobs whose context is done and returns the
// context of the first job still waiting.
func (q *Queue) expire() (context.Context, bool) {
	q.mu.Lock()
	var expired, kept []task
	for _, t := range q.pending {
		if t.ctx.Err() != nil {
			expired = append(expired, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.pending = kept
	if len(kept) == 0 {
		q.running = false
	}
	q.mu.Unlock()

	for _, t := range expired {
		t.out <- Result{Err: t.ctx.Err()}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept[0].ctx, true
}

// drain runs pending jobs until the queue is empty.
func (q *Queue) drain(context.Context) (value.Variant, error) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return value.Nil{}, nil
		}
		t := q.pending[0]
		q.pending[0] = task{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		t.out <- run(t.ctx, t.job)
	}
}

// fail reports err to every pending job. It runs when the pool refused to
// schedule the queue.
func (q *Queue) fail(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.running = false
	q.mu.Unlock()
	q.pool.log.Debug("queue not scheduled", zap.String("queue", q.id), zap.Int("jobs", len(pending)), zap.Error(err))
	for _, t := range pending {
		t.out <- Result{Err: err}
	}
}

// Close stops accepting jobs. Jobs already queued still run.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
