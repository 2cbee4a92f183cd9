package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/value"
)

func newPool(t *testing.T, size int, opts ...Option) *Pool {
	t.Helper()
	p, err := New(size, append(opts, WithLogger(zaptest.NewLogger(t)))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewOptions(t *testing.T) {
	tests := []struct {
		name string
		size int
		opts []Option
		ok   bool
	}{
		{"default size", 0, nil, true},
		{"explicit", 3, []Option{WithBacklog(0)}, true},
		{"negative size", -1, nil, false},
		{"negative backlog", 1, []Option{WithBacklog(-1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.size, tt.opts...)
			if !tt.ok {
				assert.ErrorIs(t, err, errors.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Positive(t, p.Size())
			require.NoError(t, p.Close())
		})
	}
}

func TestSubmitRunsConcurrently(t *testing.T) {
	const workers = 4
	p := newPool(t, workers)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(workers)
	release := make(chan struct{})
	results := make([]<-chan Result, workers)
	for n := 0; n < workers; n++ {
		n := n
		results[n] = p.Submit(ctx, func(context.Context) (value.Variant, error) {
			wg.Done()
			<-release
			return value.Int(n), nil
		})
	}
	wg.Wait()
	close(release)

	for n, ch := range results {
		r := <-ch
		require.NoError(t, r.Err)
		assert.Equal(t, value.Int(n), r.Value)
	}
}

func TestSubmitRecoversPanics(t *testing.T) {
	p := newPool(t, 1)
	r := <-p.Submit(context.Background(), func(context.Context) (value.Variant, error) {
		panic("boom")
	})
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "boom")

	r = <-p.Submit(context.Background(), func(context.Context) (value.Variant, error) {
		return value.Bool(true), nil
	})
	require.NoError(t, r.Err, "the worker survives")
}

func TestSubmitCanceled(t *testing.T) {
	p := newPool(t, 1, WithBacklog(0))
	block := make(chan struct{})
	busy := p.Submit(context.Background(), func(context.Context) (value.Variant, error) {
		<-block
		return value.Nil{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := <-p.Submit(ctx, func(context.Context) (value.Variant, error) {
		t.Error("job must not run")
		return nil, nil
	})
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)

	close(block)
	assert.NoError(t, (<-busy).Err)
}

func TestCloseRunsAcceptedJobs(t *testing.T) {
	p, err := New(1, WithBacklog(8))
	require.NoError(t, err)

	var ran atomic.Int32
	var results []<-chan Result
	for n := 0; n < 8; n++ {
		results = append(results, p.Submit(context.Background(), func(context.Context) (value.Variant, error) {
			ran.Add(1)
			return value.Nil{}, nil
		}))
	}
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, int32(8), ran.Load())
	for _, ch := range results {
		assert.NoError(t, (<-ch).Err)
	}

	r := <-p.Submit(context.Background(), func(context.Context) (value.Variant, error) { return nil, nil })
	assert.ErrorIs(t, r.Err, errors.ErrClosed)
}

func TestQueueIsFIFOAndSerial(t *testing.T) {
	p := newPool(t, 4)
	q := p.Queue()
	ctx := context.Background()

	var (
		active atomic.Int32
		mu     sync.Mutex
		order  []int
	)
	var results []<-chan Result
	for n := 0; n < 50; n++ {
		n := n
		results = append(results, q.Submit(ctx, func(context.Context) (value.Variant, error) {
			if active.Add(1) != 1 {
				t.Error("queue jobs overlapped")
			}
			defer active.Add(-1)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return value.Int(n), nil
		}))
	}
	for n, ch := range results {
		r := <-ch
		require.NoError(t, r.Err)
		assert.Equal(t, value.Int(n), r.Value)
	}
	for n := range order {
		assert.Equal(t, n, order[n])
	}
	assert.Zero(t, q.Len())
}

func TestQueueClose(t *testing.T) {
	p := newPool(t, 1)
	q := p.Queue()
	require.NoError(t, q.Close())
	r := <-q.Submit(context.Background(), func(context.Context) (value.Variant, error) { return nil, nil })
	assert.ErrorIs(t, r.Err, errors.ErrClosed)

	r = <-p.Queue().Call(context.Background(), "f")
	assert.ErrorIs(t, r.Err, errors.ErrCall, "unbound queue")
}

func TestQueueOnClosedPool(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	r := <-p.Queue().Submit(context.Background(), func(context.Context) (value.Variant, error) { return nil, nil })
	assert.ErrorIs(t, r.Err, errors.ErrClosed)
}

func TestQueueSubmitFromBusyWorker(t *testing.T) {
	p := newPool(t, 1, WithBacklog(0))
	q := p.Queue()

	var later <-chan Result
	outer := <-p.Submit(context.Background(), func(ctx context.Context) (value.Variant, error) {
		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		ch := q.Submit(short, func(context.Context) (value.Variant, error) { return value.Int(1), nil })
		later = q.Submit(context.Background(), func(context.Context) (value.Variant, error) { return value.Int(2), nil })
		assert.Less(t, time.Since(start), 50*time.Millisecond, "submit does not wait for a worker")
		return nil, (<-ch).Err
	})
	assert.ErrorIs(t, outer.Err, context.DeadlineExceeded, "the only worker is busy with the caller")

	select {
	case r := <-later:
		require.NoError(t, r.Err)
		assert.Equal(t, value.Int(2), r.Value, "jobs with a live context still run")
	case <-time.After(5 * time.Second):
		t.Fatal("queue never reached a worker")
	}
	assert.Zero(t, q.Len())
}

const counterWAT = `(module
  (global $n (mut i32) (i32.const 0))
  (func (export "next") (result i32)
    (global.set $n (i32.add (global.get $n) (i32.const 1)))
    (global.get $n)))`

func TestBoundQueueSerializesInstanceCalls(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(ctx) })
	mod, err := eng.Compile(ctx, engine.Text(counterWAT), nil)
	require.NoError(t, err)
	inst, err := runtime.New(eng).InstantiateMap(ctx, mod, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })

	p := newPool(t, 4)
	q := p.Bind(inst)

	const calls = 100
	var wg sync.WaitGroup
	got := make([]int64, calls)
	for n := 0; n < calls; n++ {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := <-q.Call(ctx, "next")
			if assert.NoError(t, r.Err) {
				got[n], _ = value.AsInt(r.Value)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, v := range got {
		assert.False(t, seen[v], "duplicate counter value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, calls)
}
