package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
)

// governor enforces the epoch deadline. Instrumented guests call check
// every engine.EpochInterval function entries and loop iterations; check
// traps once the clock passes the deadline.
type governor struct {
	clock     clock.Clock
	timeout   time.Duration
	autoreset bool
	deadline  atomic.Int64
}

func newGovernor(c clock.Clock, cfg config.Epoch) *governor {
	if !cfg.Enable {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultEpochTimeout
	}
	g := &governor{clock: c, timeout: timeout, autoreset: cfg.UseAutoreset}
	g.reset()
	return g
}

// reset moves the deadline to one timeout from now.
func (g *governor) reset() {
	g.deadline.Store(g.clock.Now().Add(g.timeout).UnixNano())
}

// hostReturned runs after every host callback.
func (g *governor) hostReturned() {
	if g.autoreset {
		g.reset()
	}
}

func (g *governor) expired() bool {
	return g.clock.Now().UnixNano() > g.deadline.Load()
}

func (g *governor) check(_ context.Context, _ api.Module, _ []uint64) {
	if !g.expired() {
		return
	}
	Logger().Debug("epoch deadline exceeded", zap.Duration("timeout", g.timeout))
	panic(errors.New(errors.PhaseCall, errors.KindTimeout).
		Detail("execution exceeded the epoch deadline of %s", g.timeout).
		Build())
}

// instantiate registers the check function the instrumented guest imports.
func (g *governor) instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(engine.EpochModule).
		NewFunctionBuilder().
		WithName(engine.EpochFunc).
		WithGoModuleFunction(api.GoModuleFunc(g.check), nil, nil).
		Export(engine.EpochFunc).
		Instantiate(ctx)
	if err != nil {
		return errors.Instantiation("register epoch check", err)
	}
	return nil
}
