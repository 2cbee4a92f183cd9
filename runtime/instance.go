package runtime

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/memory"
	"github.com/wippyai/wasm-bridge/resource"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasi"
)

// Instance is a live module. It owns its own wazero runtime, so memories,
// tables and globals are never shared with other instances.
//
// An Instance runs one call chain at a time. Host callbacks may call back
// into it on the same goroutine; calls from other goroutines must be
// serialized by the caller, for example with a pool.Queue.
type Instance struct {
	id        string
	module    *engine.Module
	cfg       config.Config
	events    Events
	runtime   wazero.Runtime
	main      api.Module
	marshaler value.Marshaler
	frames    *host.Frames
	registry  *resource.Registry
	externs   *resource.Externs
	governor  *governor
	budget    *memoryBudget
	stdio     *wasi.Stdio

	memName string
	mem     *memory.Accessor

	depth     int
	exhausted error

	closeOnce sync.Once
	closeErr  error
}

type instanceKey struct{}

func withInstance(ctx context.Context, i *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, i)
}

// FromContext returns the instance whose host callback is running, or nil.
func FromContext(ctx context.Context) *Instance {
	i, _ := ctx.Value(instanceKey{}).(*Instance)
	return i
}

// ID is unique per instance.
func (i *Instance) ID() string { return i.id }

// Module returns the module the instance was created from.
func (i *Instance) Module() *engine.Module { return i.module }

// Config returns the configuration the instance was created with.
func (i *Instance) Config() config.Config { return i.cfg }

// CallWasm calls the export name. A function with no results returns
// value.Nil, one result is returned as is and several as a value.Array.
//
// Every failure is also reported through Events.ErrorHappened. A trap
// leaves the instance usable, except when the module has exited; from then
// on every call fails with errors.ErrExhausted.
func (i *Instance) CallWasm(ctx context.Context, name string, args ...value.Variant) (res value.Variant, err error) {
	ctx, span := engine.StartSpan(ctx, "runtime.CallWasm", trace.WithAttributes(
		attribute.String("wasm.instance", i.id),
		attribute.String("wasm.function", name)))
	defer span.End()
	defer func() {
		if err != nil {
			i.events.errorHappened(message(err))
			Logger().Debug("call failed", zap.String("instance", i.id), zap.String("function", name), zap.Error(err))
		}
		engine.RecordError(span, err)
	}()

	if i.exhausted != nil {
		return nil, errors.New(errors.PhaseCall, errors.KindExhausted).
			Path(name).
			Detail("instance is no longer usable").
			Cause(i.exhausted).
			Build()
	}
	sig, ok := i.module.Export(name)
	fn := i.main.ExportedFunction(name)
	if !ok || fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "function", name)
	}
	if len(args) != len(sig.Params) {
		return nil, errors.Arity("arguments", len(sig.Params), len(args))
	}
	params, err := i.marshaler.LowerAll(sig.Params, args)
	if err != nil {
		return nil, err
	}

	stack := make([]uint64, max(len(params), value.Slots(sig.Results)))
	copy(stack, params)

	i.depth++
	if i.depth == 1 && i.governor != nil {
		i.governor.reset()
	}
	callErr := fn.CallWithStack(withInstance(ctx, i), stack)
	i.depth--
	if callErr != nil {
		return nil, i.classify(name, callErr)
	}

	results, err := i.marshaler.LiftAll(sig.Results, stack)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return value.Nil{}, nil
	case 1:
		return results[0], nil
	}
	return value.Array(results), nil
}

// classify turns an error returned by wazero into a call error. A closed
// module marks the instance exhausted.
func (i *Instance) classify(name string, err error) error {
	var exit *sys.ExitError
	switch {
	case stderrors.As(err, &exit):
		e := errors.New(errors.PhaseCall, errors.KindExhausted).
			Path(name).
			Detail("module exited with code %d, instance is no longer usable", exit.ExitCode()).
			Cause(err).
			Build()
		i.exhausted = e
		Logger().Debug("instance exhausted", zap.String("instance", i.id), zap.Uint32("exit_code", exit.ExitCode()))
		return e
	case stderrors.Is(err, errors.ErrTimeout):
		return errors.New(errors.PhaseCall, errors.KindTimeout).Path(name).Cause(err).Build()
	case stderrors.Is(err, errors.ErrHostError):
		return errors.New(errors.PhaseCall, errors.KindHostError).Path(name).Cause(err).Build()
	}
	return errors.Trap(name, err)
}

// message is the text reported through ErrorHappened.
func message(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		msg := e.Message()
		if len(e.Path) > 0 {
			msg = strings.Join(e.Path, ".") + ": " + msg
		}
		return msg
	}
	return err.Error()
}

// BindCallable returns a callable that calls the export name. It can be
// passed as a host import of another instance.
func (i *Instance) BindCallable(name string) host.Callable {
	return host.CallableFunc(func(ctx context.Context, args []value.Variant) (value.Variant, error) {
		return i.CallWasm(ctx, name, args...)
	})
}

// SignalError makes the innermost running host callback trap with msg when
// it returns. It returns the message it replaced. Outside a callback it
// has no effect.
func (i *Instance) SignalError(msg string) string {
	prev, _ := i.frames.Signal(msg)
	return prev
}

// SignalErrorCancel withdraws the innermost pending signal.
func (i *Instance) SignalErrorCancel() {
	i.frames.Cancel()
}

// ResetEpoch pushes the epoch deadline one timeout into the future.
func (i *Instance) ResetEpoch() {
	if i.governor != nil {
		i.governor.reset()
	}
}

func (i *Instance) hostReturned() {
	if i.governor != nil {
		i.governor.hostReturned()
	}
}

// Registry returns the instance's object registry.
func (i *Instance) Registry() *resource.Registry { return i.registry }

// RegisterObject stores v and returns its id. Nil is always id 0.
func (i *Instance) RegisterObject(v value.Variant) uint32 {
	return i.registry.Register(v)
}

// RegistryGet returns the value stored under id.
func (i *Instance) RegistryGet(id uint32) (value.Variant, bool) {
	return i.registry.Get(id)
}

// RegistrySet replaces the value stored under id. Setting nil unregisters.
func (i *Instance) RegistrySet(id uint32, v value.Variant) bool {
	_, ok := i.registry.Replace(id, v)
	return ok
}

// UnregisterObject frees id for reuse and returns the value it held.
func (i *Instance) UnregisterObject(id uint32) (value.Variant, bool) {
	return i.registry.Unregister(id)
}

// StdinAddLine queues a line for a stdin bound to the instance.
func (i *Instance) StdinAddLine(line string) error {
	if i.stdio == nil || i.stdio.Stdin == nil {
		return errors.Unsupported(errors.PhaseCall, "stdin is not bound to the instance")
	}
	i.stdio.Stdin.AddLine(line)
	return nil
}

// StdinClose ends a stdin bound to the instance.
func (i *Instance) StdinClose() error {
	if i.stdio == nil || i.stdio.Stdin == nil {
		return errors.Unsupported(errors.PhaseCall, "stdin is not bound to the instance")
	}
	return i.stdio.Stdin.Close()
}

// Close flushes instance-bound output and releases the instance. It is
// safe to call more than once.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		var err error
		if i.stdio != nil {
			err = multierr.Append(err, i.stdio.Close())
		}
		if i.runtime != nil {
			err = multierr.Append(err, i.runtime.Close(ctx))
		}
		err = multierr.Append(err, i.registry.Close())
		err = multierr.Append(err, i.externs.Close())
		i.closeErr = err
		Logger().Debug("instance closed", zap.String("instance", i.id))
	})
	return i.closeErr
}
