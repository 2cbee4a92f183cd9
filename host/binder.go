package host

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

type callerKey struct{}

// Caller returns the module whose import is executing, or nil outside a
// host call. Callables use it to reach the guest's memory and exports.
func Caller(ctx context.Context) api.Module {
	m, _ := ctx.Value(callerKey{}).(api.Module)
	return m
}

// Binder turns descriptors into wazero host modules.
type Binder struct {
	Marshaler value.Marshaler
	// Frames receives a slot per host call. Required.
	Frames *Frames
	// AfterCall runs when a callable returns, before its results are
	// checked.
	AfterCall func()
}

// Bind checks descs against the imports the module requires from namespace
// and instantiates them as a host module in r. Descriptors for names the
// module does not import are bound too.
func (b *Binder) Bind(ctx context.Context, r wazero.Runtime, namespace string, required []wasm.FuncImport, descs map[string]Descriptor) (api.Module, error) {
	var (
		errs    error
		missing []string
	)
	for _, imp := range required {
		if imp.Module != namespace {
			continue
		}
		d, ok := descs[imp.Name]
		if !ok {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		errs = multierr.Append(errs, d.Check(imp.Module, imp.Name, imp.Type))
	}
	if len(missing) > 0 {
		errs = multierr.Append(errs, errors.NewMissingImportsError(missing))
	}
	if errs != nil {
		return nil, errs
	}

	names := make([]string, 0, len(descs))
	for name := range descs {
		names = append(names, name)
	}
	sort.Strings(names)

	builder := r.NewHostModuleBuilder(namespace)
	for _, name := range names {
		if err := b.Define(builder, namespace, name, descs[name]); err != nil {
			return nil, err
		}
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(fmt.Sprintf("bind %s imports", namespace), err)
	}
	Logger().Debug("bound host module", zap.String("namespace", namespace), zap.Int("functions", len(names)))
	return mod, nil
}

// Define adds one trampoline to builder.
func (b *Binder) Define(builder wazero.HostModuleBuilder, namespace, name string, d Descriptor) error {
	if d.Callable == nil && d.Raw == nil {
		return errors.New(errors.PhaseLink, errors.KindInvalidInput).
			Path(namespace, name).
			Detail("descriptor has no callable").
			Build()
	}
	params, err := apiTypes(namespace, name, d.Params)
	if err != nil {
		return err
	}
	results, err := apiTypes(namespace, name, d.Results)
	if err != nil {
		return err
	}
	fn := d.Raw
	if fn == nil {
		fn = b.trampoline(namespace+"."+name, d)
	}
	builder.NewFunctionBuilder().
		WithName(name).
		WithGoModuleFunction(fn, params, results).
		Export(name)
	return nil
}

// The value type bytes of the binary format and wazero's api coincide.
func apiTypes(namespace, name string, ts []wasm.ValType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(ts))
	for i, t := range ts {
		switch t {
		case wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValExternRef, wasm.ValFuncRef:
			out[i] = api.ValueType(t)
		default:
			return nil, errors.New(errors.PhaseLink, errors.KindUnsupported).
				Path(namespace, name).
				Detail("%s is not supported in host function signatures", t).
				Build()
		}
	}
	return out, nil
}

// trampoline panics to trap the guest. wazero recovers the panic and
// returns it, wrapped, from the guest call that reached this import.
func (b *Binder) trampoline(fullName string, d Descriptor) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args, err := b.Marshaler.LiftAll(d.Params, stack)
		if err != nil {
			panic(err)
		}

		ret, msg, signalled, callErr := b.invoke(context.WithValue(ctx, callerKey{}, mod), d.Callable, args)
		if b.AfterCall != nil {
			b.AfterCall()
		}
		if callErr != nil {
			panic(errors.Wrap(errors.PhaseCall, errors.KindHostError, callErr, "host function "+fullName))
		}
		if signalled {
			panic(errors.New(errors.PhaseCall, errors.KindHostError).
				Path(fullName).
				Detail("%s", msg).
				Build())
		}

		results, err := resultValues(d.Results, ret)
		if err != nil {
			panic(err)
		}
		lowered, err := b.Marshaler.LowerAll(d.Results, results)
		if err != nil {
			panic(err)
		}
		copy(stack, lowered)
	}
}

func (b *Binder) invoke(ctx context.Context, c Callable, args []value.Variant) (ret value.Variant, msg string, signalled bool, err error) {
	b.Frames.push()
	defer func() {
		msg, signalled = b.Frames.pop()
	}()
	ret, err = c.Call(ctx, args)
	return
}

// resultValues spreads a callable's return value over the declared results.
func resultValues(types []wasm.ValType, ret value.Variant) ([]value.Variant, error) {
	switch len(types) {
	case 0:
		return nil, nil
	case 1:
		if types[0] == wasm.ValV128 || types[0] == wasm.ValExternRef || !value.IsSequence(ret) {
			return []value.Variant{ret}, nil
		}
		first, ok := value.Index(ret, 0)
		if !ok {
			return nil, tooShort(1, 0)
		}
		return []value.Variant{first}, nil
	}

	if !value.IsSequence(ret) {
		return nil, errors.TypeMismatch(nil, fmt.Sprintf("array of %d results", len(types)), value.KindOf(ret).String())
	}
	if n := value.Len(ret); n < len(types) {
		return nil, tooShort(len(types), n)
	}
	out := make([]value.Variant, len(types))
	for i := range out {
		out[i], _ = value.Index(ret, i)
	}
	return out, nil
}

func tooShort(want, got int) error {
	return errors.New(errors.PhaseCall, errors.KindArity).
		Expected(fmt.Sprintf("%d results", want)).
		Actual(fmt.Sprint(got)).
		Detail("Array too short").
		Build()
}
