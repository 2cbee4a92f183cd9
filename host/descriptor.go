package host

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

// Callable is the host side of an import. The returned value is converted
// to the declared results: ignored for none, used directly for one (or its
// first element when it is an array), and indexed for several.
type Callable interface {
	Call(ctx context.Context, args []value.Variant) (value.Variant, error)
}

// CallableFunc adapts a function to Callable.
type CallableFunc func(ctx context.Context, args []value.Variant) (value.Variant, error)

func (f CallableFunc) Call(ctx context.Context, args []value.Variant) (value.Variant, error) {
	return f(ctx, args)
}

// Descriptor binds one import to a host callable.
type Descriptor struct {
	Params   []wasm.ValType
	Results  []wasm.ValType
	Callable Callable
	// Raw, when set, is bound instead of Callable. It sees the wazero stack
	// directly and gets no error frame.
	Raw api.GoModuleFunc
}

// Func builds a descriptor from type codes (value.CodeI32 and friends).
func Func(params, results []uint32, fn CallableFunc) (Descriptor, error) {
	d := Descriptor{Callable: fn}
	var err error
	if d.Params, err = fromCodes(params); err != nil {
		return Descriptor{}, err
	}
	if d.Results, err = fromCodes(results); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// MustFunc is like Func but panics on an unknown type code.
func MustFunc(params, results []uint32, fn CallableFunc) Descriptor {
	d, err := Func(params, results, fn)
	if err != nil {
		panic(err)
	}
	return d
}

// FromVariant builds a descriptor from type lists given as byte arrays or
// integer arrays of type codes.
func FromVariant(params, results value.Variant, c Callable) (Descriptor, error) {
	p, err := value.TypesFromVariant(params)
	if err != nil {
		return Descriptor{}, err
	}
	r, err := value.TypesFromVariant(results)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Params: p, Results: r, Callable: c}, nil
}

func fromCodes(codes []uint32) ([]wasm.ValType, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	out := make([]wasm.ValType, len(codes))
	for i, c := range codes {
		t, err := value.TypeFromCode(c)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Type returns the wasm signature of d.
func (d Descriptor) Type() wasm.FuncType {
	return wasm.FuncType{Params: d.Params, Results: d.Results}
}

// Check compares d with the signature the module declares for module.name.
func (d Descriptor) Check(module, name string, declared wasm.FuncType) error {
	if d.Callable == nil && d.Raw == nil {
		return errors.New(errors.PhaseLink, errors.KindInvalidInput).
			Path(module, name).
			Detail("descriptor has no callable").
			Build()
	}
	if !declared.Equal(d.Type()) {
		return errors.SignatureMismatch(module, name, declared.String(), d.Type().String())
	}
	return nil
}
