package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

const guestWAT = `(module
  (import "host" "add" (func $add (param i32 i32) (result i32)))
  (import "host" "pair" (func $pair (result i32 i64)))
  (import "host" "recurse" (func $recurse (param i32) (result i32)))
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    call $add)
  (func (export "pair_sum") (result i64) (local i64)
    call $pair
    local.set 0
    i64.extend_i32_s
    local.get 0
    i64.add)
  (func (export "down") (param i32) (result i32)
    local.get 0
    call $recurse))`

type fixture struct {
	ctx    context.Context
	r      wazero.Runtime
	module *engine.Module
	frames *Frames
	binder *Binder
}

func newFixture(t *testing.T, src string) *fixture {
	t.Helper()
	ctx := context.Background()
	e, err := engine.New(ctx)
	require.NoError(t, err)
	m, err := e.Compile(ctx, engine.Text(src), nil)
	require.NoError(t, err)

	r := wazero.NewRuntimeWithConfig(ctx, e.RuntimeConfig())
	t.Cleanup(func() {
		_ = r.Close(ctx)
		_ = e.Close(ctx)
	})
	frames := &Frames{}
	return &fixture{ctx: ctx, r: r, module: m, frames: frames, binder: &Binder{Frames: frames}}
}

func (f *fixture) instantiate(t *testing.T, descs map[string]Descriptor) api.Module {
	t.Helper()
	_, err := f.binder.Bind(f.ctx, f.r, "host", f.module.HostImports(), descs)
	require.NoError(t, err)
	mod, err := f.r.Instantiate(f.ctx, f.module.Binary())
	require.NoError(t, err)
	return mod
}

func constant(v value.Variant) CallableFunc {
	return func(context.Context, []value.Variant) (value.Variant, error) { return v, nil }
}

func descriptors(add, pair, recurse CallableFunc) map[string]Descriptor {
	return map[string]Descriptor{
		"add":     MustFunc([]uint32{value.CodeI32, value.CodeI32}, []uint32{value.CodeI32}, add),
		"pair":    MustFunc(nil, []uint32{value.CodeI32, value.CodeI64}, pair),
		"recurse": MustFunc([]uint32{value.CodeI32}, []uint32{value.CodeI32}, recurse),
	}
}

func sum(_ context.Context, args []value.Variant) (value.Variant, error) {
	a, _ := value.AsInt(args[0])
	b, _ := value.AsInt(args[1])
	return value.Int(a + b), nil
}

func TestTrampolineResults(t *testing.T) {
	tests := []struct {
		name    string
		add     CallableFunc
		pair    CallableFunc
		fn      string
		args    []uint64
		want    uint64
		wantErr string
	}{
		{name: "scalar", add: sum, fn: "add", args: []uint64{2, 3}, want: 5},
		{name: "i32 truncation", add: constant(value.Int(0x1_0000_0001)), fn: "add", want: 1},
		{name: "first element", add: constant(value.Int64Array{9, 8}), fn: "add", want: 9},
		{name: "empty array", add: constant(value.Array{}), fn: "add", wantErr: "Array too short"},
		{name: "multi", pair: constant(value.Array{value.Int(-1), value.Int(10)}), fn: "pair_sum", want: 9},
		{name: "multi from typed array", pair: constant(value.Int64Array{1, 2, 3}), fn: "pair_sum", want: 3},
		{name: "multi too short", pair: constant(value.Array{value.Int(1)}), fn: "pair_sum", wantErr: "Array too short"},
		{name: "multi scalar", pair: constant(value.Int(1)), fn: "pair_sum", wantErr: "type_mismatch"},
		{name: "wrong type", add: constant(value.String("x")), fn: "add", wantErr: "type_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, guestWAT)
			add, pair := tt.add, tt.pair
			if add == nil {
				add = sum
			}
			if pair == nil {
				pair = constant(value.Array{value.Int(0), value.Int(0)})
			}
			mod := f.instantiate(t, descriptors(add, pair, constant(value.Int(0))))

			args := tt.args
			if tt.fn == "add" && args == nil {
				args = []uint64{0, 0}
			}
			res, err := mod.ExportedFunction(tt.fn).Call(f.ctx, args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res[0])
			assert.Zero(t, f.frames.Depth())
		})
	}
}

func TestBindSignatureMismatch(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"param kind", MustFunc([]uint32{value.CodeI64, value.CodeI32}, []uint32{value.CodeI32}, sum)},
		{"param arity", MustFunc([]uint32{value.CodeI32}, []uint32{value.CodeI32}, sum)},
		{"result arity", MustFunc([]uint32{value.CodeI32, value.CodeI32}, nil, sum)},
		{"result kind", MustFunc([]uint32{value.CodeI32, value.CodeI32}, []uint32{value.CodeF32}, sum)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, guestWAT)
			descs := descriptors(sum, constant(value.Array{}), constant(value.Int(0)))
			descs["add"] = tt.desc
			_, err := f.binder.Bind(f.ctx, f.r, "host", f.module.HostImports(), descs)
			require.ErrorIs(t, err, errors.ErrSignatureMismatch)
			assert.Contains(t, err.Error(), "host.add")
			assert.Contains(t, err.Error(), "(i32, i32) -> (i32)")
		})
	}
}

func TestBindMissing(t *testing.T) {
	f := newFixture(t, guestWAT)
	descs := descriptors(sum, constant(value.Array{}), constant(value.Int(0)))
	delete(descs, "pair")
	delete(descs, "recurse")

	_, err := f.binder.Bind(f.ctx, f.r, "host", f.module.HostImports(), descs)
	require.ErrorIs(t, err, errors.ErrUnresolvedImport)
	assert.Contains(t, err.Error(), "pair")
	assert.Contains(t, err.Error(), "recurse")
}

func TestBindRejectsV128(t *testing.T) {
	f := newFixture(t, `(module)`)
	_, err := f.binder.Bind(f.ctx, f.r, "host", nil, map[string]Descriptor{
		"vec": MustFunc([]uint32{value.CodeV128}, nil, constant(nil)),
	})
	assert.Error(t, err)
}

func TestSignalError(t *testing.T) {
	f := newFixture(t, guestWAT)
	cancel := false
	add := func(ctx context.Context, args []value.Variant) (value.Variant, error) {
		prev, ok := f.frames.Signal("first")
		assert.True(t, ok)
		assert.Empty(t, prev)
		prev, _ = f.frames.Signal("boom")
		assert.Equal(t, "first", prev)
		if cancel {
			assert.True(t, f.frames.Cancel())
		}
		return value.Int(1), nil
	}
	mod := f.instantiate(t, descriptors(add, constant(value.Array{}), constant(value.Int(0))))

	_, err := mod.ExportedFunction("add").Call(f.ctx, 0, 0)
	require.ErrorIs(t, err, errors.ErrHostError)
	assert.Contains(t, err.Error(), "boom")

	cancel = true
	res, err := mod.ExportedFunction("add").Call(f.ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res[0])

	_, ok := f.frames.Signal("outside")
	assert.False(t, ok, "no host call in flight")
}

func TestReentrantSignalScope(t *testing.T) {
	f := newFixture(t, guestWAT)
	var depths []int
	recurse := func(ctx context.Context, args []value.Variant) (value.Variant, error) {
		n, _ := value.AsInt(args[0])
		depths = append(depths, f.frames.Depth())
		if n == 1 {
			f.frames.Signal("deep failure")
			return value.Int(0), nil
		}
		res, err := Caller(ctx).ExportedFunction("down").Call(ctx, uint64(n-1))
		if err != nil {
			assert.ErrorIs(t, err, errors.ErrHostError)
			_, pending := f.frames.Pending()
			assert.False(t, pending, "inner signal must not leak outward")
			return value.Int(n * 100), nil
		}
		return value.Int(int64(int32(res[0])) + n), nil
	}
	mod := f.instantiate(t, descriptors(sum, constant(value.Array{}), recurse))

	res, err := mod.ExportedFunction("down").Call(f.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(203), res[0])
	assert.Equal(t, []int{1, 2, 3}, depths)
	assert.Zero(t, f.frames.Depth())

	_, err = mod.ExportedFunction("down").Call(f.ctx, 2)
	require.NoError(t, err, "instance stays usable")
}

func TestCallerError(t *testing.T) {
	f := newFixture(t, guestWAT)
	add := func(context.Context, []value.Variant) (value.Variant, error) {
		return nil, assert.AnError
	}
	mod := f.instantiate(t, descriptors(add, constant(value.Array{}), constant(value.Int(0))))
	_, err := mod.ExportedFunction("add").Call(f.ctx, 1, 2)
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, errors.ErrHostError)
}

func TestAfterCall(t *testing.T) {
	f := newFixture(t, guestWAT)
	calls := 0
	f.binder.AfterCall = func() { calls++ }
	mod := f.instantiate(t, descriptors(sum, constant(value.Array{}), constant(value.Int(0))))
	_, err := mod.ExportedFunction("add").Call(f.ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestFromVariant(t *testing.T) {
	d, err := FromVariant(value.Bytes{1, 2}, value.Array{value.Int(6)}, constant(nil))
	require.NoError(t, err)
	assert.Equal(t, wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI64},
		Results: []wasm.ValType{wasm.ValExternRef},
	}, d.Type())

	_, err = FromVariant(value.Bytes{9}, nil, constant(nil))
	assert.Error(t, err)
	_, err = Func([]uint32{0}, nil, nil)
	assert.Error(t, err)
}

func TestFrames(t *testing.T) {
	var f Frames
	assert.False(t, f.Cancel())
	f.push()
	f.Signal("a")
	f.push()
	_, pending := f.Pending()
	assert.False(t, pending)
	f.Signal("b")
	msg, ok := f.pop()
	assert.True(t, ok)
	assert.Equal(t, "b", msg)
	msg, ok = f.Pending()
	assert.True(t, ok)
	assert.Equal(t, "a", msg)
	f.pop()
	assert.Zero(t, f.Depth())
}
