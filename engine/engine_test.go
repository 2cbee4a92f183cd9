package engine

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

const mathWAT = `(module
  (memory (export "memory") 1 4)
  (table 2 funcref)
  (global (export "base") i32 (i32.const 7))
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add))`

const mainWAT = `(module
  (import "math" "add" (func $add (param i32 i32) (result i32)))
  (import "host" "log" (func $log (param i32)))
  (memory 2)
  (func (export "run") (param i32) (result i32)
    local.get 0
    call $log
    local.get 0
    i32.const 1
    call $add))`

// One function typed () -> i32 whose body is empty.
var invalidBinary = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func compileText(t *testing.T, e *Engine, src string, imports map[string]*Module) *Module {
	t.Helper()
	m, err := e.Compile(context.Background(), Text(src), imports)
	require.NoError(t, err)
	return m
}

func TestCompileSources(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	fromText := compileText(t, e, mathWAT, nil)

	tests := []struct {
		name string
		src  Source
	}{
		{"binary", Binary(fromText.Binary())},
		{"detected binary", Detect(fromText.Binary())},
		{"precompiled", Precompiled(Serialize(fromText))},
		{"detected precompiled", Detect(Serialize(fromText))},
		{"detected text", Detect([]byte(mathWAT))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.Compile(ctx, tt.src, nil)
			require.NoError(t, err)
			assert.Equal(t, fromText.ID(), m.ID())
			assert.Equal(t, fromText.Exports(), m.Exports())
			assert.Equal(t, fromText.Imports(), m.Imports())
			assert.True(t, m.IsCoreModule())
			assert.False(t, m.IsComponent())
		})
	}

	same, err := e.Compile(ctx, fromText, nil)
	require.NoError(t, err)
	assert.Same(t, fromText, same, "module without imports passes through")
}

func TestCompileMemoizes(t *testing.T) {
	e := newEngine(t)
	a := compileText(t, e, mathWAT, nil)
	b := compileText(t, e, mathWAT, nil)
	assert.Same(t, a.art, b.art)
}

func TestCompileErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	tests := []struct {
		name string
		src  Source
		want error
	}{
		{"truncated binary", Binary(wasm.Magic[:6]), errors.ErrParse},
		{"garbage binary", Binary(append(append([]byte{}, wasm.Magic...), 0x01, 0xff)), errors.ErrParse},
		{"bad text", Text("(module (func (export \"f\") (result i32) i32.const))"), errors.ErrParse},
		{"invalid module", Binary(invalidBinary), errors.ErrValidation},
		{"bad precompiled", Precompiled("WBPC"), errors.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.Compile(ctx, tt.src, nil)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errors.ErrCompile)
		})
	}
}

func TestPrecompiledIncompatible(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	m := compileText(t, e, mathWAT, nil)

	tests := []struct {
		name    string
		version string
		arch    string
	}{
		{"engine version", "v0.0.0-other", runtime.GOARCH},
		{"architecture", EngineVersion(), "not-an-arch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := appendEnvelope(nil, tt.version, tt.arch, m.Binary())
			_, err := e.Compile(ctx, Precompiled(art), nil)
			assert.ErrorIs(t, err, errors.ErrIncompatible)
		})
	}

	art := Serialize(m)
	art[len(envelopeMagic)] = envelopeVersion + 1
	_, err := e.Compile(ctx, Precompiled(art), nil)
	assert.ErrorIs(t, err, errors.ErrIncompatible)
}

func TestPrecompiledIsTrusted(t *testing.T) {
	e := newEngine(t)
	m, err := e.Compile(context.Background(), Precompiled(appendEnvelope(nil, EngineVersion(), runtime.GOARCH, invalidBinary)), nil)
	require.NoError(t, err, "precompiled input skips validation")
	assert.True(t, m.Trusted())
}

func TestReservedImportNames(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	dep := compileText(t, e, mathWAT, nil)

	for _, name := range []string{"host", "godot_object_v1", "godot_object_v2", "wasi_unstable", "wasi_snapshot_preview0", "wasi_snapshot_preview1", "wasm_bridge"} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, IsReserved(name))
			_, err := e.Compile(ctx, Text(mainWAT), map[string]*Module{name: dep})
			assert.ErrorIs(t, err, errors.ErrReservedImport)
		})
	}
}

func TestLink(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	dep := compileText(t, e, mathWAT, nil)

	m := compileText(t, e, mainWAT, map[string]*Module{"math": dep})
	assert.Equal(t, []wasm.FuncImport{{
		Module: "host",
		Name:   "log",
		Type:   wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
	}}, m.HostImports())
	assert.Len(t, m.Imports(), 2)
	assert.Same(t, dep, m.Dependencies()["math"])

	unlinked := compileText(t, e, mainWAT, nil)
	assert.Len(t, unlinked.HostImports(), 2)

	relinked, err := e.Compile(ctx, unlinked, map[string]*Module{"math": dep})
	require.NoError(t, err)
	assert.Len(t, relinked.HostImports(), 1)
	assert.Same(t, unlinked.art, relinked.art)
}

func TestLinkErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	dep := compileText(t, e, mathWAT, nil)

	tests := []struct {
		name string
		src  string
		want error
	}{
		{
			"missing export",
			`(module (import "math" "sub" (func (param i32 i32) (result i32))))`,
			errors.ErrUnresolvedImport,
		},
		{
			"wrong kind",
			`(module (import "math" "base" (func)))`,
			errors.ErrUnresolvedImport,
		},
		{
			"param mismatch",
			`(module (import "math" "add" (func (param i64 i32) (result i32))))`,
			errors.ErrSignatureMismatch,
		},
		{
			"result arity",
			`(module (import "math" "add" (func (param i32 i32))))`,
			errors.ErrSignatureMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(ctx, Text(tt.src), map[string]*Module{"math": dep})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := e.Compile(ctx, Text(`(module
	  (import "math" "add" (func (param i64 i32) (result i32)))
	  (import "math" "mul" (func)))`), map[string]*Module{"math": dep})
	assert.ErrorIs(t, err, errors.ErrSignatureMismatch)
	assert.ErrorIs(t, err, errors.ErrUnresolvedImport, "all link failures are reported")
}

func TestResources(t *testing.T) {
	e := newEngine(t)
	dep := compileText(t, e, mathWAT, nil)
	m := compileText(t, e, mainWAT, map[string]*Module{"math": dep})

	assert.Equal(t, Resources{
		Memories: 1, InitialPages: 1, MaxPages: 4, PagesBounded: true,
		Tables: 1, InitialEntries: 2, EntriesBounded: false,
	}, dep.Resources())

	own := m.Resources()
	assert.Equal(t, 1, own.Memories)
	assert.Equal(t, uint64(2), own.InitialPages)
	assert.False(t, own.PagesBounded)

	total := m.TransitiveResources()
	assert.Equal(t, 2, total.Memories)
	assert.Equal(t, uint64(3), total.InitialPages)
	assert.Equal(t, 1, total.Tables)
	assert.Equal(t, own, compileText(t, e, mainWAT, nil).TransitiveResources())
}

func TestCompileAll(t *testing.T) {
	e := newEngine(t)
	out, err := e.CompileAll(context.Background(), map[string]Source{
		"math":    Text(mathWAT),
		"main":    Text(mainWAT),
		"invalid": Binary(invalidBinary),
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Contains(t, err.Error(), "invalid")
	assert.Len(t, out, 2)
	assert.Contains(t, out, "math")
	assert.Contains(t, out, "main")
}

func TestModuleIntrospection(t *testing.T) {
	e := newEngine(t)
	m := compileText(t, e, mathWAT, nil)

	assert.Equal(t, []string{"add"}, m.ExportNames())
	ft, ok := m.Export("add")
	require.True(t, ok)
	assert.Equal(t, "(i32, i32) -> (i32)", ft.String())
	assert.True(t, m.HasMemoryExport("memory"))
	assert.False(t, m.HasMemoryExport("add"))
	assert.False(t, m.Start())
	assert.True(t, m.Preemptible())

	instr, err := m.Instrumented()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), instr.CheckFunc)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	_, err = e.Compile(ctx, Text(mathWAT), nil)
	assert.Error(t, err)
}
