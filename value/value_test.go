package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

type mapRefs struct {
	next uint64
	vals map[uint64]Variant
}

func (r *mapRefs) Ref(v Variant) uint64 {
	r.next++
	if r.vals == nil {
		r.vals = make(map[uint64]Variant)
	}
	r.vals[r.next] = v
	return r.next
}

func (r *mapRefs) Deref(ref uint64) (Variant, bool) {
	v, ok := r.vals[ref]
	return v, ok
}

func TestLowerTruncation(t *testing.T) {
	m := Marshaler{}
	tests := []struct {
		name string
		in   Variant
		typ  wasm.ValType
		want Variant
	}{
		{"i32 wraps high bits", Int(0x1_0000_0001), wasm.ValI32, Int(1)},
		{"i32 wraps to negative", Int(0xffff_ffff), wasm.ValI32, Int(-1)},
		{"i32 from bool", Bool(true), wasm.ValI32, Int(1)},
		{"i64 keeps value", Int(math.MinInt64), wasm.ValI64, Int(math.MinInt64)},
		{"f32 from int", Int(3), wasm.ValF32, Float(3)},
		{"f64 keeps value", Float(1.5), wasm.ValF64, Float(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack, err := m.Lower(nil, tt.typ, tt.in)
			require.NoError(t, err)
			got, n, err := m.Lift(tt.typ, stack)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLowerTypeMismatch(t *testing.T) {
	m := Marshaler{}
	tests := []struct {
		name   string
		typ    wasm.ValType
		in     Variant
		actual string
	}{
		{"string as i32", wasm.ValI32, String("x"), "string"},
		{"float as i64", wasm.ValI64, Float(1.5), "float"},
		{"nil as f64", wasm.ValF64, Nil{}, "nil"},
		{"short v128", wasm.ValV128, Int32Array{1, 2}, "int_array[2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Lower(nil, tt.typ, tt.in)
			require.ErrorIs(t, err, errors.ErrTypeMismatch)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.actual, e.Actual)
			assert.NotEmpty(t, e.Expected)
		})
	}
}

func TestV128Encodings(t *testing.T) {
	want := Int32Array{1, -2, 3, -4}
	lo64, hi64 := uint64(0xfffffffe_00000001), uint64(0xfffffffc_00000003)
	inputs := []Variant{
		want,
		Int64Array{int64(lo64), int64(hi64)},
		Bytes{1, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff, 3, 0, 0, 0, 0xfc, 0xff, 0xff, 0xff},
		Array{Int(1), Int(-2), Int(3), Int(-4)},
	}
	m := Marshaler{}
	for _, in := range inputs {
		stack, err := m.Lower(nil, wasm.ValV128, in)
		require.NoError(t, err, "input %v", in)
		require.Len(t, stack, 2)
		got, n, err := m.Lift(wasm.ValV128, stack)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, want, got)
	}

	lo, hi, err := LowerV128(want)
	require.NoError(t, err)
	assert.Equal(t, 16, Len(LiftV128(lo, hi, V128Bytes)))
	assert.Equal(t, KindInt64Array, LiftV128(lo, hi, V128Int64x2).Kind())
}

func TestExternRef(t *testing.T) {
	refs := &mapRefs{}
	m := Marshaler{Refs: refs}

	stack, err := m.Lower(nil, wasm.ValExternRef, String("hello"))
	require.NoError(t, err)
	assert.NotZero(t, stack[0])

	got, _, err := m.Lift(wasm.ValExternRef, stack)
	require.NoError(t, err)
	assert.Equal(t, String("hello"), got)

	stack, err = m.Lower(nil, wasm.ValExternRef, Nil{})
	require.NoError(t, err)
	assert.Zero(t, stack[0])

	_, err = Marshaler{}.Lower(nil, wasm.ValExternRef, Int(1))
	assert.Error(t, err)
}

func TestLowerAllArity(t *testing.T) {
	m := Marshaler{}
	types := []wasm.ValType{wasm.ValI32, wasm.ValV128, wasm.ValF64}

	stack, err := m.LowerAll(types, []Variant{Int(7), Int32Array{1, 2, 3, 4}, Float(2)})
	require.NoError(t, err)
	assert.Len(t, stack, Slots(types))

	vals, err := m.LiftAll(types, stack)
	require.NoError(t, err)
	assert.Equal(t, []Variant{Int(7), Int32Array{1, 2, 3, 4}, Float(2)}, vals)

	_, err = m.LowerAll(types, []Variant{Int(7)})
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindArity, e.Kind)

	_, err = m.LowerAll(types, []Variant{Int(7), Int32Array{1, 2, 3, 4}, String("x")})
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"2"}, e.Path)
}

func TestTypeCodes(t *testing.T) {
	types, err := TypesFromVariant(Bytes{1, 2, 3, 4, 6})
	require.NoError(t, err)
	assert.Equal(t, []wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64, wasm.ValExternRef}, types)
	assert.Equal(t, Bytes{1, 2, 3, 4, 6}, Codes(types))

	types, err = TypesFromVariant(Array{Int(1), Int(5)})
	require.NoError(t, err)
	assert.Equal(t, []wasm.ValType{wasm.ValI32, wasm.ValV128}, types)

	_, err = TypesFromVariant(Int32Array{9})
	assert.Error(t, err)
	_, err = TypesFromVariant(String("i32"))
	assert.Error(t, err)
}

func TestOfAndDuplicate(t *testing.T) {
	assert.Equal(t, Int(3), Of(uint8(3)))
	assert.Equal(t, Array{Int(1), String("a"), Nil{}}, Of([]any{1, "a", nil}))
	assert.Equal(t, KindObject, Of(struct{}{}).Kind())

	orig := Bytes{1, 2, 3}
	dup := Duplicate(orig).(Bytes)
	dup[0] = 9
	assert.Equal(t, byte(1), orig[0])

	k, ok := KindByName("byte_array")
	assert.True(t, ok)
	assert.Equal(t, KindBytes, k)
	k, ok = KindByName("null")
	assert.True(t, ok)
	assert.Equal(t, KindNil, k)
}
