package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

type sliceMem []byte

func (m sliceMem) Size() uint32 { return uint32(len(m)) }

func (m sliceMem) Read(off, n uint32) ([]byte, bool) {
	if uint64(off)+uint64(n) > uint64(len(m)) {
		return nil, false
	}
	return m[off : off+n], true
}

func (m sliceMem) Write(off uint32, v []byte) bool {
	if uint64(off)+uint64(len(v)) > uint64(len(m)) {
		return false
	}
	copy(m[off:], v)
	return true
}

func newAccessor(size int) (*Accessor, sliceMem) {
	mem := make(sliceMem, size)
	return New(mem), mem
}

func TestBoundsSafety(t *testing.T) {
	a, _ := newAccessor(64)

	tests := []struct {
		name string
		ptr  uint32
		n    uint32
		ok   bool
	}{
		{"whole memory", 0, 64, true},
		{"zero length at end", 64, 0, true},
		{"zero length past end", 65, 0, false},
		{"one past end", 1, 64, false},
		{"wrapping sum", math.MaxUint32, 2, false},
		{"max length", 0, math.MaxUint32, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rerr := a.Read(tt.ptr, tt.n)
			werr := a.Write(tt.ptr, make([]byte, min(tt.n, 128)))
			if tt.ok {
				assert.NoError(t, rerr)
				return
			}
			assert.ErrorIs(t, rerr, errors.ErrMemoryAccess)
			if tt.n <= 128 {
				assert.ErrorIs(t, werr, errors.ErrMemoryAccess)
			}
		})
	}
}

func TestScalars(t *testing.T) {
	a, mem := newAccessor(32)

	require.NoError(t, a.WriteU32(0, 0x04030201))
	assert.Equal(t, []byte{1, 2, 3, 4}, []byte(mem[:4]), "little endian")

	require.NoError(t, a.WriteU16(4, 0xbeef))
	v16, err := a.ReadU16(4)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), v16)

	require.NoError(t, a.WriteU64(8, math.MaxUint64-1))
	v64, err := a.ReadU64(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), v64)

	require.NoError(t, a.WriteF32(16, 1.5))
	f32, err := a.ReadF32(16)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f32)

	require.NoError(t, a.WriteF64(24, -2.25))
	f64, err := a.ReadF64(24)
	require.NoError(t, err)
	assert.Equal(t, -2.25, f64)

	_, err = a.ReadU64(25)
	assert.ErrorIs(t, err, errors.ErrMemoryAccess)
	assert.Error(t, a.WriteU8(32, 1))
}

func TestArrays(t *testing.T) {
	a, _ := newAccessor(256)

	tests := []struct {
		kind  ArrayKind
		in    value.Variant
		count uint32
		want  value.Variant
	}{
		{ArrayByte, value.Bytes{1, 2, 3}, 3, value.Bytes{1, 2, 3}},
		{ArrayInt32, value.Int32Array{-1, 2}, 2, value.Int32Array{-1, 2}},
		{ArrayInt64, value.Array{value.Int(5), value.Int(-6)}, 2, value.Int64Array{5, -6}},
		{ArrayFloat32, value.Float32Array{0.5, 1}, 2, value.Float32Array{0.5, 1}},
		{ArrayFloat64, value.Float64Array{math.Pi}, 1, value.Float64Array{math.Pi}},
		{ArrayVec2, value.Float32Array{1, 2, 3, 4}, 2, value.Float32Array{1, 2, 3, 4}},
		{ArrayColor, value.Float64Array{0, 0.5, 1, 1}, 1, value.Float32Array{0, 0.5, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			n, err := a.PutArray(tt.kind, 8, tt.in)
			require.NoError(t, err)
			assert.Equal(t, uint32(value.Len(tt.in)*tt.kind.ElemSize()/componentsOf(tt.kind)), n)

			got, err := a.GetArray(tt.kind, 8, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := a.PutArray(ArrayVec3, 0, value.Float32Array{1, 2})
	assert.Error(t, err, "vec3 needs a multiple of three values")
	_, err = a.PutArray(ArrayInt32, 0, value.String("x"))
	assert.Error(t, err)
	_, err = a.GetArray(ArrayInt64, 250, 1)
	assert.ErrorIs(t, err, errors.ErrMemoryAccess)
	_, err = a.GetArray(ArrayInt64, 0, math.MaxUint32)
	assert.ErrorIs(t, err, errors.ErrMemoryAccess)
}

func componentsOf(k ArrayKind) int {
	n, _ := k.components()
	return n
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		format string
		size   uint64
		values uint64
	}{
		{"", 0, 0},
		{"i", 4, 1},
		{"bBhHiIlL", 30, 8},
		{"3x2f", 11, 2},
		{"v2fv3dv4iv2l", 8 + 24 + 16 + 16, 4},
		{"pfqdCbCfrirl", 16 + 32 + 4 + 16 + 16 + 32, 6},
		{"afmdMfTdtf", 24 + 72 + 64 + 96 + 24, 5},
		{"0i", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := ParseFormat(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.size, f.Size())
			assert.Equal(t, tt.values, f.Values())
		})
	}

	for _, bad := range []string{"z", "3", "v5f", "v2x", "Cq", "pi", " i", "99999999999b"} {
		_, err := ParseFormat(bad)
		assert.Error(t, err, "format %q", bad)
	}
}

func TestStructRoundTrip(t *testing.T) {
	a, mem := newAccessor(128)

	in := value.Array{
		value.Int(-1),
		value.Int(200),
		value.Int(-2),
		value.Float(0.5),
		value.Float64Array{1, 2},
		value.Int64Array{3, 4, 5},
		value.Float64Array{0, 1, 0.5, 1},
	}
	n, err := a.WriteStruct("bBx2xi d v2f v3i Cb", 4, in)
	require.Error(t, err, "spaces are not part of the format")

	n, err = a.WriteStruct("bB3xid v2fv3iCb", 4, in)
	require.Error(t, err, "still invalid")
	assert.Zero(t, n)

	n, err = a.WriteStruct("bB3xidv2fv3iCb", 4, in)
	require.NoError(t, err)
	assert.Equal(t, uint32(1+1+3+4+8+8+12+4), n)
	assert.Equal(t, byte(0xff), mem[4])
	assert.Equal(t, byte(200), mem[5])
	assert.Equal(t, []byte{0, 0, 0}, []byte(mem[6:9]), "padding untouched")

	out, err := a.ReadStruct("bB3xidv2fv3iCb", 4)
	require.NoError(t, err)
	want := value.Array{
		value.Int(-1),
		value.Int(200),
		value.Int(-2),
		value.Float(0.5),
		value.Float64Array{1, 2},
		value.Int64Array{3, 4, 5},
		value.Float64Array{0, 1, 128.0 / 255, 1},
	}
	assert.Equal(t, want, out)
}

func TestWriteStructErrors(t *testing.T) {
	a, mem := newAccessor(16)

	_, err := a.WriteStruct("ii", 0, value.Array{value.Int(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Input array too small")
	assert.Equal(t, byte(0), mem[0], "nothing written on failure")

	_, err = a.WriteStruct("v2f", 0, value.Array{value.Float64Array{1}})
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = a.WriteStruct("i", 0, value.Array{value.String("x")})
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	_, err = a.WriteStruct("4l", 0, value.Array{value.Int(1), value.Int(2), value.Int(3), value.Int(4)})
	assert.ErrorIs(t, err, errors.ErrMemoryAccess)

	_, err = a.ReadStruct("4294967295x", 0)
	assert.ErrorIs(t, err, errors.ErrMemoryAccess)

	n, err := a.WriteStruct("", 16, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
