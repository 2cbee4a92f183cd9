package value

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// Refs maps host values to externref handles and back.
// Handle 0 is the null reference.
type Refs interface {
	Ref(v Variant) uint64
	Deref(ref uint64) (Variant, bool)
}

// V128Encoding selects the host shape of v128 results.
type V128Encoding uint8

const (
	V128Int32x4 V128Encoding = iota
	V128Int64x2
	V128Bytes
)

// Marshaler converts between Variants and the wazero uint64 stack
// representation. A v128 occupies two slots, low half first.
// The zero value handles numeric types; Refs is needed for externref.
type Marshaler struct {
	Refs Refs
	V128 V128Encoding
}

// Slots returns the number of stack slots the types occupy.
func Slots(types []wasm.ValType) int {
	n := len(types)
	for _, t := range types {
		if t == wasm.ValV128 {
			n++
		}
	}
	return n
}

// Lower appends the wasm representation of v as type t to dst.
// Integer narrowing truncates in two's complement.
func (m Marshaler) Lower(dst []uint64, t wasm.ValType, v Variant) ([]uint64, error) {
	switch t {
	case wasm.ValI32:
		i, ok := AsInt(v)
		if !ok {
			return dst, mismatch(t, v)
		}
		return append(dst, api.EncodeI32(int32(i))), nil
	case wasm.ValI64:
		i, ok := AsInt(v)
		if !ok {
			return dst, mismatch(t, v)
		}
		return append(dst, api.EncodeI64(i)), nil
	case wasm.ValF32:
		f, ok := AsFloat(v)
		if !ok {
			return dst, mismatch(t, v)
		}
		return append(dst, api.EncodeF32(float32(f))), nil
	case wasm.ValF64:
		f, ok := AsFloat(v)
		if !ok {
			return dst, mismatch(t, v)
		}
		return append(dst, api.EncodeF64(f)), nil
	case wasm.ValV128:
		lo, hi, err := LowerV128(v)
		if err != nil {
			return dst, err
		}
		return append(dst, lo, hi), nil
	case wasm.ValExternRef:
		if IsNil(v) {
			return append(dst, 0), nil
		}
		if m.Refs == nil {
			return dst, errors.Unsupported(errors.PhaseMarshal, "externref without a reference store")
		}
		return append(dst, m.Refs.Ref(v)), nil
	default:
		return dst, errors.Unsupported(errors.PhaseMarshal, "value type "+t.String())
	}
}

// Lift decodes the value of type t at the head of src and reports how
// many slots it consumed.
func (m Marshaler) Lift(t wasm.ValType, src []uint64) (Variant, int, error) {
	need := 1
	if t == wasm.ValV128 {
		need = 2
	}
	if len(src) < need {
		return nil, 0, errors.Arity("stack slots", need, len(src))
	}
	switch t {
	case wasm.ValI32:
		return Int(int32(uint32(src[0]))), 1, nil
	case wasm.ValI64:
		return Int(int64(src[0])), 1, nil
	case wasm.ValF32:
		return Float(api.DecodeF32(src[0])), 1, nil
	case wasm.ValF64:
		return Float(api.DecodeF64(src[0])), 1, nil
	case wasm.ValV128:
		return LiftV128(src[0], src[1], m.V128), 2, nil
	case wasm.ValExternRef:
		if src[0] == 0 || m.Refs == nil {
			return Nil{}, 1, nil
		}
		v, ok := m.Refs.Deref(src[0])
		if !ok {
			return Nil{}, 1, nil
		}
		return v, 1, nil
	default:
		return nil, 0, errors.Unsupported(errors.PhaseMarshal, "value type "+t.String())
	}
}

// LowerAll marshals args against types. The counts must match exactly.
func (m Marshaler) LowerAll(types []wasm.ValType, args []Variant) ([]uint64, error) {
	if len(args) != len(types) {
		return nil, errors.Arity("arguments", len(types), len(args))
	}
	out := make([]uint64, 0, Slots(types))
	for i, t := range types {
		var err error
		out, err = m.Lower(out, t, args[i])
		if err != nil {
			return nil, atIndex(err, i)
		}
	}
	return out, nil
}

// LiftAll unmarshals a stack laid out as types.
func (m Marshaler) LiftAll(types []wasm.ValType, stack []uint64) ([]Variant, error) {
	out := make([]Variant, len(types))
	pos := 0
	for i, t := range types {
		v, n, err := m.Lift(t, stack[pos:])
		if err != nil {
			return nil, atIndex(err, i)
		}
		out[i] = v
		pos += n
	}
	return out, nil
}

// LowerV128 accepts 4×i32, 2×i64 and 16×u8 host containers.
func LowerV128(v Variant) (lo, hi uint64, err error) {
	switch x := v.(type) {
	case Int32Array:
		if len(x) == 4 {
			return uint64(uint32(x[0])) | uint64(uint32(x[1]))<<32,
				uint64(uint32(x[2])) | uint64(uint32(x[3]))<<32, nil
		}
	case Int64Array:
		if len(x) == 2 {
			return uint64(x[0]), uint64(x[1]), nil
		}
	case Bytes:
		if len(x) == 16 {
			return binary.LittleEndian.Uint64(x[:8]), binary.LittleEndian.Uint64(x[8:]), nil
		}
	case Array:
		if len(x) == 4 {
			var lanes [4]int32
			for i, e := range x {
				n, ok := AsInt(e)
				if !ok {
					return 0, 0, mismatch(wasm.ValV128, v)
				}
				lanes[i] = int32(n)
			}
			return LowerV128(Int32Array(lanes[:]))
		}
	}
	return 0, 0, errors.TypeMismatch(nil, "v128 (4 x i32, 2 x i64 or 16 bytes)", describe(v))
}

// LiftV128 builds the host vector for a v128 in the requested encoding.
func LiftV128(lo, hi uint64, enc V128Encoding) Variant {
	switch enc {
	case V128Int64x2:
		return Int64Array{int64(lo), int64(hi)}
	case V128Bytes:
		b := make(Bytes, 16)
		binary.LittleEndian.PutUint64(b, lo)
		binary.LittleEndian.PutUint64(b[8:], hi)
		return b
	default:
		return Int32Array{int32(lo), int32(lo >> 32), int32(hi), int32(hi >> 32)}
	}
}

func mismatch(t wasm.ValType, v Variant) error {
	return errors.TypeMismatch(nil, t.String(), describe(v))
}

func describe(v Variant) string {
	k := KindOf(v)
	if IsSequence(v) {
		return fmt.Sprintf("%s[%d]", k, Len(v))
	}
	return k.String()
}

func atIndex(err error, i int) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{strconv.Itoa(i)}, e.Path...)
		return e
	}
	return err
}
