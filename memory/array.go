package memory

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

// ArrayKind is the element type of a bulk transfer.
type ArrayKind uint8

const (
	ArrayByte ArrayKind = iota
	ArrayInt32
	ArrayInt64
	ArrayFloat32
	ArrayFloat64
	ArrayVec2  // 2 x f32 per element
	ArrayVec3  // 3 x f32 per element
	ArrayColor // 4 x f32 per element, rgba
)

var arrayKindNames = [...]string{"byte", "int32", "int64", "float32", "float64", "vector2", "vector3", "color"}

func (k ArrayKind) String() string {
	if int(k) < len(arrayKindNames) {
		return arrayKindNames[k]
	}
	return "unknown"
}

// ArrayKindByName resolves names such as "int32" or "vector2".
func ArrayKindByName(name string) (ArrayKind, bool) {
	for i, n := range arrayKindNames {
		if n == name {
			return ArrayKind(i), true
		}
	}
	return 0, false
}

// components returns the scalar count per element and the scalar width.
func (k ArrayKind) components() (n int, width int) {
	switch k {
	case ArrayByte:
		return 1, 1
	case ArrayInt32, ArrayFloat32:
		return 1, 4
	case ArrayInt64, ArrayFloat64:
		return 1, 8
	case ArrayVec2:
		return 2, 4
	case ArrayVec3:
		return 3, 4
	case ArrayColor:
		return 4, 4
	}
	return 0, 0
}

// ElemSize returns the byte width of one element.
func (k ArrayKind) ElemSize() int {
	n, w := k.components()
	return n * w
}

// GetArray reads count elements of kind starting at ptr. Vector and color
// kinds come back flattened into a Float32Array.
func (a *Accessor) GetArray(kind ArrayKind, ptr, count uint32) (value.Variant, error) {
	comps, width := kind.components()
	if comps == 0 {
		return nil, errors.Unsupported(errors.PhaseMemory, "array kind "+kind.String())
	}
	b, err := a.view(ptr, uint64(count)*uint64(comps*width))
	if err != nil {
		return nil, err
	}
	n := int(count) * comps

	switch kind {
	case ArrayByte:
		return value.Bytes(append([]byte(nil), b...)), nil
	case ArrayInt32:
		out := make(value.Int32Array, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out, nil
	case ArrayInt64:
		out := make(value.Int64Array, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return out, nil
	case ArrayFloat64:
		out := make(value.Float64Array, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
		return out, nil
	default:
		out := make(value.Float32Array, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return out, nil
	}
}

// PutArray writes v as elements of kind starting at ptr and returns the
// number of bytes written. Any numeric sequence is accepted; vector kinds
// need a length divisible by the component count.
func (a *Accessor) PutArray(kind ArrayKind, ptr uint32, v value.Variant) (uint32, error) {
	comps, width := kind.components()
	if comps == 0 {
		return 0, errors.Unsupported(errors.PhaseMemory, "array kind "+kind.String())
	}
	if !value.IsSequence(v) {
		return 0, errors.TypeMismatch(nil, kind.String()+" array", value.KindOf(v).String())
	}
	n := value.Len(v)
	if n%comps != 0 {
		return 0, errors.New(errors.PhaseMarshal, errors.KindArity).
			Expected(fmt.Sprintf("multiple of %d values", comps)).
			Actual(value.KindOf(v).String()).
			Detail("array length %d", n).
			Build()
	}
	if err := a.Check(ptr, uint64(n)*uint64(width)); err != nil {
		return 0, err
	}

	buf := make([]byte, 0, n*width)
	if b, ok := v.(value.Bytes); ok && kind == ArrayByte {
		buf = append(buf, b...)
	} else {
		for i := 0; i < n; i++ {
			e, _ := value.Index(v, i)
			var err error
			buf, err = appendScalar(buf, kind, e)
			if err != nil {
				return 0, err
			}
		}
	}
	if err := a.Write(ptr, buf); err != nil {
		return 0, err
	}
	return uint32(len(buf)), nil
}

func appendScalar(buf []byte, kind ArrayKind, e value.Variant) ([]byte, error) {
	switch kind {
	case ArrayByte, ArrayInt32, ArrayInt64:
		i, ok := value.AsInt(e)
		if !ok {
			return nil, errors.TypeMismatch(nil, "int", value.KindOf(e).String())
		}
		switch kind {
		case ArrayByte:
			return append(buf, byte(i)), nil
		case ArrayInt32:
			return binary.LittleEndian.AppendUint32(buf, uint32(i)), nil
		default:
			return binary.LittleEndian.AppendUint64(buf, uint64(i)), nil
		}
	case ArrayFloat64:
		f, ok := value.AsFloat(e)
		if !ok {
			return nil, errors.TypeMismatch(nil, "float", value.KindOf(e).String())
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)), nil
	default:
		f, ok := value.AsFloat(e)
		if !ok {
			return nil, errors.TypeMismatch(nil, "float", value.KindOf(e).String())
		}
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(f))), nil
	}
}
