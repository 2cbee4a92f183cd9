package memory

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

// Struct format strings describe a packed sequence of fields, each an
// optional decimal repeat count followed by a type code. Fields are laid
// out back to back with no implicit alignment.
//
//	x      padding byte (skipped on read, left untouched on write)
//	b B    i8 u8
//	h H    i16 u16
//	i I    i32 u32
//	l L    i64 u64
//	f d    f32 f64
//	v2? v3? v4?   vector with element f d i l
//	p?  q?        plane, quaternion (f d)
//	C?            color (f d b)
//	r?            rect: position, size (f d i l)
//	a?            aabb: position, size (f d)
//	m? M?         3x3 basis, 4x4 projection (f d)
//	t? T?         2D transform (3 x vec2), 3D transform (basis + origin) (f d)
//
// Scalars read as Int or Float. Composites read as one Float64Array, or
// Int64Array for the i and l element types.

type elem uint8

const (
	elemI8 elem = iota
	elemU8
	elemI16
	elemU16
	elemI32
	elemU32
	elemI64
	elemU64
	elemF32
	elemF64
	elemColorByte
)

var elemWidth = [...]int{
	elemI8: 1, elemU8: 1, elemI16: 2, elemU16: 2, elemI32: 4, elemU32: 4,
	elemI64: 8, elemU64: 8, elemF32: 4, elemF64: 8, elemColorByte: 1,
}

func (e elem) isFloat() bool {
	return e == elemF32 || e == elemF64 || e == elemColorByte
}

// Field is one parsed entry of a struct format.
type Field struct {
	Code    string
	Count   uint32
	padding bool
	elem    elem
	// comps is 0 for a scalar field, otherwise the component count of
	// each composite value.
	comps int
}

// Size returns the byte width of the whole field, including repeats.
func (f Field) Size() uint64 {
	if f.padding {
		return uint64(f.Count)
	}
	n := f.comps
	if n == 0 {
		n = 1
	}
	return uint64(f.Count) * uint64(n*elemWidth[f.elem])
}

// Values returns how many host values the field reads or writes.
func (f Field) Values() uint64 {
	if f.padding {
		return 0
	}
	return uint64(f.Count)
}

// Format is a parsed struct format.
type Format struct {
	Fields []Field
	size   uint64
	values uint64
}

// Size returns the total byte width.
func (f *Format) Size() uint64 { return f.size }

// Values returns the number of host values the format consumes.
func (f *Format) Values() uint64 { return f.values }

var scalarCodes = map[byte]elem{
	'b': elemI8, 'B': elemU8,
	'h': elemI16, 'H': elemU16,
	'i': elemI32, 'I': elemU32,
	'l': elemI64, 'L': elemU64,
	'f': elemF32, 'd': elemF64,
}

type compositeCode struct {
	name  string
	comps int
	subs  string
}

var compositeCodes = map[byte]compositeCode{
	'p': {"plane", 4, "fd"},
	'q': {"quaternion", 4, "fd"},
	'C': {"color", 4, "fdb"},
	'r': {"rect2", 4, "fdil"},
	'a': {"aabb", 6, "fd"},
	'm': {"basis", 9, "fd"},
	'M': {"projection", 16, "fd"},
	't': {"transform2d", 6, "fd"},
	'T': {"transform3d", 12, "fd"},
}

func subElem(c byte) elem {
	switch c {
	case 'f':
		return elemF32
	case 'd':
		return elemF64
	case 'i':
		return elemI32
	case 'l':
		return elemI64
	default:
		return elemColorByte
	}
}

// ParseFormat parses a struct format string.
func ParseFormat(format string) (*Format, error) {
	out := &Format{}
	i := 0
	fail := func(msg string, args ...any) (*Format, error) {
		return nil, errors.Parse(errors.PhaseParse, "struct format",
			fmt.Errorf("%s at offset %d in %q", fmt.Sprintf(msg, args...), i, format))
	}

	for i < len(format) {
		start := i
		count := uint64(1)
		if c := format[i]; c >= '0' && c <= '9' {
			count = 0
			for i < len(format) && format[i] >= '0' && format[i] <= '9' {
				count = count*10 + uint64(format[i]-'0')
				if count > math.MaxUint32 {
					return fail("repeat count overflows u32")
				}
				i++
			}
		}
		if i >= len(format) {
			return fail("missing type after count")
		}

		c := format[i]
		i++
		f := Field{Count: uint32(count)}
		scalar, isScalar := scalarCodes[c]
		switch {
		case c == 'x':
			f.padding = true
		case isScalar:
			f.elem = scalar
		case c == 'v':
			if i >= len(format) || format[i] < '2' || format[i] > '4' {
				return fail("vector size must be 2, 3 or 4")
			}
			f.comps = int(format[i] - '0')
			i++
			if i >= len(format) || !contains("fdil", format[i]) {
				return fail("vector element type must be one of f, d, i, l")
			}
			f.elem = subElem(format[i])
			i++
		default:
			cc, ok := compositeCodes[c]
			if !ok {
				return fail("unknown type %q", c)
			}
			if i >= len(format) || !contains(cc.subs, format[i]) {
				return fail("%s element type must be one of %s", cc.name, cc.subs)
			}
			f.comps = cc.comps
			f.elem = subElem(format[i])
			i++
		}
		f.Code = format[start:i]
		out.Fields = append(out.Fields, f)
		out.size += f.Size()
		out.values += f.Values()
	}
	return out, nil
}

func contains(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}

// Decode reads the fields from b, which must hold at least Size bytes.
func (f *Format) Decode(b []byte) (value.Array, error) {
	if uint64(len(b)) < f.size {
		return nil, errors.InvalidInput(errors.PhaseMemory, "struct data shorter than format")
	}
	out := make(value.Array, 0, f.values)
	pos := 0
	for _, fld := range f.Fields {
		if fld.padding {
			pos += int(fld.Count)
			continue
		}
		w := elemWidth[fld.elem]
		for n := uint32(0); n < fld.Count; n++ {
			if fld.comps == 0 {
				out = append(out, decodeScalar(fld.elem, b[pos:]))
				pos += w
				continue
			}
			if fld.elem.isFloat() {
				vals := make(value.Float64Array, fld.comps)
				for k := range vals {
					vals[k] = decodeFloat(fld.elem, b[pos:])
					pos += w
				}
				out = append(out, vals)
			} else {
				vals := make(value.Int64Array, fld.comps)
				for k := range vals {
					vals[k] = decodeInt(fld.elem, b[pos:])
					pos += w
				}
				out = append(out, vals)
			}
		}
	}
	return out, nil
}

// Encode packs values into dst according to the format. dst must hold at
// least Size bytes; padding bytes keep their existing content.
func (f *Format) Encode(dst []byte, values value.Variant) error {
	if uint64(len(dst)) < f.size {
		return errors.InvalidInput(errors.PhaseMemory, "struct buffer shorter than format")
	}
	if !value.IsSequence(values) && !value.IsNil(values) {
		return errors.TypeMismatch(nil, "array", value.KindOf(values).String())
	}
	next := 0
	pos := 0
	for _, fld := range f.Fields {
		if fld.padding {
			pos += int(fld.Count)
			continue
		}
		w := elemWidth[fld.elem]
		for n := uint32(0); n < fld.Count; n++ {
			v, ok := value.Index(values, next)
			if !ok {
				return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
					Detail("Input array too small").
					Build()
			}
			path := []string{fmt.Sprint(next), fld.Code}
			next++

			if fld.comps == 0 {
				if err := encodeScalar(fld.elem, dst[pos:], v, path); err != nil {
					return err
				}
				pos += w
				continue
			}
			if value.Len(v) != fld.comps || !value.IsSequence(v) {
				return errors.TypeMismatch(path, fmt.Sprintf("%d components", fld.comps), value.KindOf(v).String())
			}
			for k := 0; k < fld.comps; k++ {
				c, _ := value.Index(v, k)
				if err := encodeScalar(fld.elem, dst[pos:], c, path); err != nil {
					return err
				}
				pos += w
			}
		}
	}
	return nil
}

func decodeScalar(e elem, b []byte) value.Variant {
	if e.isFloat() {
		return value.Float(decodeFloat(e, b))
	}
	return value.Int(decodeInt(e, b))
}

func decodeInt(e elem, b []byte) int64 {
	switch e {
	case elemI8:
		return int64(int8(b[0]))
	case elemU8:
		return int64(b[0])
	case elemI16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case elemU16:
		return int64(binary.LittleEndian.Uint16(b))
	case elemI32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case elemU32:
		return int64(binary.LittleEndian.Uint32(b))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

func decodeFloat(e elem, b []byte) float64 {
	switch e {
	case elemF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case elemF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case elemColorByte:
		return float64(b[0]) / 255
	default:
		return float64(decodeInt(e, b))
	}
}

func encodeScalar(e elem, b []byte, v value.Variant, path []string) error {
	if e.isFloat() {
		f, ok := value.AsFloat(v)
		if !ok {
			return errors.TypeMismatch(path, "float", value.KindOf(v).String())
		}
		switch e {
		case elemF32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
		case elemF64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(f))
		default:
			b[0] = byte(math.Round(math.Max(0, math.Min(1, f)) * 255))
		}
		return nil
	}

	i, ok := value.AsInt(v)
	if !ok {
		return errors.TypeMismatch(path, "int", value.KindOf(v).String())
	}
	switch elemWidth[e] {
	case 1:
		b[0] = byte(i)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(i))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(i))
	default:
		binary.LittleEndian.PutUint64(b, uint64(i))
	}
	return nil
}

// ReadStruct reads values at ptr according to format.
func (a *Accessor) ReadStruct(format string, ptr uint32) (value.Array, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	b, err := a.view(ptr, f.Size())
	if err != nil {
		return nil, err
	}
	return f.Decode(b)
}

// WriteStruct writes values at ptr according to format and returns the
// number of bytes covered, padding included. Nothing is written when any
// value fails to encode.
func (a *Accessor) WriteStruct(format string, ptr uint32, values value.Variant) (uint32, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return 0, err
	}
	if err := a.Check(ptr, f.Size()); err != nil {
		return 0, err
	}
	cur, err := a.Read(ptr, uint32(f.Size()))
	if err != nil {
		return 0, err
	}
	if err := f.Encode(cur, values); err != nil {
		return 0, err
	}
	if err := a.Write(ptr, cur); err != nil {
		return 0, err
	}
	return uint32(len(cur)), nil
}
