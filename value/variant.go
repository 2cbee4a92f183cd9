package value

import (
	"fmt"
	"math"
)

// Kind identifies the dynamic type of a Variant. The numeric values are
// stable and are what the object namespaces report from variant_type.
type Kind uint32

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindInt32Array
	KindInt64Array
	KindFloat32Array
	KindFloat64Array
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindNil:          "nil",
	KindBool:         "bool",
	KindInt:          "int",
	KindFloat:        "float",
	KindString:       "string",
	KindBytes:        "byte_array",
	KindInt32Array:   "int_array",
	KindInt64Array:   "long_array",
	KindFloat32Array: "float_array",
	KindFloat64Array: "double_array",
	KindArray:        "array",
	KindObject:       "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// KindByName resolves the names used by the <type>.is object functions.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	if name == "null" {
		return KindNil, true
	}
	return 0, false
}

// Variant is a host value crossing the wasm boundary. The set of
// implementations is closed; switch on the concrete type or on Kind.
type Variant interface {
	Kind() Kind
	variant()
}

type (
	Nil          struct{}
	Bool         bool
	Int          int64
	Float        float64
	String       string
	Bytes        []byte
	Int32Array   []int32
	Int64Array   []int64
	Float32Array []float32
	Float64Array []float64
	Array        []Variant
	// Object wraps an opaque host value the bridge never inspects.
	Object struct{ Value any }
)

func (Nil) Kind() Kind          { return KindNil }
func (Bool) Kind() Kind         { return KindBool }
func (Int) Kind() Kind          { return KindInt }
func (Float) Kind() Kind        { return KindFloat }
func (String) Kind() Kind       { return KindString }
func (Bytes) Kind() Kind        { return KindBytes }
func (Int32Array) Kind() Kind   { return KindInt32Array }
func (Int64Array) Kind() Kind   { return KindInt64Array }
func (Float32Array) Kind() Kind { return KindFloat32Array }
func (Float64Array) Kind() Kind { return KindFloat64Array }
func (Array) Kind() Kind        { return KindArray }
func (Object) Kind() Kind       { return KindObject }

func (Nil) variant()          {}
func (Bool) variant()         {}
func (Int) variant()          {}
func (Float) variant()        {}
func (String) variant()       {}
func (Bytes) variant()        {}
func (Int32Array) variant()   {}
func (Int64Array) variant()   {}
func (Float32Array) variant() {}
func (Float64Array) variant() {}
func (Array) variant()        {}
func (Object) variant()       {}

// KindOf returns the kind of v, treating a nil interface as KindNil.
func KindOf(v Variant) Kind {
	if v == nil {
		return KindNil
	}
	return v.Kind()
}

// IsNil reports whether v is absent or Nil.
func IsNil(v Variant) bool {
	return KindOf(v) == KindNil
}

// Of converts common Go values into a Variant. Variants pass through.
// Unknown types are wrapped as Object.
func Of(x any) Variant {
	switch v := x.(type) {
	case nil:
		return Nil{}
	case Variant:
		return v
	case bool:
		return Bool(v)
	case int:
		return Int(v)
	case int8:
		return Int(v)
	case int16:
		return Int(v)
	case int32:
		return Int(v)
	case int64:
		return Int(v)
	case uint:
		return Int(v)
	case uint8:
		return Int(v)
	case uint16:
		return Int(v)
	case uint32:
		return Int(v)
	case uint64:
		return Int(v)
	case float32:
		return Float(v)
	case float64:
		return Float(v)
	case string:
		return String(v)
	case []byte:
		return Bytes(v)
	case []int32:
		return Int32Array(v)
	case []int64:
		return Int64Array(v)
	case []float32:
		return Float32Array(v)
	case []float64:
		return Float64Array(v)
	case []any:
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = Of(e)
		}
		return out
	case []Variant:
		return Array(v)
	default:
		return Object{Value: x}
	}
}

// Duplicate returns a copy of v that shares no mutable storage with it.
// Object values are copied by reference.
func Duplicate(v Variant) Variant {
	switch x := v.(type) {
	case Bytes:
		return append(Bytes(nil), x...)
	case Int32Array:
		return append(Int32Array(nil), x...)
	case Int64Array:
		return append(Int64Array(nil), x...)
	case Float32Array:
		return append(Float32Array(nil), x...)
	case Float64Array:
		return append(Float64Array(nil), x...)
	case Array:
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = Duplicate(e)
		}
		return out
	case nil:
		return Nil{}
	default:
		return v
	}
}

// Len returns the element count of sequence kinds, the byte length of a
// string, and 0 otherwise.
func Len(v Variant) int {
	switch x := v.(type) {
	case String:
		return len(x)
	case Bytes:
		return len(x)
	case Int32Array:
		return len(x)
	case Int64Array:
		return len(x)
	case Float32Array:
		return len(x)
	case Float64Array:
		return len(x)
	case Array:
		return len(x)
	}
	return 0
}

// Index returns element i of a sequence as a Variant.
func Index(v Variant, i int) (Variant, bool) {
	if i < 0 || i >= Len(v) {
		return nil, false
	}
	switch x := v.(type) {
	case Bytes:
		return Int(x[i]), true
	case Int32Array:
		return Int(x[i]), true
	case Int64Array:
		return Int(x[i]), true
	case Float32Array:
		return Float(x[i]), true
	case Float64Array:
		return Float(x[i]), true
	case Array:
		return x[i], true
	}
	return nil, false
}

// IsSequence reports whether v can be indexed with Index.
func IsSequence(v Variant) bool {
	switch v.(type) {
	case Bytes, Int32Array, Int64Array, Float32Array, Float64Array, Array:
		return true
	}
	return false
}

// AsInt converts bool and int variants to int64.
func AsInt(v Variant) (int64, bool) {
	switch x := v.(type) {
	case Int:
		return int64(x), true
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsFloat converts float and int variants to float64.
func AsFloat(v Variant) (float64, bool) {
	switch x := v.(type) {
	case Float:
		return float64(x), true
	case Int:
		return float64(x), true
	}
	return 0, false
}

// AsBool follows the usual truthiness for scalars.
func AsBool(v Variant) (bool, bool) {
	switch x := v.(type) {
	case Bool:
		return bool(x), true
	case Int:
		return x != 0, true
	case Float:
		return x != 0 && !math.IsNaN(float64(x)), true
	}
	return false, false
}

func (v Bool) String() string   { return fmt.Sprint(bool(v)) }
func (v Int) String() string    { return fmt.Sprint(int64(v)) }
func (v Float) String() string  { return fmt.Sprint(float64(v)) }
func (Nil) String() string      { return "null" }
func (v Object) String() string { return fmt.Sprintf("object(%T)", v.Value) }
