package value

import (
	"fmt"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// Type codes used by host descriptors and signature tables.
const (
	CodeI32     uint32 = 1
	CodeI64     uint32 = 2
	CodeF32     uint32 = 3
	CodeF64     uint32 = 4
	CodeV128    uint32 = 5
	CodeVariant uint32 = 6 // externref carrying a host value
)

// TypeFromCode maps a descriptor type code to a wasm value type.
func TypeFromCode(code uint32) (wasm.ValType, error) {
	switch code {
	case CodeI32:
		return wasm.ValI32, nil
	case CodeI64:
		return wasm.ValI64, nil
	case CodeF32:
		return wasm.ValF32, nil
	case CodeF64:
		return wasm.ValF64, nil
	case CodeV128:
		return wasm.ValV128, nil
	case CodeVariant:
		return wasm.ValExternRef, nil
	}
	return 0, errors.New(errors.PhaseMarshal, errors.KindInvalidValue).
		Detail("unknown type code %d", code).
		Build()
}

// CodeOf is the inverse of TypeFromCode. Types without a code return 0.
func CodeOf(t wasm.ValType) uint32 {
	switch t {
	case wasm.ValI32:
		return CodeI32
	case wasm.ValI64:
		return CodeI64
	case wasm.ValF32:
		return CodeF32
	case wasm.ValF64:
		return CodeF64
	case wasm.ValV128:
		return CodeV128
	case wasm.ValExternRef:
		return CodeVariant
	}
	return 0
}

// Codes converts a type list to a byte array of type codes.
func Codes(types []wasm.ValType) Bytes {
	out := make(Bytes, len(types))
	for i, t := range types {
		out[i] = byte(CodeOf(t))
	}
	return out
}

// TypesFromVariant reads a type list expressed as a byte array, an int
// array, or an array of integers.
func TypesFromVariant(v Variant) ([]wasm.ValType, error) {
	if IsNil(v) {
		return nil, nil
	}
	if !IsSequence(v) {
		return nil, errors.TypeMismatch(nil, "type code list", describe(v))
	}
	n := Len(v)
	out := make([]wasm.ValType, n)
	for i := 0; i < n; i++ {
		e, _ := Index(v, i)
		code, ok := AsInt(e)
		if !ok {
			return nil, errors.TypeMismatch([]string{fmt.Sprint(i)}, "type code", describe(e))
		}
		t, err := TypeFromCode(uint32(code))
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
