// Package value defines the host-side Variant sum type and its conversion
// to and from wasm values.
//
// Host to wasm conversion narrows integers with two's-complement
// truncation, matching a native cast:
//
//	m := value.Marshaler{}
//	stack, _ := m.Lower(nil, wasm.ValI32, value.Int(0x1_0000_0001)) // stack[0] == 1
//
// A v128 result is exposed as a 4 x i32 Int32Array by default. Lowering
// also accepts 2 x i64 and 16-byte containers.
//
// Externref values go through a Refs implementation, typically the
// per-instance extern heap from package resource.
package value
