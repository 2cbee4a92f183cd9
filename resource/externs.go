package resource

import (
	"math"
	"reflect"
	"sync"

	"github.com/wippyai/wasm-bridge/value"
)

// Externs is a heap of host values addressed by externref handles; 0 is
// the null reference. It implements value.Refs.
//
// Equal scalars, strings, byte strings and objects wrapping the same
// pointer or scalar share one handle, counted once per Ref. Release drops
// one count and frees the handle at zero, after which its number is not
// handed out again. Arrays always get a fresh handle.
type Externs struct {
	vals   map[uint64]*extern
	keys   map[externKey]uint64
	next   uint64
	mu     sync.RWMutex
	closed bool
}

type extern struct {
	v    value.Variant
	key  externKey
	refs int
}

// externKey identifies values that may share a handle.
type externKey struct {
	kind value.Kind
	bits uint64
	str  string
	obj  any
}

// NewExterns creates an empty extern heap.
func NewExterns() *Externs {
	return &Externs{
		vals: make(map[uint64]*extern),
		keys: make(map[externKey]uint64),
	}
}

func keyOf(v value.Variant) (externKey, bool) {
	switch x := v.(type) {
	case value.Bool:
		if x {
			return externKey{kind: value.KindBool, bits: 1}, true
		}
		return externKey{kind: value.KindBool}, true
	case value.Int:
		return externKey{kind: value.KindInt, bits: uint64(x)}, true
	case value.Float:
		return externKey{kind: value.KindFloat, bits: math.Float64bits(float64(x))}, true
	case value.String:
		return externKey{kind: value.KindString, str: string(x)}, true
	case value.Bytes:
		return externKey{kind: value.KindBytes, str: string(x)}, true
	case value.Object:
		if x.Value == nil {
			return externKey{}, false
		}
		switch reflect.TypeOf(x.Value).Kind() {
		case reflect.Ptr, reflect.Chan, reflect.UnsafePointer,
			reflect.Bool, reflect.String,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
			reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
			return externKey{kind: value.KindObject, obj: x.Value}, true
		}
	}
	return externKey{}, false
}

// Ref returns a handle for v. Nil maps to the null reference.
func (e *Externs) Ref(v value.Variant) uint64 {
	if value.IsNil(v) {
		return 0
	}
	key, shared := keyOf(v)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0
	}
	if shared {
		if h, ok := e.keys[key]; ok {
			e.vals[h].refs++
			return h
		}
	}
	e.next++
	ext := &extern{v: v, refs: 1}
	if shared {
		ext.key = key
		e.keys[key] = e.next
	}
	e.vals[e.next] = ext
	return e.next
}

// Deref returns the value behind a handle.
func (e *Externs) Deref(ref uint64) (value.Variant, bool) {
	if ref == 0 {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ext, ok := e.vals[ref]
	if !ok {
		return nil, false
	}
	return ext.v, true
}

// Release drops one count of a handle. Guest code holding a freed handle
// sees null.
func (e *Externs) Release(ref uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ext, ok := e.vals[ref]
	if !ok {
		return false
	}
	ext.refs--
	if ext.refs > 0 {
		return true
	}
	delete(e.vals, ref)
	if h, ok := e.keys[ext.key]; ok && h == ref {
		delete(e.keys, ext.key)
	}
	return true
}

// Len returns the number of live handles.
func (e *Externs) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vals)
}

// Close releases every handle.
func (e *Externs) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.vals = nil
	e.keys = nil
	return nil
}
