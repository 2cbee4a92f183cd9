package config

import (
	"fmt"
	"strings"
)

// BindMode selects where a WASI stdio stream is connected.
type BindMode uint8

const (
	// BindUnbound connects the stream to nothing.
	BindUnbound BindMode = iota
	// BindContext delegates the stream to the execution context.
	BindContext
	// BindInstance routes the stream through the instance's notifications
	// (stdout/stderr) or its line queue (stdin).
	BindInstance
)

func (m BindMode) String() string {
	switch m {
	case BindUnbound:
		return "unbound"
	case BindContext:
		return "context"
	case BindInstance:
		return "instance"
	}
	return fmt.Sprintf("BindMode(%d)", uint8(m))
}

// UnmarshalText accepts unbound, context and instance. Empty means unbound.
func (m *BindMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "unbound":
		*m = BindUnbound
	case "context":
		*m = BindContext
	case "instance":
		*m = BindInstance
	default:
		return fmt.Errorf("unknown bind mode %q", b)
	}
	return nil
}

// BufferMode selects how output written by the guest is split into
// notifications.
type BufferMode uint8

const (
	BufferUnbuffered BufferMode = iota
	BufferLine
	BufferBlock
	// BufferUnbounded holds everything until the stream closes.
	BufferUnbounded
)

func (m BufferMode) String() string {
	switch m {
	case BufferUnbuffered:
		return "unbuffered"
	case BufferLine:
		return "line"
	case BufferBlock:
		return "block"
	case BufferUnbounded:
		return "unbounded"
	}
	return fmt.Sprintf("BufferMode(%d)", uint8(m))
}

// UnmarshalText accepts unbuffered, line, block and unbounded. Empty means
// unbuffered.
func (m *BufferMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "unbuffered":
		*m = BufferUnbuffered
	case "line":
		*m = BufferLine
	case "block":
		*m = BufferBlock
	case "unbounded":
		*m = BufferUnbounded
	default:
		return fmt.Errorf("unknown buffer mode %q", b)
	}
	return nil
}

// ExternMode selects the object-manipulation namespace wired into an
// instance.
type ExternMode uint8

const (
	ExternNone ExternMode = iota
	// ExternCompat wires godot_object_v1 over the index-based registry.
	ExternCompat
	// ExternNative wires godot_object_v2 over externref handles.
	ExternNative
)

func (m ExternMode) String() string {
	switch m {
	case ExternNone:
		return "none"
	case ExternCompat:
		return "compat"
	case ExternNative:
		return "extern"
	}
	return fmt.Sprintf("ExternMode(%d)", uint8(m))
}

// UnmarshalText accepts none/no_binding, compat/registry and
// extern/native.
func (m *ExternMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "none", "no_binding":
		*m = ExternNone
	case "compat", "registry":
		*m = ExternCompat
	case "extern", "native":
		*m = ExternNative
	default:
		return fmt.Errorf("unknown extern binding %q", b)
	}
	return nil
}
