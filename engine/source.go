package engine

import (
	"bytes"

	"github.com/wippyai/wasm-bridge/wasm"
)

// Source is something Compile accepts: Binary, Text, Precompiled or an
// already compiled *Module.
type Source interface {
	// SourceKind names the source form for logs and traces.
	SourceKind() string
	source()
}

// Binary is a core module in the binary format.
type Binary []byte

// Text is a core module in the text format.
type Text string

// Precompiled is an artifact produced by Serialize. It is trusted without
// validation and must never come from an untrusted party.
type Precompiled []byte

func (Binary) SourceKind() string      { return "binary" }
func (Text) SourceKind() string        { return "text" }
func (Precompiled) SourceKind() string { return "precompiled" }
func (*Module) SourceKind() string     { return "module" }

func (Binary) source()      {}
func (Text) source()        {}
func (Precompiled) source() {}
func (*Module) source()     {}

// Detect classifies raw bytes by their header. Anything that is neither a
// binary module nor a precompiled artifact is treated as text.
func Detect(b []byte) Source {
	switch {
	case bytes.HasPrefix(b, wasm.Magic[:4]):
		return Binary(b)
	case bytes.HasPrefix(b, envelopeMagic):
		return Precompiled(b)
	default:
		return Text(b)
	}
}
