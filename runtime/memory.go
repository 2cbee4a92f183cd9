package runtime

import (
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memory"
	"github.com/wippyai/wasm-bridge/value"
)

// Memory returns an accessor for the memory export selected by
// memory.exportName or MemorySetName.
func (i *Instance) Memory() (*memory.Accessor, error) {
	if i.mem != nil {
		return i.mem, nil
	}
	m := i.main.ExportedMemory(i.memName)
	if m == nil {
		return nil, errors.NotFound(errors.PhaseMemory, "memory export", i.memName)
	}
	i.mem = memory.New(m)
	return i.mem, nil
}

// MemorySetName selects another memory export. It reports whether the
// export exists.
func (i *Instance) MemorySetName(name string) bool {
	i.memName = name
	i.mem = nil
	_, err := i.Memory()
	return err == nil
}

// HasMemory reports whether the selected memory export exists.
func (i *Instance) HasMemory() bool {
	_, err := i.Memory()
	return err == nil
}

// MemorySize returns the memory size in bytes, or 0 without memory.
func (i *Instance) MemorySize() uint32 {
	m, err := i.Memory()
	if err != nil {
		return 0
	}
	return m.Size()
}

func withMemory[T any](i *Instance, fn func(*memory.Accessor) (T, error)) (T, error) {
	m, err := i.Memory()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(m)
}

func onMemory(i *Instance, fn func(*memory.Accessor) error) error {
	m, err := i.Memory()
	if err != nil {
		return err
	}
	return fn(m)
}

// MemoryRead copies n bytes starting at p.
func (i *Instance) MemoryRead(p, n uint32) ([]byte, error) {
	return withMemory(i, func(m *memory.Accessor) ([]byte, error) { return m.Read(p, n) })
}

// MemoryWrite copies data to p.
func (i *Instance) MemoryWrite(p uint32, data []byte) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.Write(p, data) })
}

func (i *Instance) Get8(p uint32) (uint8, error) {
	return withMemory(i, func(m *memory.Accessor) (uint8, error) { return m.ReadU8(p) })
}

func (i *Instance) Get16(p uint32) (uint16, error) {
	return withMemory(i, func(m *memory.Accessor) (uint16, error) { return m.ReadU16(p) })
}

func (i *Instance) Get32(p uint32) (uint32, error) {
	return withMemory(i, func(m *memory.Accessor) (uint32, error) { return m.ReadU32(p) })
}

func (i *Instance) Get64(p uint32) (uint64, error) {
	return withMemory(i, func(m *memory.Accessor) (uint64, error) { return m.ReadU64(p) })
}

func (i *Instance) Put8(p uint32, v uint8) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteU8(p, v) })
}

func (i *Instance) Put16(p uint32, v uint16) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteU16(p, v) })
}

func (i *Instance) Put32(p uint32, v uint32) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteU32(p, v) })
}

func (i *Instance) Put64(p uint32, v uint64) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteU64(p, v) })
}

func (i *Instance) GetFloat(p uint32) (float32, error) {
	return withMemory(i, func(m *memory.Accessor) (float32, error) { return m.ReadF32(p) })
}

func (i *Instance) GetDouble(p uint32) (float64, error) {
	return withMemory(i, func(m *memory.Accessor) (float64, error) { return m.ReadF64(p) })
}

func (i *Instance) PutFloat(p uint32, v float32) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteF32(p, v) })
}

func (i *Instance) PutDouble(p uint32, v float64) error {
	return onMemory(i, func(m *memory.Accessor) error { return m.WriteF64(p, v) })
}

// GetArray reads n elements of kind starting at p.
func (i *Instance) GetArray(kind memory.ArrayKind, p, n uint32) (value.Variant, error) {
	return withMemory(i, func(m *memory.Accessor) (value.Variant, error) { return m.GetArray(kind, p, n) })
}

// PutArray writes v as elements of kind starting at p and returns the
// number of bytes written.
func (i *Instance) PutArray(kind memory.ArrayKind, p uint32, v value.Variant) (uint32, error) {
	return withMemory(i, func(m *memory.Accessor) (uint32, error) { return m.PutArray(kind, p, v) })
}

// ReadStruct decodes the packed struct described by format at p.
func (i *Instance) ReadStruct(format string, p uint32) (value.Array, error) {
	return withMemory(i, func(m *memory.Accessor) (value.Array, error) { return m.ReadStruct(format, p) })
}

// WriteStruct encodes values at p and returns the bytes written, padding
// included.
func (i *Instance) WriteStruct(format string, p uint32, values value.Variant) (uint32, error) {
	return withMemory(i, func(m *memory.Accessor) (uint32, error) { return m.WriteStruct(format, p, values) })
}
