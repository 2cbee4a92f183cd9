package memory

import (
	"encoding/binary"
	"math"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// PageSize is the wasm page size in bytes.
const PageSize = 65536

// Backend is raw guest memory. wazero's api.Memory satisfies it.
type Backend interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Accessor provides bounds-checked typed access to a guest memory.
// The size is re-read on every call; memory may grow between calls.
type Accessor struct {
	mem Backend
}

// New wraps mem.
func New(mem Backend) *Accessor {
	return &Accessor{mem: mem}
}

// Size returns the current memory size in bytes.
func (a *Accessor) Size() uint32 {
	return a.mem.Size()
}

// Pages returns the current memory size in pages.
func (a *Accessor) Pages() uint32 {
	return a.mem.Size() / PageSize
}

// Check reports whether [ptr, ptr+n) lies inside memory. The sum is
// computed in 64 bits so it cannot wrap.
func (a *Accessor) Check(ptr uint32, n uint64) error {
	size := uint64(a.mem.Size())
	if uint64(ptr)+n > size {
		return errors.OutOfBounds(uint64(ptr), n, size)
	}
	return nil
}

func (a *Accessor) view(ptr uint32, n uint64) ([]byte, error) {
	if err := a.Check(ptr, n); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	b, ok := a.mem.Read(ptr, uint32(n))
	if !ok {
		return nil, errors.OutOfBounds(uint64(ptr), n, uint64(a.mem.Size()))
	}
	return b, nil
}

// Read copies length bytes starting at offset.
func (a *Accessor) Read(offset, length uint32) ([]byte, error) {
	b, err := a.view(offset, uint64(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Write copies data into memory at offset.
func (a *Accessor) Write(offset uint32, data []byte) error {
	if err := a.Check(offset, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if !a.mem.Write(offset, data) {
		return errors.OutOfBounds(uint64(offset), uint64(len(data)), uint64(a.mem.Size()))
	}
	return nil
}

func (a *Accessor) ReadU8(offset uint32) (uint8, error) {
	b, err := a.view(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Accessor) ReadU16(offset uint32) (uint16, error) {
	b, err := a.view(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (a *Accessor) ReadU32(offset uint32) (uint32, error) {
	b, err := a.view(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (a *Accessor) ReadU64(offset uint32) (uint64, error) {
	b, err := a.view(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (a *Accessor) WriteU8(offset uint32, v uint8) error {
	return a.Write(offset, []byte{v})
}

func (a *Accessor) WriteU16(offset uint32, v uint16) error {
	return a.Write(offset, binary.LittleEndian.AppendUint16(nil, v))
}

func (a *Accessor) WriteU32(offset uint32, v uint32) error {
	return a.Write(offset, binary.LittleEndian.AppendUint32(nil, v))
}

func (a *Accessor) WriteU64(offset uint32, v uint64) error {
	return a.Write(offset, binary.LittleEndian.AppendUint64(nil, v))
}

func (a *Accessor) ReadF32(offset uint32) (float32, error) {
	v, err := a.ReadU32(offset)
	return math.Float32frombits(v), err
}

func (a *Accessor) ReadF64(offset uint32) (float64, error) {
	v, err := a.ReadU64(offset)
	return math.Float64frombits(v), err
}

func (a *Accessor) WriteF32(offset uint32, v float32) error {
	return a.WriteU32(offset, math.Float32bits(v))
}

func (a *Accessor) WriteF64(offset uint32, v float64) error {
	return a.WriteU64(offset, math.Float64bits(v))
}

var (
	_ wasmbridge.Memory      = (*Accessor)(nil)
	_ wasmbridge.MemorySizer = (*Accessor)(nil)
)
