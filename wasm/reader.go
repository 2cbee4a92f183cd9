package wasm

import (
	"fmt"
	"unicode/utf8"
)

// reader is a bounds-checked cursor over a byte slice.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) len() int {
	return len(r.buf) - r.pos
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	return r.buf[r.pos], nil
}

func (r *reader) u32() (uint32, error) {
	v, n, err := ReadUleb128(r.buf[r.pos:], 32)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return uint32(v), nil
}

func (r *reader) u64() (uint64, error) {
	v, n, err := ReadUleb128(r.buf[r.pos:], 64)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) sleb(bits uint) (int64, error) {
	v, n, err := ReadSleb128(r.buf[r.pos:], bits)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.len() {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid UTF-8 name %x", b)
	}
	return string(b), nil
}

// since returns the bytes consumed from start to the current position.
func (r *reader) since(start int) []byte {
	return r.buf[start:r.pos]
}
