package wasm

import (
	"errors"
)

// LEB128 encoding/decoding over byte slices.

var (
	// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
	ErrOverflow = errors.New("leb128: overflow")
	// ErrTruncated is returned when input ends in the middle of a value.
	ErrTruncated = errors.New("leb128: truncated")
)

// ReadUleb128 decodes an unsigned LEB128 value of at most bits width from b.
// It returns the value and the number of bytes consumed.
func ReadUleb128(b []byte, bits uint) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		if shift >= bits || (shift+7 > bits && uint64(c&0x7f)>>(bits-shift) != 0) {
			return 0, 0, ErrOverflow
		}
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
}

// ReadSleb128 decodes a signed LEB128 value of at most bits width from b.
func ReadSleb128(b []byte, bits uint) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; ; i++ {
		if i >= len(b) {
			return 0, 0, ErrTruncated
		}
		c := b[i]
		if shift >= bits {
			return 0, 0, ErrOverflow
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= ^int64(0) << shift
			}
			return result, i + 1, nil
		}
	}
}

// AppendUleb128 appends the unsigned LEB128 encoding of v to dst.
func AppendUleb128(dst []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		dst = append(dst, c)
		if v == 0 {
			return dst
		}
	}
}

// AppendSleb128 appends the signed LEB128 encoding of v to dst.
func AppendSleb128(dst []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		dst = append(dst, c)
		if done {
			return dst
		}
	}
}
