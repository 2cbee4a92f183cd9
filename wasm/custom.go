package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// CustomSections returns the payload of every custom section keyed by name.
// Repeated sections with the same name are kept in order. Malformed input
// returns an error and a nil map; the parser never reads past the buffer.
//
// The section size normally counts the name and its length prefix. Input
// that does not parse that way is read again with the size counted from
// after the name length prefix, a framing some producers emit. Input that
// fails both readings is an error.
func CustomSections(bin []byte) (map[string][][]byte, error) {
	if len(bin) < len(Magic) || !bytes.Equal(bin[:len(Magic)], Magic) {
		return nil, errors.New("missing wasm magic header")
	}
	out, err := customSections(bin[len(Magic):], false)
	if err == nil {
		return out, nil
	}
	if alt, altErr := customSections(bin[len(Magic):], true); altErr == nil {
		return alt, nil
	}
	return nil, err
}

func customSections(rest []byte, sizeAfterPrefix bool) (map[string][][]byte, error) {
	out := make(map[string][][]byte)
	for len(rest) > 0 {
		id := rest[0]
		size, n, err := ReadUleb128(rest[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		rest = rest[1+n:]

		if id == SectionCustom && sizeAfterPrefix {
			nameLen, n, err := ReadUleb128(rest, 64)
			if err != nil {
				return nil, fmt.Errorf("custom section name length: %w", err)
			}
			rest = rest[n:]
			if size > uint64(len(rest)) {
				return nil, fmt.Errorf("section %d: size %d exceeds remaining %d bytes", id, size, len(rest))
			}
			name, data, err := splitCustom(rest[:size], nameLen)
			if err != nil {
				return nil, err
			}
			out[name] = append(out[name], data)
			rest = rest[size:]
			continue
		}

		if size > uint64(len(rest)) {
			return nil, fmt.Errorf("section %d: size %d exceeds remaining %d bytes", id, size, len(rest))
		}
		payload := rest[:size]
		rest = rest[size:]
		if id != SectionCustom {
			continue
		}

		nameLen, n, err := ReadUleb128(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("custom section name length: %w", err)
		}
		name, data, err := splitCustom(payload[n:], nameLen)
		if err != nil {
			return nil, err
		}
		out[name] = append(out[name], data)
	}
	return out, nil
}

// splitCustom separates the name from the data of a custom section body
// that starts right after the name length prefix.
func splitCustom(body []byte, nameLen uint64) (string, []byte, error) {
	if nameLen > uint64(len(body)) {
		return "", nil, fmt.Errorf("custom section name length %d exceeds payload", nameLen)
	}
	if !utf8.Valid(body[:nameLen]) {
		return "", nil, errors.New("custom section name is not valid UTF-8")
	}
	data := make([]byte, uint64(len(body))-nameLen)
	copy(data, body[nameLen:])
	return string(body[:nameLen]), data, nil
}
