package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMagic(b ...byte) []byte {
	return append(append([]byte{}, Magic...), b...)
}

func TestCustomSections(t *testing.T) {
	tests := []struct {
		name string
		bin  []byte
		want map[string][][]byte
	}{
		{
			name: "single section",
			bin:  withMagic(0x00, 0x06, 0x04, 't', 'e', 's', 't', 0x01),
			want: map[string][][]byte{"test": {{0x01}}},
		},
		{
			name: "repeated name keeps order",
			bin: withMagic(
				0x00, 0x03, 0x01, 'a', 0x01,
				0x00, 0x04, 0x01, 'a', 0x02, 0x03,
			),
			want: map[string][][]byte{"a": {{0x01}, {0x02, 0x03}}},
		},
		{
			name: "skips non-custom sections",
			bin: withMagic(
				SectionType, 0x01, 0x00,
				0x00, 0x02, 0x01, 'x',
			),
			want: map[string][][]byte{"x": {{}}},
		},
		{
			name: "size counted after name prefix",
			bin:  withMagic(0x00, 0x05, 0x04, 't', 'e', 's', 't', 0x01),
			want: map[string][][]byte{"test": {{0x01}}},
		},
		{
			name: "size after name prefix with other sections",
			bin: withMagic(
				SectionType, 0x01, 0x00,
				0x00, 0x03, 0x02, 'a', 'b', 0x09,
			),
			want: map[string][][]byte{"ab": {{0x09}}},
		},
		{
			name: "no sections",
			bin:  withMagic(),
			want: map[string][][]byte{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CustomSections(tt.bin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCustomSectionsMalformed(t *testing.T) {
	tests := []struct {
		name string
		bin  []byte
	}{
		{"no header", []byte{0x00, 0x05}},
		{"truncated size", withMagic(0x00, 0x85)},
		{"size over 64 bits", withMagic(0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f)},
		{"size past end", withMagic(0x00, 0x10, 0x01, 'a')},
		{"name past payload", withMagic(0x00, 0x02, 0x05, 'a')},
		{"truncated name length", withMagic(0x00, 0x01, 0x80)},
		{"invalid utf8 name", withMagic(0x00, 0x02, 0x01, 0xff)},
		{"size short in both framings", withMagic(0x00, 0x03, 0x04, 't', 'e', 's', 't', 0x01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CustomSections(tt.bin)
			assert.Error(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestLEB128(t *testing.T) {
	t.Run("unsigned round trip", func(t *testing.T) {
		for _, v := range []uint64{0, 1, 127, 128, 624485, 1<<32 - 1, 1<<64 - 1} {
			enc := AppendUleb128(nil, v)
			got, n, err := ReadUleb128(enc, 64)
			require.NoError(t, err)
			assert.Equal(t, v, got)
			assert.Equal(t, len(enc), n)
		}
	})

	t.Run("signed round trip", func(t *testing.T) {
		for _, v := range []int64{0, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40)} {
			enc := AppendSleb128(nil, v)
			got, n, err := ReadSleb128(enc, 64)
			require.NoError(t, err)
			assert.Equal(t, v, got)
			assert.Equal(t, len(enc), n)
		}
	})

	t.Run("u32 overflow", func(t *testing.T) {
		_, _, err := ReadUleb128([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}, 32)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := ReadUleb128([]byte{0x80, 0x80}, 64)
		assert.ErrorIs(t, err, ErrTruncated)
	})
}
