package footer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterEncodeDecode(t *testing.T) {
	f := NewFooter(
		27,    // dataOffset
		1000,  // indexOffset
		500,   // indexSize
		1234,  // numEntries
		98765, // indexChecksum
	)

	encoded := f.Encode()
	require.Len(t, encoded, FooterSize)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, f.Magic, decoded.Magic)
	assert.Equal(t, f.Version, decoded.Version)
	assert.Equal(t, f.Timestamp, decoded.Timestamp)
	assert.Equal(t, f.DataOffset, decoded.DataOffset)
	assert.Equal(t, f.IndexOffset, decoded.IndexOffset)
	assert.Equal(t, f.IndexSize, decoded.IndexSize)
	assert.Equal(t, f.NumEntries, decoded.NumEntries)
	assert.Equal(t, f.IndexChecksum, decoded.IndexChecksum)
	assert.Equal(t, f.Checksum, decoded.Checksum)
}

func TestFooterWriteTo(t *testing.T) {
	f := NewFooter(10, 2000, 64, 7, 1)

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(FooterSize), n)

	decoded, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), decoded.IndexOffset)
	assert.Equal(t, uint64(7), decoded.NumEntries)
}

func TestFooterCorruption(t *testing.T) {
	encoded := NewFooter(10, 1000, 500, 1234, 0).Encode()

	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{
			name: "bad magic",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint64(b[0:8], 0xDEADBEEF)
			},
		},
		{
			name: "flipped field byte",
			mutate: func(b []byte) {
				b[30] ^= 0xff
			},
		},
		{
			name: "bad checksum",
			mutate: func(b []byte) {
				b[FooterSize-1] ^= 0x01
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), encoded...)
			tt.mutate(data)

			_, err := Decode(data)
			assert.Error(t, err)
		})
	}
}

func TestFooterTooSmall(t *testing.T) {
	_, err := Decode(make([]byte, FooterSize-1))
	assert.Error(t, err)
}
