package compression

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryRoundTrip(t *testing.T) {
	registry := NewDefaultRegistry()

	inputs := []struct {
		name string
		src  []byte
	}{
		{name: "simple text", src: []byte("hello world")},
		{name: "repeated pattern", src: bytes.Repeat([]byte("abc"), 1000)},
		{name: "binary data", src: []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0xfd, 0xfc}},
		{name: "unicode text", src: []byte("Hello 世界 🌍")},
	}

	for _, name := range registry.Names() {
		codec, err := registry.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, codec.Name())

		for _, tt := range inputs {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				compressed, err := codec.Compress(nil, tt.src)
				require.NoError(t, err)

				decompressed, err := codec.Decompress(nil, compressed)
				require.NoError(t, err)
				assert.Equal(t, len(tt.src), len(decompressed))
				assert.True(t, bytes.Equal(tt.src, decompressed))
			})
		}
	}
}

func TestRegistryNames(t *testing.T) {
	assert.Equal(t, []string{None}, NewRegistry().Names())
	assert.Equal(t, []string{Gzip, None, S2, Snappy, Zstd}, NewDefaultRegistry().Names())
}

func TestRegistryUnknownCodec(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Lookup(Zstd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCodec))

	codec, err := registry.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, None, codec.Name())
}

func TestRegistryConstructorError(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("boom")
	registry.Register("broken", func() (Codec, error) { return nil, boom })

	_, err := registry.Lookup("broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestDecompressGarbage(t *testing.T) {
	registry := NewDefaultRegistry()
	garbage := []byte{0x05, 0xff, 0xff, 0xff}

	for _, name := range []string{Snappy, S2, Zstd, Gzip} {
		t.Run(name, func(t *testing.T) {
			codec, err := registry.Lookup(name)
			require.NoError(t, err)

			_, err = codec.Decompress(nil, garbage)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCompressedData))
		})
	}
}
