package block

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/mapfile/pkg/compression"
)

func buildBlock(t *testing.T, codec compression.Codec, n int) []byte {
	t.Helper()

	b := NewBuilder()
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("key%03d", i)), []byte(fmt.Sprintf("value%03d", i)))
	}

	var buf bytes.Buffer
	written, err := b.Finish(&buf, codec)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), written)
	return buf.Bytes()
}

func TestBlockRoundTrip(t *testing.T) {
	registry := compression.NewDefaultRegistry()

	for _, name := range registry.Names() {
		t.Run(name, func(t *testing.T) {
			codec, err := registry.Lookup(name)
			require.NoError(t, err)

			data := buildBlock(t, codec, 50)

			blk, next, err := Read(bytes.NewReader(data), 0, int64(len(data)), codec)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), next)
			assert.Equal(t, 50, blk.Entries())

			it := blk.Iterator()
			i := 0
			for it.Next() {
				assert.Equal(t, fmt.Sprintf("key%03d", i), string(it.Key()))
				assert.Equal(t, fmt.Sprintf("value%03d", i), string(it.Value()))
				i++
			}
			require.NoError(t, it.Err())
			assert.Equal(t, 50, i)
		})
	}
}

func TestBuilderState(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t, 0, b.Entries())

	b.Add([]byte("b"), []byte("2"))
	b.Add([]byte("c"), nil)
	assert.Equal(t, 2, b.Entries())
	assert.Equal(t, []byte("b"), b.FirstKey())
	assert.Greater(t, b.EstimatedSize(), HeaderSize+TrailerSize)

	b.Reset()
	assert.Equal(t, 0, b.Entries())
	assert.Empty(t, b.FirstKey())

	codec, err := compression.NewRegistry().Lookup(compression.None)
	require.NoError(t, err)
	_, err = b.Finish(&bytes.Buffer{}, codec)
	assert.Error(t, err)
}

func TestBlockEmptyKeyAndValue(t *testing.T) {
	codec, err := compression.NewRegistry().Lookup(compression.None)
	require.NoError(t, err)

	b := NewBuilder()
	b.Add([]byte{}, []byte{})
	b.Add([]byte("k"), []byte{})

	var buf bytes.Buffer
	_, err = b.Finish(&buf, codec)
	require.NoError(t, err)

	blk, _, err := Read(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), codec)
	require.NoError(t, err)

	it := blk.Iterator()
	require.True(t, it.Next())
	assert.Empty(t, it.Key())
	require.True(t, it.Next())
	assert.Equal(t, []byte("k"), it.Key())
	assert.Empty(t, it.Value())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestBlockCorruption(t *testing.T) {
	codec, err := compression.NewRegistry().Lookup(compression.None)
	require.NoError(t, err)

	t.Run("checksum mismatch", func(t *testing.T) {
		data := buildBlock(t, codec, 10)
		data[HeaderSize+3] ^= 0xff

		_, _, err := Read(bytes.NewReader(data), 0, int64(len(data)), codec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCorruption))
	})

	t.Run("overruns data region", func(t *testing.T) {
		data := buildBlock(t, codec, 10)

		_, _, err := Read(bytes.NewReader(data), 0, int64(len(data)-1), codec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCorruption))
	})

	t.Run("truncated header", func(t *testing.T) {
		_, _, err := Read(bytes.NewReader([]byte{1, 2, 3}), 0, 3, codec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCorruption))
	})
}
