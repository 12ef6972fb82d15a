package sortedfile

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile/block"
	"github.com/KevoDB/mapfile/pkg/sortedfile/footer"
)

func writeInt64File(t *testing.T, path string, keys []int64, opts ...WriterOption) {
	t.Helper()

	w, err := Create(path, Int64(), String(), cmp.Compare[int64], opts...)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, w.Append(k, fmt.Sprintf("value-%d", k)))
	}
	require.NoError(t, w.Close())
}

func openInt64File(t *testing.T, path string) *Reader[int64, string] {
	t.Helper()

	r, err := Open(path, Int64(), String(), cmp.Compare[int64])
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func evenKeys(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i * 2)
	}
	return keys
}

func TestReaderRoundTrip(t *testing.T) {
	registry := compression.NewDefaultRegistry()
	keys := evenKeys(1000)

	for _, name := range registry.Names() {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "part-00000")
			writeInt64File(t, path, keys, WithIndexInterval(16), WithCompression(name))

			r := openInt64File(t, path)
			assert.Equal(t, uint64(len(keys)), r.NumEntries())
			assert.Equal(t, 63, r.IndexLen())
			assert.Equal(t, name, r.Codec())
			assert.Equal(t, "int64", r.KeyType())
			assert.Equal(t, "string", r.ValueType())
			assert.Equal(t, path, r.Path())

			for _, k := range keys {
				v, err := r.Get(k)
				require.NoError(t, err, "key %d", k)
				assert.Equal(t, fmt.Sprintf("value-%d", k), v)
			}
			for _, k := range []int64{-1, 1, 17, 999, 1999, 5000} {
				_, err := r.Get(k)
				assert.ErrorIs(t, err, ErrNotFound, "key %d", k)
			}
		})
	}
}

func TestReaderIndexSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(10), WithIndexInterval(4))

	r := openInt64File(t, path)
	index := r.Index()
	require.Len(t, index, 3)

	assert.Equal(t, int64(0), index[0].Key)
	assert.Equal(t, int64(8), index[1].Key)
	assert.Equal(t, int64(16), index[2].Key)
	assert.Less(t, index[0].Offset, index[1].Offset)
	assert.Less(t, index[1].Offset, index[2].Offset)
}

func TestReaderBoundaryKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, []int64{10, 20, 30, 40, 50}, WithIndexInterval(2))

	r := openInt64File(t, path)

	tests := []struct {
		name  string
		key   int64
		found bool
	}{
		{"below first key", 5, false},
		{"first key", 10, true},
		{"between samples", 25, false},
		{"sampled key", 30, true},
		{"unsampled key", 40, true},
		{"last key", 50, true},
		{"above last key", 60, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := r.Get(tt.key)
			if !tt.found {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("value-%d", tt.key), v)
		})
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, nil)

	r := openInt64File(t, path)
	assert.Equal(t, uint64(0), r.NumEntries())
	assert.Equal(t, 0, r.IndexLen())

	_, err := r.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	it := r.NewIterator()
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func TestReaderNextAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	keys := evenKeys(20)
	writeInt64File(t, path, keys, WithIndexInterval(3))

	r := openInt64File(t, path)

	for i, k := range keys {
		// Point lookups use their own cursor
		if i == 5 {
			_, err := r.Get(36)
			require.NoError(t, err)
		}
		e, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, k, e.Key)
		assert.Equal(t, fmt.Sprintf("value-%d", k), e.Value)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	r.Reset()
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, keys[0], e.Key)
}

func TestReaderDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	w, err := Create(path, String(), String(), cmp.Compare[string], WithIndexInterval(2))
	require.NoError(t, err)
	for i, k := range []string{"a", "b", "b", "b", "b", "c"} {
		require.NoError(t, w.Append(k, fmt.Sprint(i)))
	}
	require.NoError(t, w.Close())

	r, err := Open(path, String(), String(), cmp.Compare[string])
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	var values []string
	for e, err := range r.All() {
		require.NoError(t, err)
		values = append(values, e.Value)
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, values)
}

func TestIteratorSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(50), WithIndexInterval(8))

	r := openInt64File(t, path)
	it := r.NewIterator()

	require.True(t, it.Seek(31))
	assert.True(t, it.Valid())
	assert.Equal(t, int64(32), it.Key())
	assert.Equal(t, "value-32", it.Value())

	require.True(t, it.Next())
	assert.Equal(t, int64(34), it.Key())

	require.True(t, it.Seek(-10))
	assert.Equal(t, int64(0), it.Key())

	assert.False(t, it.Seek(99))
	assert.False(t, it.Valid())
	assert.NoError(t, it.Err())
}

func TestReaderAllStopsEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(100), WithIndexInterval(10))

	r := openInt64File(t, path)

	count := 0
	for _, err := range r.All() {
		require.NoError(t, err)
		count++
		if count == 15 {
			break
		}
	}
	assert.Equal(t, 15, count)
}

func TestReaderClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(10))

	r, err := Open(path, Int64(), String(), cmp.Compare[int64])
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Get(2)
	assert.ErrorIs(t, err, ErrReaderClosed)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrReaderClosed)

	it := r.NewIterator()
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), ErrReaderClosed)

	assert.NoError(t, r.Close())
}

func TestReaderTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(3))

	_, err := Open(path, String(), String(), cmp.Compare[string])
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Open(path, Int64(), Bytes(), cmp.Compare[int64])
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestReaderUnknownCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	writeInt64File(t, path, evenKeys(3), WithCompression(compression.Snappy))

	_, err := Open(path, Int64(), String(), cmp.Compare[int64],
		WithReaderRegistry(compression.NewRegistry()))
	assert.ErrorIs(t, err, compression.ErrUnknownCodec)
}

func TestReaderCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "part-00000")
	writeInt64File(t, path, evenKeys(40), WithIndexInterval(8))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	ft, err := footer.Decode(data[len(data)-footer.FooterSize:])
	require.NoError(t, err)

	mutate := func(t *testing.T, name string, fn func([]byte) []byte) string {
		t.Helper()
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, fn(bytes.Clone(data)), 0644))
		return p
	}

	t.Run("flipped data byte", func(t *testing.T) {
		p := mutate(t, "data", func(b []byte) []byte {
			b[ft.DataOffset+block.HeaderSize+1] ^= 0xff
			return b
		})
		r, err := Open(p, Int64(), String(), cmp.Compare[int64])
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Get(0)
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("flipped index byte", func(t *testing.T) {
		p := mutate(t, "index", func(b []byte) []byte {
			b[ft.IndexOffset+1] ^= 0xff
			return b
		})
		_, err := Open(p, Int64(), String(), cmp.Compare[int64])
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("truncated", func(t *testing.T) {
		p := mutate(t, "truncated", func(b []byte) []byte {
			return b[:len(b)-10]
		})
		_, err := Open(p, Int64(), String(), cmp.Compare[int64])
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("tiny file", func(t *testing.T) {
		p := mutate(t, "tiny", func([]byte) []byte {
			return []byte("hello")
		})
		_, err := Open(p, Int64(), String(), cmp.Compare[int64])
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("text file", func(t *testing.T) {
		p := mutate(t, "notes.txt", func([]byte) []byte {
			return bytes.Repeat([]byte("not a partition file\n"), 20)
		})
		_, err := Open(p, Int64(), String(), cmp.Compare[int64])
		assert.ErrorIs(t, err, ErrCorruption)
	})
}

func TestReaderDirectory(t *testing.T) {
	_, err := Open(t.TempDir(), Int64(), String(), cmp.Compare[int64])
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestProtoValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	values := Proto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	assert.Equal(t, "proto:google.protobuf.StringValue", values.Name())

	w, err := Create(path, Uint64(), values, cmp.Compare[uint64], WithCompression(compression.Zstd))
	require.NoError(t, err)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, w.Append(i, wrapperspb.String(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, w.Close())

	r, err := Open(path, Uint64(), values, cmp.Compare[uint64])
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get(3)
	require.NoError(t, err)
	assert.Equal(t, "v3", v.GetValue())
}

func TestBytesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000")
	w, err := Create(path, Bytes(), Bytes(), bytes.Compare)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte{0x00}, []byte("zero")))
	require.NoError(t, w.Append([]byte{0x00, 0x01}, nil))
	require.NoError(t, w.Append([]byte{0xff}, []byte("max")))
	require.NoError(t, w.Close())

	r, err := Open(path, Bytes(), Bytes(), bytes.Compare)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get([]byte{0xff})
	require.NoError(t, err)
	assert.Equal(t, []byte("max"), v)

	v, err = r.Get([]byte{0x00, 0x01})
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = r.Get([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotFound)
}
