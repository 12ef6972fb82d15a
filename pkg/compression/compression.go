// Package compression provides the block codecs used by sorted map files and
// a registry that resolves a codec identifier to a constructor.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec identifiers understood by the default registry.
const (
	None   = "none"
	Snappy = "snappy"
	Zstd   = "zstd"
	S2     = "s2"
	Gzip   = "gzip"
)

var (
	// ErrUnknownCodec is returned when an unregistered codec is requested
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when compressed data cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec compresses and decompresses whole blocks.
//
// A Codec instance is owned by a single writer or reader and is not required
// to be safe for concurrent use.
type Codec interface {
	// Name returns the identifier the codec is registered under.
	Name() string
	// Compress returns the compressed form of src. dst may be reused.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress returns the decompressed form of src. dst may be reused.
	Decompress(dst, src []byte) ([]byte, error)
}

// Constructor creates a fresh Codec instance.
type Constructor func() (Codec, error)

// Registry maps codec identifiers to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry. Only the identity codec is
// available until more are registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(None, func() (Codec, error) { return noneCodec{}, nil })
	return r
}

// NewDefaultRegistry creates a registry with every built-in codec.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Snappy, func() (Codec, error) { return snappyCodec{}, nil })
	r.Register(S2, func() (Codec, error) { return s2Codec{}, nil })
	r.Register(Gzip, func() (Codec, error) { return &gzipCodec{level: gzip.DefaultCompression}, nil })
	r.Register(Zstd, NewZstdConstructor(zstd.SpeedDefault))
	return r
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Lookup instantiates the codec registered under name. An empty name
// resolves to the identity codec.
func (r *Registry) Lookup(name string) (Codec, error) {
	if name == "" {
		name = None
	}

	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	codec, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s codec: %w", name, err)
	}
	return codec, nil
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type noneCodec struct{}

func (noneCodec) Name() string { return None }

func (noneCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (noneCodec) Decompress(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return Snappy }

func (snappyCodec) Compress(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst[:cap(dst)], src), nil
}

func (snappyCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	return out, nil
}

type s2Codec struct{}

func (s2Codec) Name() string { return S2 }

func (s2Codec) Compress(dst, src []byte) ([]byte, error) {
	return s2.Encode(dst[:cap(dst)], src), nil
}

func (s2Codec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := s2.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	return out, nil
}

type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdConstructor returns a constructor for zstd codecs using level.
func NewZstdConstructor(level zstd.EncoderLevel) Constructor {
	return func() (Codec, error) {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
		}

		decoder, err := zstd.NewReader(nil)
		if err != nil {
			encoder.Close()
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}

		return &zstdCodec{encoder: encoder, decoder: decoder}, nil
	}
}

func (z *zstdCodec) Name() string { return Zstd }

func (z *zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, dst[:0]), nil
}

func (z *zstdCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	return out, nil
}

type gzipCodec struct {
	level int
	buf   bytes.Buffer
}

func (g *gzipCodec) Name() string { return Gzip }

func (g *gzipCodec) Compress(dst, src []byte) ([]byte, error) {
	g.buf.Reset()
	w, err := gzip.NewWriterLevel(&g.buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return append(dst[:0], g.buf.Bytes()...), nil
}

func (g *gzipCodec) Decompress(dst, src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	defer r.Close()

	out := bytes.NewBuffer(dst[:0])
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
	}
	return out.Bytes(), nil
}
