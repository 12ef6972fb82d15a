// Package sortedfile implements a single partition of a sorted map: an
// immutable file of key/value entries written once in non-decreasing key
// order, with a sparse in-memory index used to answer point lookups with a
// binary search followed by a bounded forward scan.
package sortedfile

import (
	"errors"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile/block"
)

const (
	// DefaultIndexInterval is the number of entries between index samples
	DefaultIndexInterval = 128
	// FormatVersion is the header version written by this package
	FormatVersion = uint16(1)
)

// HeaderMagic identifies a sorted map file
var HeaderMagic = [4]byte{'M', 'A', 'P', 'F'}

var (
	// ErrNotFound indicates a key is not present in the file
	ErrNotFound = errors.New("key not found")
	// ErrCorruption indicates data corruption was detected
	ErrCorruption = block.ErrCorruption
	// ErrDirectoryMissing indicates the parent directory of a new file does not exist
	ErrDirectoryMissing = errors.New("output directory does not exist")
	// ErrOutOfOrderKey indicates a key was appended below the previous key
	ErrOutOfOrderKey = errors.New("key out of order")
	// ErrWriterClosed indicates use of a writer after Close or Abort
	ErrWriterClosed = errors.New("writer is closed")
	// ErrReaderClosed indicates use of a reader after Close
	ErrReaderClosed = errors.New("reader is closed")
	// ErrTypeMismatch indicates the file was written with different key or value types
	ErrTypeMismatch = errors.New("key/value type mismatch")
)

// Entry is a decoded key/value pair
type Entry[K, V any] struct {
	Key   K
	Value V
}

// IndexEntry is a sparse index sample: the first key of a data block and
// the block's byte offset in the file
type IndexEntry[K any] struct {
	Key    K
	Offset int64
}

type writerOptions struct {
	indexInterval    int
	rejectDuplicates bool
	compression      string
	registry         *compression.Registry
	logger           log.Logger
}

// WriterOption configures a Writer
type WriterOption func(*writerOptions)

// WithIndexInterval sets how many entries are written between index samples
func WithIndexInterval(n int) WriterOption {
	return func(o *writerOptions) {
		if n > 0 {
			o.indexInterval = n
		}
	}
}

// WithRejectDuplicates makes Append fail on a key equal to the previous one
func WithRejectDuplicates() WriterOption {
	return func(o *writerOptions) {
		o.rejectDuplicates = true
	}
}

// WithCompression selects the block codec by its registry identifier
func WithCompression(name string) WriterOption {
	return func(o *writerOptions) {
		o.compression = name
	}
}

// WithRegistry sets the codec registry used to resolve the compression name
func WithRegistry(r *compression.Registry) WriterOption {
	return func(o *writerOptions) {
		o.registry = r
	}
}

// WithLogger sets the writer's logger
func WithLogger(l log.Logger) WriterOption {
	return func(o *writerOptions) {
		o.logger = l
	}
}

func newWriterOptions(opts []WriterOption) writerOptions {
	o := writerOptions{
		indexInterval: DefaultIndexInterval,
		compression:   compression.None,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = compression.NewDefaultRegistry()
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	return o
}

type readerOptions struct {
	registry *compression.Registry
	logger   log.Logger
}

// ReaderOption configures a Reader
type ReaderOption func(*readerOptions)

// WithReaderRegistry sets the codec registry used to resolve the file's codec
func WithReaderRegistry(r *compression.Registry) ReaderOption {
	return func(o *readerOptions) {
		o.registry = r
	}
}

// WithReaderLogger sets the reader's logger
func WithReaderLogger(l log.Logger) ReaderOption {
	return func(o *readerOptions) {
		o.logger = l
	}
}

func newReaderOptions(opts []ReaderOption) readerOptions {
	var o readerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = compression.NewDefaultRegistry()
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	return o
}
