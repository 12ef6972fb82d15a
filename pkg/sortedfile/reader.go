package sortedfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile/block"
	"github.com/KevoDB/mapfile/pkg/sortedfile/footer"
)

var errFileClosed = errors.New("file is closed")

// IOManager handles file I/O operations for a sorted map file
type IOManager struct {
	path     string
	file     *os.File
	fileSize int64
	mu       sync.RWMutex
}

// NewIOManager creates a new IOManager for the given file path
func NewIOManager(path string) (*IOManager, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		file.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrCorruption, path)
	}

	return &IOManager{
		path:     path,
		file:     file,
		fileSize: stat.Size(),
	}, nil
}

// ReadAt reads data from the file at the given offset
func (io *IOManager) ReadAt(data []byte, offset int64) (int, error) {
	io.mu.RLock()
	defer io.mu.RUnlock()

	if io.file == nil {
		return 0, errFileClosed
	}

	return io.file.ReadAt(data, offset)
}

// GetFileSize returns the size of the file
func (io *IOManager) GetFileSize() int64 {
	return io.fileSize
}

// Close closes the file
func (io *IOManager) Close() error {
	io.mu.Lock()
	defer io.mu.Unlock()

	if io.file == nil {
		return nil
	}

	err := io.file.Close()
	io.file = nil
	return err
}

// BlockFetcher reads and decodes data blocks. Decompression is serialized
// because codec instances are not required to be safe for concurrent use.
type BlockFetcher struct {
	io      *IOManager
	codec   compression.Codec
	limit   int64
	codecMu sync.Mutex
}

// NewBlockFetcher creates a new BlockFetcher for the data region ending at limit
func NewBlockFetcher(io *IOManager, codec compression.Codec, limit int64) *BlockFetcher {
	return &BlockFetcher{io: io, codec: codec, limit: limit}
}

// FetchBlock reads the block at offset and returns it with the offset of the next block
func (bf *BlockFetcher) FetchBlock(offset int64) (*block.Block, int64, error) {
	blk, next, err := block.Read(bf.io, offset, bf.limit, bf)
	if errors.Is(err, errFileClosed) {
		return nil, 0, ErrReaderClosed
	}
	return blk, next, err
}

// Name implements compression.Codec
func (bf *BlockFetcher) Name() string {
	return bf.codec.Name()
}

// Compress implements compression.Codec
func (bf *BlockFetcher) Compress(dst, src []byte) ([]byte, error) {
	bf.codecMu.Lock()
	defer bf.codecMu.Unlock()
	return bf.codec.Compress(dst, src)
}

// Decompress implements compression.Codec
func (bf *BlockFetcher) Decompress(dst, src []byte) ([]byte, error) {
	bf.codecMu.Lock()
	defer bf.codecMu.Unlock()
	return bf.codec.Decompress(dst, src)
}

// Reader serves point lookups and ordered scans over one finalized file.
// Get, NewIterator and All may be used concurrently; Next and Reset share a
// single cursor.
type Reader[K, V any] struct {
	ioManager    *IOManager
	blockFetcher *BlockFetcher
	keys         Serializer[K]
	values       Serializer[V]
	compare      func(a, b K) int
	hdr          header
	ft           *footer.Footer
	index        []IndexEntry[K]
	cursor       *Iterator[K, V]
	closed       bool
	mu           sync.RWMutex
}

// Open opens a finalized sorted map file and loads its index into memory
func Open[K, V any](path string, keys Serializer[K], values Serializer[V],
	compare func(a, b K) int, opts ...ReaderOption) (*Reader[K, V], error) {

	o := newReaderOptions(opts)

	ioManager, err := NewIOManager(path)
	if err != nil {
		return nil, err
	}

	r := &Reader[K, V]{
		ioManager: ioManager,
		keys:      keys,
		values:    values,
		compare:   compare,
	}
	if err := r.load(o); err != nil {
		ioManager.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	o.logger.Debug("opened sorted file %s: %d entries, %d index samples, codec %s",
		filepath.Base(path), r.ft.NumEntries, len(r.index), r.hdr.codec)
	return r, nil
}

func (r *Reader[K, V]) load(o readerOptions) error {
	fileSize := r.ioManager.GetFileSize()
	if fileSize < int64(footer.FooterSize) {
		return fmt.Errorf("%w: file too small to be a sorted map file: %d bytes", ErrCorruption, fileSize)
	}

	footerData := make([]byte, footer.FooterSize)
	if _, err := r.ioManager.ReadAt(footerData, fileSize-int64(footer.FooterSize)); err != nil {
		return fmt.Errorf("failed to read footer: %w", err)
	}

	ft, err := footer.Decode(footerData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if int64(ft.IndexOffset)+int64(ft.IndexSize)+int64(footer.FooterSize) != fileSize {
		return fmt.Errorf("%w: index region [%d,+%d) does not end at footer", ErrCorruption,
			ft.IndexOffset, ft.IndexSize)
	}
	r.ft = ft

	headerData := make([]byte, ft.DataOffset)
	if _, err := r.ioManager.ReadAt(headerData, 0); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	r.hdr, err = decodeHeader(headerData)
	if err != nil {
		return err
	}
	if r.hdr.keyType != r.keys.Name() || r.hdr.valueType != r.values.Name() {
		return fmt.Errorf("%w: file holds (%s, %s), reader expects (%s, %s)", ErrTypeMismatch,
			r.hdr.keyType, r.hdr.valueType, r.keys.Name(), r.values.Name())
	}

	codec, err := o.registry.Lookup(r.hdr.codec)
	if err != nil {
		return err
	}
	r.blockFetcher = NewBlockFetcher(r.ioManager, codec, int64(ft.IndexOffset))

	indexData := make([]byte, ft.IndexSize)
	if _, err := r.ioManager.ReadAt(indexData, int64(ft.IndexOffset)); err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	if xxhash.Sum64(indexData) != ft.IndexChecksum {
		return fmt.Errorf("%w: index checksum mismatch", ErrCorruption)
	}

	r.index, err = r.decodeIndex(indexData)
	return err
}

func (r *Reader[K, V]) decodeIndex(data []byte) ([]IndexEntry[K], error) {
	count, n := binary.Uvarint(data)
	if n <= 0 || count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: malformed index count", ErrCorruption)
	}
	data = data[n:]

	index := make([]IndexEntry[K], 0, count)
	for i := uint64(0); i < count; i++ {
		keyLen, n := binary.Uvarint(data)
		if n <= 0 || keyLen > uint64(len(data)-n) {
			return nil, fmt.Errorf("%w: malformed index key %d", ErrCorruption, i)
		}
		rawKey := data[n : n+int(keyLen)]
		data = data[n+int(keyLen):]

		offset, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("%w: malformed index offset %d", ErrCorruption, i)
		}
		data = data[n:]

		key, err := r.keys.Unmarshal(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: index key %d: %v", ErrCorruption, i, err)
		}

		entry := IndexEntry[K]{Key: key, Offset: int64(offset)}
		if entry.Offset < int64(r.ft.DataOffset) || entry.Offset >= int64(r.ft.IndexOffset) {
			return nil, fmt.Errorf("%w: index offset %d outside data region", ErrCorruption, entry.Offset)
		}
		if len(index) > 0 {
			prev := index[len(index)-1]
			if entry.Offset <= prev.Offset || r.compare(entry.Key, prev.Key) <= 0 {
				return nil, fmt.Errorf("%w: index entry %d out of order", ErrCorruption, i)
			}
		}
		index = append(index, entry)
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing index bytes", ErrCorruption, len(data))
	}
	return index, nil
}

// startOffset returns the offset of the block holding the greatest index
// key <= key, or the start of the data region when there is none.
func (r *Reader[K, V]) startOffset(key K) int64 {
	i := sort.Search(len(r.index), func(i int) bool {
		return r.compare(r.index[i].Key, key) > 0
	})
	if i == 0 {
		return int64(r.ft.DataOffset)
	}
	return r.index[i-1].Offset
}

func (r *Reader[K, V]) iteratorAt(offset int64) *Iterator[K, V] {
	return &Iterator[K, V]{reader: r, offset: offset}
}

// Get returns the value stored under key, or ErrNotFound. With duplicate
// keys the first stored value is returned.
func (r *Reader[K, V]) Get(key K) (V, error) {
	var zero V

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return zero, ErrReaderClosed
	}

	it := r.iteratorAt(r.startOffset(key))
	for it.Next() {
		c := r.compare(it.Key(), key)
		if c == 0 {
			return it.Value(), nil
		}
		if c > 0 {
			break
		}
	}
	if err := it.Err(); err != nil {
		return zero, err
	}

	return zero, ErrNotFound
}

// Next returns the next entry of the reader's own cursor in file order, or
// io.EOF once every entry has been returned.
func (r *Reader[K, V]) Next() (Entry[K, V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Entry[K, V]{}, ErrReaderClosed
	}

	if r.cursor == nil {
		r.cursor = r.iteratorAt(int64(r.ft.DataOffset))
	}
	if r.cursor.Next() {
		return Entry[K, V]{Key: r.cursor.Key(), Value: r.cursor.Value()}, nil
	}
	if err := r.cursor.Err(); err != nil {
		return Entry[K, V]{}, err
	}
	return Entry[K, V]{}, io.EOF
}

// Reset rewinds the cursor used by Next to the first entry
func (r *Reader[K, V]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = nil
}

// NewIterator returns an independent iterator positioned before the first entry
func (r *Reader[K, V]) NewIterator() *Iterator[K, V] {
	return r.iteratorAt(int64(r.ft.DataOffset))
}

// All returns a sequence over every entry in file order. A failure is
// yielded once as a non-nil error and ends the sequence.
func (r *Reader[K, V]) All() iter.Seq2[Entry[K, V], error] {
	return func(yield func(Entry[K, V], error) bool) {
		it := r.NewIterator()
		for it.Next() {
			if !yield(Entry[K, V]{Key: it.Key(), Value: it.Value()}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry[K, V]{}, err)
		}
	}
}

// Close releases the underlying file. Calling Close again returns nil.
func (r *Reader[K, V]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.cursor = nil
	return r.ioManager.Close()
}

// Path returns the path of the file
func (r *Reader[K, V]) Path() string {
	return r.ioManager.path
}

// NumEntries returns the number of entries recorded in the footer
func (r *Reader[K, V]) NumEntries() uint64 {
	return r.ft.NumEntries
}

// Index returns the loaded sparse index
func (r *Reader[K, V]) Index() []IndexEntry[K] {
	return r.index
}

// KeyType returns the key type name recorded in the header
func (r *Reader[K, V]) KeyType() string {
	return r.hdr.keyType
}

// ValueType returns the value type name recorded in the header
func (r *Reader[K, V]) ValueType() string {
	return r.hdr.valueType
}

// Codec returns the name of the block codec recorded in the header
func (r *Reader[K, V]) Codec() string {
	return r.hdr.codec
}

// IndexLen returns the number of sparse index samples
func (r *Reader[K, V]) IndexLen() int {
	return len(r.index)
}
