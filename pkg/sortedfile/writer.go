package sortedfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile/block"
	"github.com/KevoDB/mapfile/pkg/sortedfile/footer"
)

// FileManager handles file operations for writing a sorted map file.
// Data goes to a hidden temporary file that is renamed into place once the
// file is complete, so a partially written file never carries the final name.
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	offset  int64
}

// NewFileManager creates a new FileManager for the given file path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)
		}
		return nil, fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryMissing, dir)
	}

	tmpPath := TempPath(path)
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		buf:     bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// TempPath returns the temporary path used while path is being written
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp", filepath.Base(path)))
}

// Write writes data to the file at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	n, err := fm.buf.Write(data)
	fm.offset += int64(n)
	return n, err
}

// Offset returns the number of bytes written so far
func (fm *FileManager) Offset() int64 {
	return fm.offset
}

// Sync flushes buffered data and the file to disk
func (fm *FileManager) Sync() error {
	if err := fm.buf.Flush(); err != nil {
		return err
	}
	return fm.file.Sync()
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile closes the file and renames it to the final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	if fm.file != nil {
		fm.Close()
	}
	err := os.Remove(fm.tmpPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

type indexSample struct {
	key    []byte
	offset int64
}

// Writer appends entries in non-decreasing key order to one sorted map file.
// A Writer is owned by a single goroutine.
type Writer[K, V any] struct {
	fileManager *FileManager
	keys        Serializer[K]
	values      Serializer[V]
	compare     func(a, b K) int
	opts        writerOptions
	codec       compression.Codec
	builder     *block.Builder
	index       []indexSample
	dataOffset  int64
	lastKey     K
	hasLast     bool
	numEntries  uint64
	closed      bool
	err         error
	logger      log.Logger
}

// Create opens a new sorted map file at path. The parent directory must
// already exist.
func Create[K, V any](path string, keys Serializer[K], values Serializer[V],
	compare func(a, b K) int, opts ...WriterOption) (*Writer[K, V], error) {

	o := newWriterOptions(opts)

	codec, err := o.registry.Lookup(o.compression)
	if err != nil {
		return nil, err
	}

	fileManager, err := NewFileManager(path)
	if err != nil {
		return nil, err
	}

	hdr := header{
		keyType:   keys.Name(),
		valueType: values.Name(),
		codec:     codec.Name(),
	}
	if _, err := fileManager.Write(hdr.encode()); err != nil {
		fileManager.Cleanup()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &Writer[K, V]{
		fileManager: fileManager,
		keys:        keys,
		values:      values,
		compare:     compare,
		opts:        o,
		codec:       codec,
		builder:     block.NewBuilder(),
		dataOffset:  fileManager.Offset(),
		logger:      o.logger.WithField("file", filepath.Base(path)),
	}, nil
}

// Path returns the final path of the file being written
func (w *Writer[K, V]) Path() string {
	return w.fileManager.path
}

// Entries returns the number of entries appended so far
func (w *Writer[K, V]) Entries() uint64 {
	return w.numEntries
}

// Size returns the number of bytes written to the file so far
func (w *Writer[K, V]) Size() int64 {
	return w.fileManager.Offset()
}

// Append adds a key/value pair. Keys must be non-decreasing; a key below
// the previous one fails with ErrOutOfOrderKey and is not written.
func (w *Writer[K, V]) Append(key K, value V) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}

	newKey := true
	if w.hasLast {
		c := w.compare(key, w.lastKey)
		if c < 0 {
			return fmt.Errorf("%w: %v after %v", ErrOutOfOrderKey, key, w.lastKey)
		}
		if c == 0 {
			if w.opts.rejectDuplicates {
				return fmt.Errorf("%w: duplicate key %v", ErrOutOfOrderKey, key)
			}
			newKey = false
		}
	}

	kb, err := w.keys.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to serialize key: %w", err)
	}
	vb, err := w.values.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	lastKey, err := w.keys.Unmarshal(kb)
	if err != nil {
		return fmt.Errorf("failed to serialize key: %w", err)
	}

	// Runs of equal keys stay in one block so index keys remain strictly increasing
	if newKey && w.builder.Entries() >= w.opts.indexInterval {
		if err := w.flushBlock(); err != nil {
			w.err = err
			return err
		}
	}

	w.builder.Add(kb, vb)
	w.lastKey = lastKey
	w.hasLast = true
	w.numEntries++

	return nil
}

// flushBlock writes the current block to the file and adds an index entry
func (w *Writer[K, V]) flushBlock() error {
	if w.builder.Entries() == 0 {
		return nil
	}

	blockOffset := w.fileManager.Offset()
	firstKey := append([]byte(nil), w.builder.FirstKey()...)

	if _, err := w.builder.Finish(w.fileManager, w.codec); err != nil {
		return fmt.Errorf("failed to write block at offset %d: %w", blockOffset, err)
	}

	w.index = append(w.index, indexSample{key: firstKey, offset: blockOffset})
	w.builder.Reset()

	return nil
}

func (w *Writer[K, V]) encodeIndex() []byte {
	size := binary.MaxVarintLen64
	for _, s := range w.index {
		size += len(s.key) + 2*binary.MaxVarintLen64
	}

	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(w.index)))
	for _, s := range w.index {
		buf = binary.AppendUvarint(buf, uint64(len(s.key)))
		buf = append(buf, s.key...)
		buf = binary.AppendUvarint(buf, uint64(s.offset))
	}
	return buf
}

// Close flushes pending data, writes the index and footer, and moves the
// file to its final name. Calling Close again returns nil. If the writer
// failed earlier, Close returns that error and leaves the partial
// temporary file in place.
func (w *Writer[K, V]) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.err != nil {
		w.fileManager.Close()
		return w.err
	}

	if err := w.finish(); err != nil {
		w.err = err
		w.fileManager.Close()
		return err
	}

	w.logger.Debug("finalized sorted file: %d entries, %d index samples, codec %s",
		w.numEntries, len(w.index), w.codec.Name())
	return nil
}

func (w *Writer[K, V]) finish() error {
	if err := w.flushBlock(); err != nil {
		return err
	}

	indexOffset := w.fileManager.Offset()
	indexData := w.encodeIndex()
	if _, err := w.fileManager.Write(indexData); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	ft := footer.NewFooter(
		uint64(w.dataOffset),
		uint64(indexOffset),
		uint32(len(indexData)),
		w.numEntries,
		xxhash.Sum64(indexData),
	)
	if _, err := ft.WriteTo(w.fileManager); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.fileManager.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return w.fileManager.FinalizeFile()
}

// Abort discards the file being written
func (w *Writer[K, V]) Abort() error {
	w.closed = true
	return w.fileManager.Cleanup()
}
