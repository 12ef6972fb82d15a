// Package block implements the framed, checksummed and optionally compressed
// data blocks that make up the data region of a sorted map file.
//
// A block on disk is laid out as
//
//	payloadLen u32 | entries u32 | payload | xxhash64(payload) u64
//
// and its payload, once decompressed, is a run of records
//
//	uvarint keyLen | key | uvarint valueLen | value
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/mapfile/pkg/compression"
)

const (
	// HeaderSize is the size of the block header (payload length + entry count)
	HeaderSize = 8
	// TrailerSize is the size of the block checksum
	TrailerSize = 8
	// MaxPayloadSize bounds a single block payload
	MaxPayloadSize = 1 << 30
)

// ErrCorruption indicates a block failed validation
var ErrCorruption = errors.New("block corruption detected")

// Builder accumulates records for a single data block
type Builder struct {
	buf      []byte
	scratch  []byte
	entries  uint32
	firstKey []byte
}

// NewBuilder creates a new block builder
func NewBuilder() *Builder {
	return &Builder{
		buf: make([]byte, 0, 4096),
	}
}

// Add appends a record to the block. Ordering is enforced by the caller.
func (b *Builder) Add(key, value []byte) {
	if b.entries == 0 {
		b.firstKey = append(b.firstKey[:0], key...)
	}
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, value...)
	b.entries++
}

// Entries returns the number of records in the block
func (b *Builder) Entries() int {
	return int(b.entries)
}

// FirstKey returns the encoded key of the first record in the block
func (b *Builder) FirstKey() []byte {
	return b.firstKey
}

// EstimatedSize returns the uncompressed size of the framed block
func (b *Builder) EstimatedSize() int {
	return HeaderSize + len(b.buf) + TrailerSize
}

// Reset clears the builder state
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.entries = 0
	b.firstKey = b.firstKey[:0]
}

// Finish compresses the block with codec and writes the framed block to w.
// It returns the number of bytes written.
func (b *Builder) Finish(w io.Writer, codec compression.Codec) (int, error) {
	if b.entries == 0 {
		return 0, fmt.Errorf("cannot finish empty block")
	}

	payload, err := codec.Compress(b.scratch, b.buf)
	if err != nil {
		return 0, fmt.Errorf("failed to compress block: %w", err)
	}
	b.scratch = payload

	if len(payload) > MaxPayloadSize {
		return 0, fmt.Errorf("block payload too large: %d bytes", len(payload))
	}

	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], b.entries)

	var trailer [TrailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], xxhash.Sum64(payload))

	total := 0
	for _, part := range [][]byte{header[:], payload, trailer[:]} {
		n, err := w.Write(part)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to write block: %w", err)
		}
	}

	return total, nil
}

// Block is a decoded data block
type Block struct {
	data    []byte
	entries uint32
}

// Read loads, verifies and decompresses the block that starts at offset.
// limit is the end of the data region; a block may not extend past it.
// It returns the block and the offset of the block that follows it.
func Read(r io.ReaderAt, offset, limit int64, codec compression.Codec) (*Block, int64, error) {
	if offset+HeaderSize+TrailerSize > limit {
		return nil, 0, fmt.Errorf("%w: block header at %d overruns data region ending at %d",
			ErrCorruption, offset, limit)
	}

	var header [HeaderSize]byte
	if _, err := r.ReadAt(header[:], offset); err != nil {
		return nil, 0, fmt.Errorf("failed to read block header at offset %d: %w", offset, err)
	}

	payloadLen := int64(binary.LittleEndian.Uint32(header[0:4]))
	entries := binary.LittleEndian.Uint32(header[4:8])

	next := offset + HeaderSize + payloadLen + TrailerSize
	if payloadLen > MaxPayloadSize || next > limit {
		return nil, 0, fmt.Errorf("%w: block at %d claims %d payload bytes",
			ErrCorruption, offset, payloadLen)
	}
	if entries == 0 {
		return nil, 0, fmt.Errorf("%w: empty block at %d", ErrCorruption, offset)
	}

	raw := make([]byte, payloadLen+TrailerSize)
	if _, err := r.ReadAt(raw, offset+HeaderSize); err != nil {
		return nil, 0, fmt.Errorf("failed to read block at offset %d: %w", offset, err)
	}

	payload := raw[:payloadLen]
	checksum := binary.LittleEndian.Uint64(raw[payloadLen:])
	if computed := xxhash.Sum64(payload); computed != checksum {
		return nil, 0, fmt.Errorf("%w: block checksum mismatch at %d: expected %d, got %d",
			ErrCorruption, offset, checksum, computed)
	}

	data, err := codec.Decompress(nil, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: block at %d: %v", ErrCorruption, offset, err)
	}

	return &Block{data: data, entries: entries}, next, nil
}

// Entries returns the number of records the block header declares
func (b *Block) Entries() int {
	return int(b.entries)
}

// Iterator returns an iterator over the records of the block
func (b *Block) Iterator() *Iterator {
	return &Iterator{block: b}
}

// Iterator walks the records of a decoded block in order
type Iterator struct {
	block *Block
	pos   int
	seen  uint32
	key   []byte
	value []byte
	err   error
}

// Next advances to the next record. It returns false at the end of the
// block or on error; check Err to tell them apart.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	data := it.block.data
	if it.pos >= len(data) {
		if it.seen != it.block.entries {
			it.err = fmt.Errorf("%w: block holds %d records, header declares %d",
				ErrCorruption, it.seen, it.block.entries)
		}
		it.key, it.value = nil, nil
		return false
	}

	key, n := readField(data[it.pos:])
	if n <= 0 {
		it.err = fmt.Errorf("%w: malformed key at block position %d", ErrCorruption, it.pos)
		return false
	}
	it.pos += n

	value, n := readField(data[it.pos:])
	if n <= 0 {
		it.err = fmt.Errorf("%w: malformed value at block position %d", ErrCorruption, it.pos)
		return false
	}
	it.pos += n

	it.key, it.value = key, value
	it.seen++
	return true
}

// Key returns the current encoded key
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current encoded value
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the first decoding error encountered
func (it *Iterator) Err() error {
	return it.err
}

// readField decodes a uvarint length-prefixed field, returning the field and
// the number of bytes consumed (<= 0 when malformed).
func readField(data []byte) ([]byte, int) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, n
	}
	if length > uint64(len(data)-n) {
		return nil, -1
	}
	end := n + int(length)
	return data[n:end], end
}
