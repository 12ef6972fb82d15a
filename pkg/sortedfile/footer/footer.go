package footer

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 64
	// FooterMagic is a magic number to verify we're reading a valid footer
	FooterMagic = uint64(0x4D41504649484546) // "MAPFIHEF"
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(1)

	checksumOffset = FooterSize - 8
)

// Footer is the fixed-size trailer of a sorted map file. It locates the
// index region so it can be loaded without scanning the data region.
type Footer struct {
	// Magic number for integrity checking
	Magic uint64
	// Version of the file format
	Version uint32
	// Timestamp of when the file was finalized
	Timestamp int64
	// Offset where the first data block starts (end of the header)
	DataOffset uint64
	// Offset where the index region starts (end of the data region)
	IndexOffset uint64
	// Size of the index region in bytes
	IndexSize uint32
	// Total number of key/value pairs
	NumEntries uint64
	// xxhash64 of the index region
	IndexChecksum uint64
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

// NewFooter creates a new footer with the given parameters
func NewFooter(dataOffset, indexOffset uint64, indexSize uint32, numEntries, indexChecksum uint64) *Footer {
	return &Footer{
		Magic:         FooterMagic,
		Version:       CurrentVersion,
		Timestamp:     time.Now().UnixNano(),
		DataOffset:    dataOffset,
		IndexOffset:   indexOffset,
		IndexSize:     indexSize,
		NumEntries:    numEntries,
		IndexChecksum: indexChecksum,
	}
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint64(result[12:20], uint64(f.Timestamp))
	binary.LittleEndian.PutUint64(result[20:28], f.DataOffset)
	binary.LittleEndian.PutUint64(result[28:36], f.IndexOffset)
	binary.LittleEndian.PutUint32(result[36:40], f.IndexSize)
	binary.LittleEndian.PutUint64(result[40:48], f.NumEntries)
	binary.LittleEndian.PutUint64(result[48:56], f.IndexChecksum)

	f.Checksum = xxhash.Sum64(result[:checksumOffset])
	binary.LittleEndian.PutUint64(result[checksumOffset:], f.Checksum)

	return result
}

// WriteTo writes the footer to an io.Writer
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	data := f.Encode()
	n, err := w.Write(data)
	return int64(n), err
}

// Decode parses a footer from a byte slice
func Decode(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("footer data too small: %d bytes, expected %d",
			len(data), FooterSize)
	}

	footer := &Footer{
		Magic:         binary.LittleEndian.Uint64(data[0:8]),
		Version:       binary.LittleEndian.Uint32(data[8:12]),
		Timestamp:     int64(binary.LittleEndian.Uint64(data[12:20])),
		DataOffset:    binary.LittleEndian.Uint64(data[20:28]),
		IndexOffset:   binary.LittleEndian.Uint64(data[28:36]),
		IndexSize:     binary.LittleEndian.Uint32(data[36:40]),
		NumEntries:    binary.LittleEndian.Uint64(data[40:48]),
		IndexChecksum: binary.LittleEndian.Uint64(data[48:56]),
		Checksum:      binary.LittleEndian.Uint64(data[checksumOffset:FooterSize]),
	}

	if footer.Magic != FooterMagic {
		return nil, fmt.Errorf("invalid footer magic: %x, expected %x",
			footer.Magic, FooterMagic)
	}

	if footer.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported footer version %d", footer.Version)
	}

	expectedChecksum := xxhash.Sum64(data[:checksumOffset])
	if footer.Checksum != expectedChecksum {
		return nil, fmt.Errorf("footer checksum mismatch: file has %d, calculated %d",
			footer.Checksum, expectedChecksum)
	}

	if footer.IndexOffset < footer.DataOffset {
		return nil, fmt.Errorf("index offset %d precedes data offset %d",
			footer.IndexOffset, footer.DataOffset)
	}

	return footer, nil
}
