package sortedfile

import (
	"encoding/binary"
	"fmt"
)

// header identifies the element types and codec of a file
type header struct {
	keyType   string
	valueType string
	codec     string
}

func (h header) encode() []byte {
	buf := make([]byte, 0, 6+len(h.keyType)+len(h.valueType)+len(h.codec)+3*binary.MaxVarintLen16)
	buf = append(buf, HeaderMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, FormatVersion)
	for _, s := range []string{h.keyType, h.valueType, h.codec} {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeHeader(data []byte) (header, error) {
	var h header

	if len(data) < 6 || [4]byte(data[:4]) != HeaderMagic {
		return h, fmt.Errorf("%w: not a sorted map file (bad header magic)", ErrCorruption)
	}
	if version := binary.LittleEndian.Uint16(data[4:6]); version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported format version %d", ErrCorruption, version)
	}

	rest := data[6:]
	fields := make([]string, 3)
	for i := range fields {
		length, n := binary.Uvarint(rest)
		if n <= 0 || length > uint64(len(rest)-n) {
			return h, fmt.Errorf("%w: malformed header field %d", ErrCorruption, i)
		}
		fields[i] = string(rest[n : n+int(length)])
		rest = rest[n+int(length):]
	}
	if len(rest) != 0 {
		return h, fmt.Errorf("%w: %d trailing header bytes", ErrCorruption, len(rest))
	}

	h.keyType, h.valueType, h.codec = fields[0], fields[1], fields[2]
	return h, nil
}
