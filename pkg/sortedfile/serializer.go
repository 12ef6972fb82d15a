package sortedfile

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Serializer converts keys or values to and from their stored form.
// Name is written into the file header and checked when the file is opened.
type Serializer[T any] interface {
	Name() string
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

type bytesSerializer struct{}

// Bytes returns a serializer that stores byte slices as-is
func Bytes() Serializer[[]byte] { return bytesSerializer{} }

func (bytesSerializer) Name() string { return "bytes" }

func (bytesSerializer) Marshal(v []byte) ([]byte, error) { return v, nil }

func (bytesSerializer) Unmarshal(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

type stringSerializer struct{}

// String returns a serializer for UTF-8 strings
func String() Serializer[string] { return stringSerializer{} }

func (stringSerializer) Name() string { return "string" }

func (stringSerializer) Marshal(v string) ([]byte, error) { return []byte(v), nil }

func (stringSerializer) Unmarshal(data []byte) (string, error) { return string(data), nil }

type int64Serializer struct{}

// Int64 returns a serializer for int64 values using a fixed 8-byte encoding
func Int64() Serializer[int64] { return int64Serializer{} }

func (int64Serializer) Name() string { return "int64" }

func (int64Serializer) Marshal(v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(v)), nil
}

func (int64Serializer) Unmarshal(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("int64 field has %d bytes, expected 8", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

type uint64Serializer struct{}

// Uint64 returns a serializer for uint64 values using a fixed 8-byte encoding
func Uint64() Serializer[uint64] { return uint64Serializer{} }

func (uint64Serializer) Name() string { return "uint64" }

func (uint64Serializer) Marshal(v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, v), nil
}

func (uint64Serializer) Unmarshal(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("uint64 field has %d bytes, expected 8", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

type protoSerializer[T proto.Message] struct {
	newFn func() T
	name  string
}

// Proto returns a serializer for protocol buffer messages. newFn must return
// a fresh, empty message on every call.
func Proto[T proto.Message](newFn func() T) Serializer[T] {
	return &protoSerializer[T]{
		newFn: newFn,
		name:  "proto:" + string(newFn().ProtoReflect().Descriptor().FullName()),
	}
}

func (p *protoSerializer[T]) Name() string { return p.name }

func (p *protoSerializer[T]) Marshal(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (p *protoSerializer[T]) Unmarshal(data []byte) (T, error) {
	m := p.newFn()
	if err := proto.Unmarshal(data, m); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}
