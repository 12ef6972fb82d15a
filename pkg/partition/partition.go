// Package partition maps keys to partition indexes. The same partitioner,
// with the same partition count, must be used when data is distributed to
// writers and when lookups are routed to readers; nothing detects a
// mismatch, and a mismatched partitioner silently misses stored keys.
package partition

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/murmur3"

	"github.com/KevoDB/mapfile/pkg/sortedfile"
)

// NameFormat is the file name pattern of partition i. The zero padding makes
// lexicographic name order equal partition index order.
const NameFormat = "part-%05d"

// Partitioner computes the partition index for a key/value pair. The result
// must lie in [0, numPartitions); a negative result marks a key that cannot
// be assigned.
type Partitioner[K, V any] interface {
	Partition(key K, value V, numPartitions int) int
}

// Func adapts an ordinary function to the Partitioner interface
type Func[K, V any] func(key K, value V, numPartitions int) int

// Partition calls f(key, value, numPartitions)
func (f Func[K, V]) Partition(key K, value V, numPartitions int) int {
	return f(key, value, numPartitions)
}

// Name returns the file name of partition i
func Name(i int) string {
	return fmt.Sprintf(NameFormat, i)
}

// Integer is the set of integer key types accepted by Mod
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Mod returns a partitioner that assigns integer key k to k mod n, folded
// into [0, n) for negative keys.
func Mod[K Integer, V any]() Partitioner[K, V] {
	return Func[K, V](func(key K, _ V, numPartitions int) int {
		if numPartitions <= 0 {
			return -1
		}
		// numPartitions may not fit in K, so reduce in 64 bits
		var zero K
		if ^zero > 0 {
			return int(uint64(key) % uint64(numPartitions))
		}
		r := int64(key) % int64(numPartitions)
		if r < 0 {
			r += int64(numPartitions)
		}
		return int(r)
	})
}

// HashPartitioner assigns a key by hashing its serialized form
type HashPartitioner[K, V any] struct {
	keys sortedfile.Serializer[K]
	hash func([]byte) uint64
}

// NewHashPartitioner returns a partitioner using xxhash64 of the serialized key
func NewHashPartitioner[K, V any](keys sortedfile.Serializer[K]) *HashPartitioner[K, V] {
	return &HashPartitioner[K, V]{keys: keys, hash: xxhash.Sum64}
}

// NewMurmur3Partitioner returns a partitioner using murmur3 (64-bit) of the
// serialized key
func NewMurmur3Partitioner[K, V any](keys sortedfile.Serializer[K]) *HashPartitioner[K, V] {
	return &HashPartitioner[K, V]{keys: keys, hash: murmur3.Sum64}
}

// Partition implements Partitioner. A key that fails to serialize maps to -1.
func (p *HashPartitioner[K, V]) Partition(key K, _ V, numPartitions int) int {
	if numPartitions <= 0 {
		return -1
	}
	data, err := p.keys.Marshal(key)
	if err != nil {
		return -1
	}
	return int(p.hash(data) % uint64(numPartitions))
}

// Assign distributes entries over numPartitions buckets with p and sorts
// every bucket by key, ready to be appended to one writer per partition.
// The sort is stable, so entries with equal keys keep their input order.
func Assign[K, V any](p Partitioner[K, V], numPartitions int, entries []sortedfile.Entry[K, V],
	compare func(a, b K) int) ([][]sortedfile.Entry[K, V], error) {

	if numPartitions <= 0 {
		return nil, fmt.Errorf("invalid partition count %d", numPartitions)
	}

	buckets := make([][]sortedfile.Entry[K, V], numPartitions)
	for _, e := range entries {
		i := p.Partition(e.Key, e.Value, numPartitions)
		if i < 0 || i >= numPartitions {
			return nil, fmt.Errorf("partitioner returned %d for key %v, want [0, %d)", i, e.Key, numPartitions)
		}
		buckets[i] = append(buckets[i], e)
	}

	for _, bucket := range buckets {
		slices.SortStableFunc(bucket, func(a, b sortedfile.Entry[K, V]) int {
			return compare(a.Key, b.Key)
		})
	}
	return buckets, nil
}
