package sortedfile

import (
	"fmt"

	"github.com/KevoDB/mapfile/pkg/sortedfile/block"
)

// Iterator walks the entries of a Reader in file order, one block at a time
type Iterator[K, V any] struct {
	reader    *Reader[K, V]
	offset    int64
	blockIter *block.Iterator
	key       K
	value     V
	valid     bool
	err       error
}

// Next advances to the next entry. It returns false at the end of the file
// or on error; check Err to tell them apart.
func (it *Iterator[K, V]) Next() bool {
	it.valid = false
	for it.err == nil {
		if it.blockIter != nil {
			if it.blockIter.Next() {
				return it.decode()
			}
			if err := it.blockIter.Err(); err != nil {
				it.err = err
				return false
			}
			it.blockIter = nil
		}

		if it.offset >= int64(it.reader.ft.IndexOffset) {
			return false
		}

		blk, next, err := it.reader.blockFetcher.FetchBlock(it.offset)
		if err != nil {
			it.err = err
			return false
		}
		it.blockIter = blk.Iterator()
		it.offset = next
	}
	return false
}

func (it *Iterator[K, V]) decode() bool {
	key, err := it.reader.keys.Unmarshal(it.blockIter.Key())
	if err != nil {
		it.err = fmt.Errorf("%w: failed to decode key: %v", ErrCorruption, err)
		return false
	}
	value, err := it.reader.values.Unmarshal(it.blockIter.Value())
	if err != nil {
		it.err = fmt.Errorf("%w: failed to decode value: %v", ErrCorruption, err)
		return false
	}
	it.key, it.value, it.valid = key, value, true
	return true
}

// Seek positions the iterator at the first entry whose key is >= key and
// reports whether such an entry exists. The found entry is available via
// Key and Value; the following Next moves past it.
func (it *Iterator[K, V]) Seek(key K) bool {
	it.offset = it.reader.startOffset(key)
	it.blockIter = nil
	it.err = nil

	for it.Next() {
		if it.reader.compare(it.key, key) >= 0 {
			return true
		}
	}
	return false
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator[K, V]) Valid() bool {
	return it.valid
}

// Key returns the current key
func (it *Iterator[K, V]) Key() K {
	return it.key
}

// Value returns the current value
func (it *Iterator[K, V]) Value() V {
	return it.value
}

// Err returns the first error encountered
func (it *Iterator[K, V]) Err() error {
	return it.err
}
