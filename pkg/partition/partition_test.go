package partition

import (
	"cmp"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/mapfile/pkg/sortedfile"
)

func TestName(t *testing.T) {
	assert.Equal(t, "part-00000", Name(0))
	assert.Equal(t, "part-00042", Name(42))
	assert.Equal(t, "part-123456", Name(123456))
}

func TestNameOrderMatchesIndexOrder(t *testing.T) {
	var names []string
	for i := 12; i >= 0; i-- {
		names = append(names, Name(i))
	}
	sort.Strings(names)

	for i, name := range names {
		assert.Equal(t, Name(i), name)
	}
}

func TestMod(t *testing.T) {
	p := Mod[int64, string]()

	tests := []struct {
		key  int64
		n    int
		want int
	}{
		{0, 2, 0},
		{3, 2, 1},
		{4, 2, 0},
		{-1, 4, 3},
		{-8, 4, 0},
		{7, 1, 0},
		{5, 0, -1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d mod %d", tt.key, tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Partition(tt.key, "", tt.n))
		})
	}
}

func TestModUnsigned(t *testing.T) {
	p := Mod[uint8, struct{}]()
	assert.Equal(t, 255%7, p.Partition(255, struct{}{}, 7))
}

func TestModNarrowKeys(t *testing.T) {
	// Partition counts that do not fit in the key type
	u8 := Mod[uint8, string]()
	assert.Equal(t, 5, u8.Partition(5, "", 256))
	assert.Equal(t, 255, u8.Partition(255, "", 1000))
	assert.Equal(t, 0, u8.Partition(0, "", 256))

	i8 := Mod[int8, string]()
	assert.Equal(t, 195, i8.Partition(-5, "", 200))
	assert.Equal(t, 72, i8.Partition(-128, "", 200))
	assert.Equal(t, 127, i8.Partition(127, "", 200))

	u64 := Mod[uint64, string]()
	assert.Equal(t, int(^uint64(0)%7), u64.Partition(^uint64(0), "", 7))

	for _, n := range []int{1, 3, 200, 256, 70000} {
		for k := -128; k <= 127; k++ {
			got := i8.Partition(int8(k), "", n)
			require.GreaterOrEqual(t, got, 0)
			require.Less(t, got, n)
		}
	}
}

func TestHashPartitionersDeterministic(t *testing.T) {
	partitioners := map[string]Partitioner[string, []byte]{
		"xxhash":  NewHashPartitioner[string, []byte](sortedfile.String()),
		"murmur3": NewMurmur3Partitioner[string, []byte](sortedfile.String()),
	}

	for name, p := range partitioners {
		t.Run(name, func(t *testing.T) {
			seen := make(map[int]bool)
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("key-%d", i)
				first := p.Partition(key, nil, 4)
				require.GreaterOrEqual(t, first, 0)
				require.Less(t, first, 4)
				seen[first] = true

				// The value never influences the result
				for j := 0; j < 3; j++ {
					assert.Equal(t, first, p.Partition(key, []byte{byte(j)}, 4))
				}
			}
			assert.Len(t, seen, 4)
			assert.Equal(t, -1, p.Partition("key", nil, 0))
		})
	}
}

func TestFunc(t *testing.T) {
	var p Partitioner[string, int] = Func[string, int](func(key string, value, n int) int {
		return (len(key) + value) % n
	})
	assert.Equal(t, 2, p.Partition("abc", 2, 3))
}

func TestAssign(t *testing.T) {
	var entries []sortedfile.Entry[int64, string]
	for _, k := range []int64{6, 3, 1, 4, 5, 2, 3} {
		entries = append(entries, sortedfile.Entry[int64, string]{Key: k, Value: fmt.Sprint(len(entries))})
	}

	buckets, err := Assign(Mod[int64, string](), 2, entries, cmp.Compare[int64])
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	keysOf := func(b []sortedfile.Entry[int64, string]) []int64 {
		var keys []int64
		for _, e := range b {
			keys = append(keys, e.Key)
		}
		return keys
	}
	assert.Equal(t, []int64{2, 4, 6}, keysOf(buckets[0]))
	assert.Equal(t, []int64{1, 3, 3, 5}, keysOf(buckets[1]))

	// Equal keys keep their input order
	assert.Equal(t, "1", buckets[1][1].Value)
	assert.Equal(t, "6", buckets[1][2].Value)
}

func TestAssignErrors(t *testing.T) {
	entries := []sortedfile.Entry[int64, string]{{Key: 1}}

	_, err := Assign(Mod[int64, string](), 0, entries, cmp.Compare[int64])
	assert.Error(t, err)

	bad := Func[int64, string](func(int64, string, int) int { return 9 })
	_, err = Assign[int64, string](bad, 2, entries, cmp.Compare[int64])
	assert.Error(t, err)
}
