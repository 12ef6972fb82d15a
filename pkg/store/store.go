// Package store manages a directory of partition files produced by parallel
// workers. Each worker writes one sorted partition file; readers open the
// whole set in file-name order and route every point lookup, with the
// partitioner used at write time, to the single partition that can hold
// the key.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/stats"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

var (
	// ErrOutputDirectoryMissing indicates the output directory does not exist
	ErrOutputDirectoryMissing = errors.New("output directory does not exist")
	// ErrNotPartitionFile indicates a directory entry that is not a readable partition file
	ErrNotPartitionFile = errors.New("not a partition file")
	// ErrNoPartitions indicates a lookup against an empty partition set
	ErrNoPartitions = errors.New("no partitions to look up")
	// ErrPartitionOutOfRange indicates the partitioner returned an index outside [0, n)
	ErrPartitionOutOfRange = errors.New("partition index out of range")
	// ErrPartitionCountMismatch indicates the directory holds a different number
	// of partitions than expected
	ErrPartitionCountMismatch = errors.New("partition count mismatch")
	// ErrNotFound indicates the key is not in its partition
	ErrNotFound = sortedfile.ErrNotFound
)

// Store creates partition writers and opens partition sets for one key and
// value type pair.
type Store[K, V any] struct {
	keys    sortedfile.Serializer[K]
	values  sortedfile.Serializer[V]
	compare func(a, b K) int

	logger             log.Logger
	telemetry          telemetry.Telemetry
	stats              stats.Collector
	registry           *compression.Registry
	writerOpts         []sortedfile.WriterOption
	expectedPartitions int
}

// Option configures a Store
type Option func(*options)

type options struct {
	logger             log.Logger
	telemetry          telemetry.Telemetry
	stats              stats.Collector
	registry           *compression.Registry
	writerOpts         []sortedfile.WriterOption
	expectedPartitions int
}

// WithLogger sets the store logger
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTelemetry sets the telemetry used to record lookups and opens
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithStats sets the statistics collector
func WithStats(c stats.Collector) Option {
	return func(o *options) { o.stats = c }
}

// WithRegistry sets the codec registry shared by writers and readers
func WithRegistry(r *compression.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithWriterOptions sets options applied to every partition writer
func WithWriterOptions(opts ...sortedfile.WriterOption) Option {
	return func(o *options) { o.writerOpts = append(o.writerOpts, opts...) }
}

// WithExpectedPartitions makes OpenAll fail with ErrPartitionCountMismatch
// unless the directory holds exactly n partitions.
func WithExpectedPartitions(n int) Option {
	return func(o *options) { o.expectedPartitions = n }
}

// New creates a Store for keys of type K and values of type V
func New[K, V any](keys sortedfile.Serializer[K], values sortedfile.Serializer[V],
	compare func(a, b K) int, opts ...Option) *Store[K, V] {

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.NewNoop()
	}
	if o.stats == nil {
		o.stats = stats.NewAtomicCollector()
	}
	if o.registry == nil {
		o.registry = compression.NewDefaultRegistry()
	}

	return &Store[K, V]{
		keys:               keys,
		values:             values,
		compare:            compare,
		logger:             o.logger.WithField("component", telemetry.ComponentStore),
		telemetry:          o.telemetry,
		stats:              o.stats,
		registry:           o.registry,
		writerOpts:         o.writerOpts,
		expectedPartitions: o.expectedPartitions,
	}
}

// Stats returns the store's statistics collector
func (s *Store[K, V]) Stats() stats.Collector {
	return s.stats
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrOutputDirectoryMissing, dir)
		}
		return fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutputDirectoryMissing, dir)
	}
	return nil
}

// NewWriter returns a writer for the partition file dir/partitionName. The
// directory must already exist. The writer belongs to a single task.
func (s *Store[K, V]) NewWriter(dir, partitionName string) (*PartitionWriter[K, V], error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, partitionName)
	opts := append([]sortedfile.WriterOption{
		sortedfile.WithRegistry(s.registry),
		sortedfile.WithLogger(s.logger),
	}, s.writerOpts...)

	w, err := sortedfile.Create(path, s.keys, s.values, s.compare, opts...)
	if err != nil {
		return nil, err
	}

	return &PartitionWriter[K, V]{
		writer:    w,
		name:      partitionName,
		telemetry: s.telemetry,
		stats:     s.stats,
	}, nil
}

// NewPartitionWriter returns a writer for partition index in dir, named so
// that lexicographic order matches index order.
func (s *Store[K, V]) NewPartitionWriter(dir string, index int) (*PartitionWriter[K, V], error) {
	return s.NewWriter(dir, partition.Name(index))
}

// OpenAll opens one reader per entry of dir, in lexicographic name order.
// Any entry that is not a partition file fails the call and closes the
// readers already opened. An empty directory yields no readers.
func (s *Store[K, V]) OpenAll(ctx context.Context, dir string) (Readers[K, V], error) {
	start := time.Now()
	ctx, span := s.telemetry.StartSpan(ctx, "store.open_all", attribute.String(telemetry.AttrDirectory, dir))
	defer span.End()

	if err := checkDir(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if s.expectedPartitions > 0 && len(names) != s.expectedPartitions {
		return nil, fmt.Errorf("%w: %s holds %d entries, expected %d", ErrPartitionCountMismatch,
			dir, len(names), s.expectedPartitions)
	}

	readers := make(Readers[K, V], 0, len(names))
	for _, name := range names {
		r, err := sortedfile.Open(filepath.Join(dir, name), s.keys, s.values, s.compare,
			sortedfile.WithReaderRegistry(s.registry),
			sortedfile.WithReaderLogger(s.logger))
		if err != nil {
			readers.Close()
			s.stats.TrackError("open_partition")
			s.logger.Warn("failed to open partition %s in %s: %v", name, dir, err)
			return nil, fmt.Errorf("%w: %s: %w", ErrNotPartitionFile, name, err)
		}
		readers = append(readers, r)
	}

	s.stats.TrackOperationWithLatency(stats.OpOpen, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackPartitionsOpened(len(readers))
	telemetry.RecordDuration(ctx, s.telemetry, telemetry.MetricOpenDuration, start)
	s.telemetry.RecordCounter(ctx, telemetry.MetricPartitionsOpened, int64(len(readers)))
	s.logger.Debug("opened %d partitions from %s", len(readers), dir)

	return readers, nil
}

// Lookup routes key to readers[p.Partition(key, value, len(readers))] and
// returns the value stored there. The partitioner and partition count must
// be the ones used when the data was written; otherwise the lookup searches
// the wrong partition and reports ErrNotFound for keys that exist.
func (s *Store[K, V]) Lookup(ctx context.Context, readers Readers[K, V], p partition.Partitioner[K, V],
	key K, value V) (V, error) {

	start := time.Now()
	ctx, span := s.telemetry.StartSpan(ctx, "store.lookup",
		attribute.Int(telemetry.AttrPartitions, len(readers)))
	defer span.End()

	i, v, err := route(readers, p, key, value)

	status := telemetry.StatusSuccess
	switch {
	case err == nil:
		s.stats.TrackLookup(true)
	case errors.Is(err, ErrNotFound):
		status = telemetry.StatusNotFound
		s.stats.TrackLookup(false)
	default:
		status = telemetry.StatusError
		s.stats.TrackError("lookup")
		s.logger.Warn("lookup failed: %v", err)
	}

	s.stats.TrackOperationWithLatency(stats.OpLookup, uint64(time.Since(start).Nanoseconds()))
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrStatus, status),
		attribute.Int(telemetry.AttrPartition, i),
	}
	span.SetAttributes(attrs...)
	telemetry.RecordDuration(ctx, s.telemetry, telemetry.MetricLookupDuration, start, attrs...)
	s.telemetry.RecordCounter(ctx, telemetry.MetricLookups, 1, attrs...)

	return v, err
}

// Lookup routes key to its partition with p and returns the stored value.
// See Store.Lookup for the caller's obligations.
func Lookup[K, V any](readers Readers[K, V], p partition.Partitioner[K, V], key K, value V) (V, error) {
	_, v, err := route(readers, p, key, value)
	return v, err
}

func route[K, V any](readers Readers[K, V], p partition.Partitioner[K, V], key K, value V) (int, V, error) {
	var zero V

	n := len(readers)
	if n == 0 {
		return -1, zero, ErrNoPartitions
	}

	i := p.Partition(key, value, n)
	if i < 0 || i >= n {
		return i, zero, fmt.Errorf("%w: partitioner returned %d for %d partitions", ErrPartitionOutOfRange, i, n)
	}

	v, err := readers[i].Get(key)
	return i, v, err
}

// Readers is an ordered partition set: element i serves partition i
type Readers[K, V any] []*sortedfile.Reader[K, V]

// Get routes key to its partition with p and returns the stored value
func (rs Readers[K, V]) Get(p partition.Partitioner[K, V], key K, value V) (V, error) {
	return Lookup(rs, p, key, value)
}

// Close closes every reader and returns the joined errors
func (rs Readers[K, V]) Close() error {
	var errs []error
	for _, r := range rs {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NumEntries returns the total number of entries across all partitions
func (rs Readers[K, V]) NumEntries() uint64 {
	var total uint64
	for _, r := range rs {
		total += r.NumEntries()
	}
	return total
}
