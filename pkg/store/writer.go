package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/stats"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

// PartitionWriter writes one partition file. Keys must be written in
// non-decreasing order. It is owned by the single task producing the
// partition.
type PartitionWriter[K, V any] struct {
	writer    *sortedfile.Writer[K, V]
	name      string
	telemetry telemetry.Telemetry
	stats     stats.Collector
	closed    bool
}

// Write appends a key/value pair to the partition
func (w *PartitionWriter[K, V]) Write(key K, value V) error {
	if err := w.writer.Append(key, value); err != nil {
		w.stats.TrackError("append")
		return err
	}
	w.stats.TrackOperation(stats.OpAppend)
	return nil
}

// Close finalizes the partition file. Calling Close again returns nil.
func (w *PartitionWriter[K, V]) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	start := time.Now()
	if err := w.writer.Close(); err != nil {
		w.stats.TrackError("finalize")
		return err
	}

	ctx := context.Background()
	attrs := []attribute.KeyValue{attribute.String(telemetry.AttrComponent, telemetry.ComponentWriter)}
	entries := w.writer.Entries()
	size := w.writer.Size()

	w.stats.TrackOperationWithLatency(stats.OpFinalize, uint64(time.Since(start).Nanoseconds()))
	w.stats.TrackFileFinalized(entries)
	w.stats.TrackBytes(true, uint64(size))
	w.telemetry.RecordCounter(ctx, telemetry.MetricEntriesWritten, int64(entries), attrs...)
	w.telemetry.RecordCounter(ctx, telemetry.MetricFilesFinalized, 1, attrs...)
	telemetry.RecordBytes(ctx, w.telemetry, telemetry.MetricBytesWritten, size, attrs...)
	return nil
}

// Abort discards the partition file
func (w *PartitionWriter[K, V]) Abort() error {
	w.closed = true
	return w.writer.Abort()
}

// Name returns the partition file name
func (w *PartitionWriter[K, V]) Name() string {
	return w.name
}

// Path returns the final path of the partition file
func (w *PartitionWriter[K, V]) Path() string {
	return w.writer.Path()
}

// Entries returns the number of entries written so far
func (w *PartitionWriter[K, V]) Entries() uint64 {
	return w.writer.Entries()
}
