// ABOUTME: Core telemetry abstraction over OpenTelemetry for partition writers, readers and lookups
// ABOUTME: Provides metric recording, tracing and lifecycle management with a no-op implementation

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the core abstraction over OpenTelemetry for mapfile components.
// Components use this interface to record metrics and spans without depending directly on OpenTelemetry.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown gracefully shuts down all telemetry providers and exports remaining data.
	Shutdown(ctx context.Context) error
}

// NoopTelemetry provides a no-operation implementation of Telemetry for tests or disabled setups.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and the span already in it.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration is a helper function to record operation duration in a histogram.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	duration := time.Since(start).Seconds()
	tel.RecordHistogram(ctx, name, duration, attrs...)
}

// RecordBytes is a helper function to record byte counts in a counter.
func RecordBytes(ctx context.Context, tel Telemetry, name string, bytes int64, attrs ...attribute.KeyValue) {
	tel.RecordCounter(ctx, name, bytes, attrs...)
}

// Common attribute keys for consistent naming across components
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrErrorType     = "error.type"
	AttrPartition     = "partition.index"
	AttrPartitions    = "partition.count"
	AttrDirectory     = "directory"
)

// Common attribute values
const (
	OpTypeAppend = "append"
	OpTypeGet    = "get"
	OpTypeLookup = "lookup"
	OpTypeOpen   = "open"
	OpTypeScan   = "scan"

	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusError    = "error"

	ComponentStore  = "store"
	ComponentWriter = "writer"
	ComponentServer = "server"
)

// Metric names
const (
	MetricLookupDuration   = "mapfile.lookup.duration"
	MetricLookups          = "mapfile.lookups"
	MetricOpenDuration     = "mapfile.open.duration"
	MetricPartitionsOpened = "mapfile.partitions.opened"
	MetricEntriesWritten   = "mapfile.entries.written"
	MetricFilesFinalized   = "mapfile.files.finalized"
	MetricBytesWritten     = "mapfile.bytes.written"
	MetricRPCDuration      = "mapfile.rpc.duration"
)
