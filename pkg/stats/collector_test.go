package stats

import (
	"sync"
	"testing"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpLookup)

	stats := collector.GetStats()

	if stats["append_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 append operations, got %v", stats["append_ops"])
	}

	if stats["lookup_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 lookup operation, got %v", stats["lookup_ops"])
	}

	if _, exists := stats["last_append_time"]; !exists {
		t.Errorf("Expected last_append_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpLookup, 100)
	collector.TrackOperationWithLatency(OpLookup, 200)
	collector.TrackOperationWithLatency(OpLookup, 300)

	stats := collector.GetStats()

	latencyStats, ok := stats["lookup_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected lookup_latency to be a map, got %T", stats["lookup_latency"])
	}

	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}

	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200ns, got %v", avg)
	}

	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100ns, got %v", min)
	}

	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300ns, got %v", max)
	}

	if ops := stats["lookup_ops"].(uint64); ops != 3 {
		t.Errorf("Expected 3 lookup operations, got %v", ops)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const numGoroutines = 10
	const opsPerGoroutine = 999

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < opsPerGoroutine; j++ {
				switch j % 3 {
				case 0:
					collector.TrackOperation(OpAppend)
				case 1:
					collector.TrackLookup(j%2 == 0)
				case 2:
					collector.TrackOperationWithLatency(OpGet, uint64(j))
				}
			}
		}()
	}

	wg.Wait()

	stats := collector.GetStats()
	expectedOps := uint64(numGoroutines * opsPerGoroutine / 3)

	if ops := stats["append_ops"].(uint64); ops != expectedOps {
		t.Errorf("Expected %d append operations, got %v", expectedOps, ops)
	}

	if ops := stats["get_ops"].(uint64); ops != expectedOps {
		t.Errorf("Expected %d get operations, got %v", expectedOps, ops)
	}

	hits := stats["lookup_hits"].(uint64)
	misses := stats["lookup_misses"].(uint64)
	if hits+misses != expectedOps {
		t.Errorf("Expected %d lookups, got %d hits and %d misses", expectedOps, hits, misses)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpLookup)
	collector.TrackOperation(OpLookup)
	collector.TrackLookup(true)
	collector.TrackError("corruption")

	lookupStats := collector.GetStatsFiltered("lookup")

	if _, exists := lookupStats["lookup_ops"]; !exists {
		t.Errorf("Expected lookup_ops in filtered stats")
	}

	if _, exists := lookupStats["lookup_hits"]; !exists {
		t.Errorf("Expected lookup_hits in filtered stats")
	}

	if _, exists := lookupStats["append_ops"]; exists {
		t.Errorf("Did not expect append_ops in lookup-filtered stats")
	}

	errorStats := collector.GetStatsFiltered("error")
	errs, ok := errorStats["errors"].(map[string]uint64)
	if !ok {
		t.Fatalf("Expected errors in error-filtered stats")
	}
	if errs["corruption"] != 1 {
		t.Errorf("Expected 1 corruption error, got %d", errs["corruption"])
	}
}

func TestCollector_TrackBytes(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackBytes(true, 1000)
	collector.TrackBytes(false, 500)

	stats := collector.GetStats()

	if bytesWritten := stats["total_bytes_written"].(uint64); bytesWritten != 1000 {
		t.Errorf("Expected 1000 bytes written, got %v", bytesWritten)
	}

	if bytesRead := stats["total_bytes_read"].(uint64); bytesRead != 500 {
		t.Errorf("Expected 500 bytes read, got %v", bytesRead)
	}
}

func TestCollector_PartitionCounters(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackPartitionsOpened(8)
	collector.TrackPartitionsOpened(4)
	collector.TrackFileFinalized(100)
	collector.TrackFileFinalized(50)

	stats := collector.GetStats()

	if open := stats["open_partitions"].(uint64); open != 4 {
		t.Errorf("Expected 4 open partitions, got %v", open)
	}

	if files := stats["files_finalized"].(uint64); files != 2 {
		t.Errorf("Expected 2 finalized files, got %v", files)
	}

	if entries := stats["entries_finalized"].(uint64); entries != 150 {
		t.Errorf("Expected 150 finalized entries, got %v", entries)
	}
}
