package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/store"
)

const (
	defaultValueSize = 100
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, read, parallel-read, scan, tune, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration of each read benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to write")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	partitions    = flag.Int("partitions", 8, "Number of partition files")
	codec         = flag.String("compression", "snappy", "Block compression")
	indexInterval = flag.Int("index-interval", sortedfile.DefaultIndexInterval, "Entries per index sample")
	workers       = flag.Int("workers", runtime.NumCPU(), "Goroutines used by the parallel read benchmark")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
	compareFile   = flag.String("compare", "", "CSV file of earlier results to compare against")
)

// benchConfig describes one partition set under test
type benchConfig struct {
	dir           string
	numKeys       int
	valueSize     int
	partitions    int
	codec         string
	indexInterval int
	sequential    bool
	duration      time.Duration
	workers       int
}

// bench writes a partition set and measures lookups and scans against it
type bench struct {
	cfg         benchConfig
	store       *store.Store[[]byte, []byte]
	partitioner partition.Partitioner[[]byte, []byte]
	readers     store.Readers[[]byte, []byte]
	keys        [][]byte
}

func newBench(cfg benchConfig) *bench {
	s := store.New(sortedfile.Bytes(), sortedfile.Bytes(), bytes.Compare,
		store.WithLogger(log.NewNopLogger()),
		store.WithWriterOptions(
			sortedfile.WithCompression(cfg.codec),
			sortedfile.WithIndexInterval(cfg.indexInterval),
		))

	return &bench{
		cfg:         cfg,
		store:       s,
		partitioner: partition.NewHashPartitioner[[]byte, []byte](sortedfile.Bytes()),
	}
}

func (b *bench) result(name string) BenchmarkResult {
	return BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       b.cfg.numKeys,
		ValueSize:     b.cfg.valueSize,
		Partitions:    b.cfg.partitions,
		Codec:         b.cfg.codec,
		IndexInterval: b.cfg.indexInterval,
		Timestamp:     time.Now(),
	}
}

func (b *bench) generateKeys() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	b.keys = make([][]byte, b.cfg.numKeys)
	for i := range b.keys {
		if b.cfg.sequential {
			b.keys[i] = []byte(fmt.Sprintf("key-%010d", i))
		} else {
			b.keys[i] = []byte(fmt.Sprintf("key-%016x-%010d", r.Uint64(), i))
		}
	}
}

// runWrite writes every key into the partition set, one goroutine per
// partition, and opens the result for the read benchmarks
func (b *bench) runWrite() (BenchmarkResult, error) {
	res := b.result("Write")

	if err := os.MkdirAll(b.cfg.dir, 0755); err != nil {
		return res, fmt.Errorf("failed to create benchmark directory: %w", err)
	}
	b.generateKeys()

	value := make([]byte, b.cfg.valueSize)
	for i := range value {
		value[i] = byte(i % 256)
	}

	start := time.Now()

	entries := make([]sortedfile.Entry[[]byte, []byte], len(b.keys))
	for i, k := range b.keys {
		entries[i] = sortedfile.Entry[[]byte, []byte]{Key: k, Value: value}
	}
	buckets, err := partition.Assign(b.partitioner, b.cfg.partitions, entries, bytes.Compare)
	if err != nil {
		return res, err
	}

	var eg errgroup.Group
	for i, bucket := range buckets {
		eg.Go(func() error { return b.writePartition(i, bucket) })
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	elapsed := time.Since(start)

	b.readers, err = b.store.OpenAll(context.Background(), b.cfg.dir)
	if err != nil {
		return res, err
	}

	res.Operations = len(b.keys)
	res.Duration = elapsed.Seconds()
	res.Throughput = float64(res.Operations) / elapsed.Seconds()
	res.Latency = 1000000.0 / res.Throughput
	return res, nil
}

func (b *bench) writePartition(i int, bucket []sortedfile.Entry[[]byte, []byte]) error {
	w, err := b.store.NewPartitionWriter(b.cfg.dir, i)
	if err != nil {
		return err
	}
	for _, e := range bucket {
		if err := w.Write(e.Key, e.Value); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

// lookupLoop performs random lookups until the deadline. One lookup in ten
// asks for a key that was never written.
func (b *bench) lookupLoop(deadline time.Time, seed int64) (ops, hits int, err error) {
	r := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	for time.Now().Before(deadline) {
		var key []byte
		if r.Intn(10) == 0 {
			key = []byte(fmt.Sprintf("missing-%d", r.Int()))
		} else {
			key = b.keys[r.Intn(len(b.keys))]
		}

		_, err := b.store.Lookup(ctx, b.readers, b.partitioner, key, nil)
		switch {
		case err == nil:
			hits++
		case !errors.Is(err, store.ErrNotFound):
			return ops, hits, err
		}
		ops++
	}
	return ops, hits, nil
}

func (b *bench) runRead() (BenchmarkResult, error) {
	res := b.result("Read")

	start := time.Now()
	ops, hits, err := b.lookupLoop(start.Add(b.cfg.duration), start.UnixNano())
	if err != nil {
		return res, err
	}
	elapsed := time.Since(start)

	fillReadResult(&res, ops, hits, elapsed)
	return res, nil
}

func (b *bench) runParallelRead() (BenchmarkResult, error) {
	res := b.result("ParallelRead")

	var (
		eg        errgroup.Group
		totalOps  atomic.Int64
		totalHits atomic.Int64
	)

	start := time.Now()
	deadline := start.Add(b.cfg.duration)
	for w := 0; w < b.cfg.workers; w++ {
		seed := start.UnixNano() + int64(w)
		eg.Go(func() error {
			ops, hits, err := b.lookupLoop(deadline, seed)
			totalOps.Add(int64(ops))
			totalHits.Add(int64(hits))
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}
	elapsed := time.Since(start)

	fillReadResult(&res, int(totalOps.Load()), int(totalHits.Load()), elapsed)
	return res, nil
}

func fillReadResult(res *BenchmarkResult, ops, hits int, elapsed time.Duration) {
	res.Operations = ops
	res.Duration = elapsed.Seconds()
	res.Throughput = float64(ops) / elapsed.Seconds()
	if ops > 0 {
		res.Latency = 1000000.0 / res.Throughput
		res.HitRate = float64(hits) / float64(ops) * 100
	}
}

// runScan reads every partition in file order
func (b *bench) runScan() (BenchmarkResult, error) {
	res := b.result("Scan")

	start := time.Now()
	count := 0
	for _, r := range b.readers {
		for _, err := range r.All() {
			if err != nil {
				return res, err
			}
			count++
		}
	}
	elapsed := time.Since(start)

	if count != len(b.keys) {
		return res, fmt.Errorf("scanned %d entries, expected %d", count, len(b.keys))
	}

	res.Operations = count
	res.Duration = elapsed.Seconds()
	res.EntriesPerSec = float64(count) / elapsed.Seconds()
	res.Throughput = res.EntriesPerSec
	res.Latency = 1000000.0 / res.EntriesPerSec
	return res, nil
}

func (b *bench) close() {
	if b.readers != nil {
		b.readers.Close()
	}
}

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}

	cfg := benchConfig{
		dir:           *dataDir,
		numKeys:       *numKeys,
		valueSize:     *valueSize,
		partitions:    *partitions,
		codec:         *codec,
		indexInterval: *indexInterval,
		sequential:    *sequential,
		duration:      *duration,
		workers:       *workers,
	}

	if strings.ToLower(*benchmarkType) == "tune" {
		fmt.Println("Running configuration tuning benchmarks...")
		if err := RunFullTuningBenchmark(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Tuning failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Partitions: %d, Duration: %s, Mode: %s\n",
		cfg.numKeys, cfg.valueSize, cfg.partitions, cfg.duration, keyMode())

	results, err := runBenchmarks(cfg, strings.Split(*benchmarkType, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}

	PrintResultTable(results)

	if *compareFile != "" {
		baseline, err := LoadResultCSV(*compareFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load baseline results: %v\n", err)
		} else {
			PrintComparison(os.Stdout, CompareResults(baseline, results))
		}
	}

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC() // Run GC before taking memory profile
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

// runBenchmarks writes the partition set, which every other benchmark
// reads, then runs the requested types in order
func runBenchmarks(cfg benchConfig, types []string) ([]BenchmarkResult, error) {
	b := newBench(cfg)
	defer b.close()

	fmt.Println("Running Write Benchmark...")
	write, err := b.runWrite()
	if err != nil {
		return nil, err
	}
	results := []BenchmarkResult{write}

	run := func(name string, fn func() (BenchmarkResult, error)) error {
		fmt.Printf("Running %s Benchmark...\n", name)
		res, err := fn()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		results = append(results, res)
		return nil
	}

	for _, typ := range types {
		var err error
		switch strings.ToLower(typ) {
		case "write":
		case "read":
			err = run("Read", b.runRead)
		case "parallel-read":
			err = run("Parallel Read", b.runParallelRead)
		case "scan":
			err = run("Scan", b.runScan)
		case "all":
			if err = run("Read", b.runRead); err != nil {
				break
			}
			if err = run("Parallel Read", b.runParallelRead); err != nil {
				break
			}
			err = run("Scan", b.runScan)
		default:
			err = fmt.Errorf("unknown benchmark type: %s", typ)
		}
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

// keyMode returns a string describing the key generation mode
func keyMode() string {
	if *sequential {
		return "Sequential"
	}
	return "Random"
}
