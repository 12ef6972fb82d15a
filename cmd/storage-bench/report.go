package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Partitions    int
	Codec         string
	IndexInterval int
	Operations    int
	Duration      float64
	Throughput    float64
	Latency       float64 // µs per operation
	HitRate       float64 // For read benchmarks
	EntriesPerSec float64 // For scan benchmarks
	Timestamp     time.Time
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Partitions", "Codec",
	"IndexInterval", "Operations", "Duration", "Throughput", "Latency", "HitRate",
	"EntriesPerSec",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			strconv.Itoa(r.Partitions),
			r.Codec,
			strconv.Itoa(r.IndexInterval),
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.2f", r.EntriesPerSec),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return nil
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numKeys, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		partitions, _ := strconv.Atoi(record[4])
		indexInterval, _ := strconv.Atoi(record[6])
		operations, _ := strconv.Atoi(record[7])
		duration, _ := strconv.ParseFloat(record[8], 64)
		throughput, _ := strconv.ParseFloat(record[9], 64)
		latency, _ := strconv.ParseFloat(record[10], 64)
		hitRate, _ := strconv.ParseFloat(record[11], 64)
		entriesPerSec, _ := strconv.ParseFloat(record[12], 64)

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: record[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Partitions:    partitions,
			Codec:         record[5],
			IndexInterval: indexInterval,
			Operations:    operations,
			Duration:      duration,
			Throughput:    throughput,
			Latency:       latency,
			HitRate:       hitRate,
			EntriesPerSec: entriesPerSec,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Println("No results to display")
		return
	}

	fmt.Println("+-----------------+--------+------+--------+----------+------------+----------+----------+")
	fmt.Println("| Benchmark Type  | Keys   | Part | Codec  | Interval | Throughput | Latency  | Hit Rate |")
	fmt.Println("+-----------------+--------+------+--------+----------+------------+----------+----------+")

	for _, r := range results {
		hitRateStr := "-"
		if r.HitRate > 0 {
			hitRateStr = fmt.Sprintf("%.2f%%", r.HitRate)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Printf("| %-15s | %6d | %4d | %-6s | %8d | %10.2f | %6.2f%s | %8s |\n",
			r.BenchmarkType,
			r.NumKeys,
			r.Partitions,
			r.Codec,
			r.IndexInterval,
			r.Throughput,
			latency, latencyUnit,
			hitRateStr)
	}
	fmt.Println("+-----------------+--------+------+--------+----------+------------+----------+----------+")
}

// ResultDelta compares one benchmark type against a baseline run
type ResultDelta struct {
	BenchmarkType      string
	BaselineThroughput float64
	Throughput         float64
	ThroughputChange   float64 // percent
	LatencyChange      float64 // percent
}

// CompareResults matches current results to baseline results by benchmark
// type. Types missing from the baseline are skipped.
func CompareResults(baseline, current []BenchmarkResult) []ResultDelta {
	byType := make(map[string]BenchmarkResult, len(baseline))
	for _, r := range baseline {
		byType[r.BenchmarkType] = r
	}

	var deltas []ResultDelta
	for _, r := range current {
		base, ok := byType[r.BenchmarkType]
		if !ok {
			continue
		}
		deltas = append(deltas, ResultDelta{
			BenchmarkType:      r.BenchmarkType,
			BaselineThroughput: base.Throughput,
			Throughput:         r.Throughput,
			ThroughputChange:   percentChange(base.Throughput, r.Throughput),
			LatencyChange:      percentChange(base.Latency, r.Latency),
		})
	}
	return deltas
}

func percentChange(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (after - before) / before * 100
}

// PrintComparison prints throughput and latency changes against a baseline
func PrintComparison(w io.Writer, deltas []ResultDelta) {
	if len(deltas) == 0 {
		fmt.Fprintln(w, "No comparable baseline results")
		return
	}

	fmt.Fprintln(w, "\nComparison with baseline:")
	for _, d := range deltas {
		fmt.Fprintf(w, "  %-15s %10.2f -> %10.2f ops/sec (%+.1f%%), latency %+.1f%%\n",
			d.BenchmarkType, d.BaselineThroughput, d.Throughput, d.ThroughputChange, d.LatencyChange)
	}
}
