package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/KevoDB/mapfile/pkg/compression"
)

// TuningResults stores the results of various configuration tuning runs
type TuningResults struct {
	Timestamp  time.Time                    `json:"timestamp"`
	Parameters []string                     `json:"parameters"`
	Results    map[string][]TuningBenchmark `json:"results"`
}

// TuningBenchmark stores the result of a single configuration test
type TuningBenchmark struct {
	ConfigName   string           `json:"config_name"`
	ConfigValue  interface{}      `json:"config_value"`
	WriteResults BenchmarkMetrics `json:"write_results"`
	ReadResults  BenchmarkMetrics `json:"read_results"`
	ScanResults  BenchmarkMetrics `json:"scan_results"`
	DiskBytes    int64            `json:"disk_bytes"`
}

// BenchmarkMetrics stores the key metrics from a benchmark
type BenchmarkMetrics struct {
	Throughput float64 `json:"throughput"`
	Latency    float64 `json:"latency"`
	Duration   float64 `json:"duration"`
	Operations int     `json:"operations"`
	HitRate    float64 `json:"hit_rate,omitempty"`
}

// ConfigOption represents a configuration option to test
type ConfigOption struct {
	Name   string
	Values []interface{}
	Apply  func(cfg *benchConfig, value interface{})
}

func metricsOf(r BenchmarkResult) BenchmarkMetrics {
	return BenchmarkMetrics{
		Throughput: r.Throughput,
		Latency:    r.Latency,
		Duration:   r.Duration,
		Operations: r.Operations,
		HitRate:    r.HitRate,
	}
}

func tuningOptions() []ConfigOption {
	return []ConfigOption{
		{
			Name:   "IndexInterval",
			Values: []interface{}{16, 128, 1024},
			Apply:  func(cfg *benchConfig, v interface{}) { cfg.indexInterval = v.(int) },
		},
		{
			Name:   "Compression",
			Values: []interface{}{compression.None, compression.Snappy, compression.S2, compression.Zstd},
			Apply:  func(cfg *benchConfig, v interface{}) { cfg.codec = v.(string) },
		},
		{
			Name:   "Partitions",
			Values: []interface{}{1, 4, 16},
			Apply:  func(cfg *benchConfig, v interface{}) { cfg.partitions = v.(int) },
		},
	}
}

// RunConfigTuning runs benchmarks with different configuration parameters,
// varying one parameter of base at a time
func RunConfigTuning(baseDir string, base benchConfig) (*TuningResults, error) {
	fmt.Println("Starting configuration tuning...")

	tuningDir := filepath.Join(baseDir, fmt.Sprintf("tuning-%d", time.Now().Unix()))
	if err := os.MkdirAll(tuningDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tuning directory: %w", err)
	}

	results := &TuningResults{
		Timestamp: time.Now(),
		Parameters: []string{fmt.Sprintf("Keys: %d, ValueSize: %d bytes, Duration: %s",
			base.numKeys, base.valueSize, base.duration)},
		Results: make(map[string][]TuningBenchmark),
	}

	for _, option := range tuningOptions() {
		fmt.Printf("Testing %s variations...\n", option.Name)
		optionResults := make([]TuningBenchmark, 0, len(option.Values))

		for i, value := range option.Values {
			fmt.Printf("  Testing %s=%v\n", option.Name, value)

			cfg := base
			cfg.dir = filepath.Join(tuningDir, fmt.Sprintf("%s-%d", strings.ToLower(option.Name), i))
			option.Apply(&cfg, value)

			benchmark, err := runBenchmarkWithConfig(cfg)
			if err != nil {
				fmt.Printf("Error testing %s=%v: %v\n", option.Name, value, err)
				continue
			}
			benchmark.ConfigName = option.Name
			benchmark.ConfigValue = value
			optionResults = append(optionResults, *benchmark)
		}

		results.Results[option.Name] = optionResults
	}

	resultPath := filepath.Join(tuningDir, "tuning_results.json")
	resultData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.WriteFile(resultPath, resultData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}

	if err := generateRecommendations(results, filepath.Join(tuningDir, "recommendations.md")); err != nil {
		return nil, err
	}

	fmt.Printf("Tuning complete. Results saved to %s\n", resultPath)
	return results, nil
}

// runBenchmarkWithConfig writes, reads and scans one partition set
func runBenchmarkWithConfig(cfg benchConfig) (*TuningBenchmark, error) {
	b := newBench(cfg)
	defer b.close()

	write, err := b.runWrite()
	if err != nil {
		return nil, err
	}
	read, err := b.runRead()
	if err != nil {
		return nil, err
	}
	scan, err := b.runScan()
	if err != nil {
		return nil, err
	}

	diskBytes, err := dirSize(cfg.dir)
	if err != nil {
		return nil, err
	}

	return &TuningBenchmark{
		WriteResults: metricsOf(write),
		ReadResults:  metricsOf(read),
		ScanResults:  metricsOf(scan),
		DiskBytes:    diskBytes,
	}, nil
}

func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// RunFullTuningBenchmark runs a full tuning benchmark
func RunFullTuningBenchmark(base benchConfig) error {
	baseDir := filepath.Join(base.dir, "tuning")
	base.duration = 2 * time.Second

	results, err := RunConfigTuning(baseDir, base)
	if err != nil {
		return fmt.Errorf("tuning failed: %w", err)
	}

	fmt.Println("\nBest Configuration Summary:")

	for _, paramName := range sortedParams(results) {
		benchmarks := results.Results[paramName]
		if len(benchmarks) == 0 {
			continue
		}
		bestWrite, bestRead, smallest := bestOf(benchmarks)

		fmt.Printf("\nParameter: %s\n", paramName)
		fmt.Printf("  Best for writes:  %v (%.2f ops/sec)\n",
			benchmarks[bestWrite].ConfigValue, benchmarks[bestWrite].WriteResults.Throughput)
		fmt.Printf("  Best for reads:   %v (%.2f ops/sec)\n",
			benchmarks[bestRead].ConfigValue, benchmarks[bestRead].ReadResults.Throughput)
		fmt.Printf("  Smallest on disk: %v (%d bytes)\n",
			benchmarks[smallest].ConfigValue, benchmarks[smallest].DiskBytes)
	}

	return nil
}

func sortedParams(results *TuningResults) []string {
	names := make([]string, 0, len(results.Results))
	for name := range results.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func bestOf(benchmarks []TuningBenchmark) (bestWrite, bestRead, smallest int) {
	for i, b := range benchmarks {
		if b.WriteResults.Throughput > benchmarks[bestWrite].WriteResults.Throughput {
			bestWrite = i
		}
		if b.ReadResults.Throughput > benchmarks[bestRead].ReadResults.Throughput {
			bestRead = i
		}
		if b.DiskBytes < benchmarks[smallest].DiskBytes {
			smallest = i
		}
	}
	return bestWrite, bestRead, smallest
}

// generateRecommendations creates a markdown document with configuration recommendations
func generateRecommendations(results *TuningResults, outputPath string) error {
	var sb strings.Builder

	sb.WriteString("# Configuration Recommendations for mapfile Partition Sets\n\n")
	sb.WriteString("Based on benchmark results from " + results.Timestamp.Format(time.RFC3339) + "\n\n")

	sb.WriteString("## Benchmark Parameters\n\n")
	for _, param := range results.Parameters {
		sb.WriteString("- " + param + "\n")
	}

	sb.WriteString("\n## Results\n\n")

	for _, paramName := range sortedParams(results) {
		benchmarks := results.Results[paramName]
		if len(benchmarks) == 0 {
			continue
		}
		bestWrite, bestRead, smallest := bestOf(benchmarks)

		sb.WriteString("### " + paramName + "\n\n")
		sb.WriteString(fmt.Sprintf("- **Write-optimized**: %v\n", benchmarks[bestWrite].ConfigValue))
		sb.WriteString(fmt.Sprintf("- **Read-optimized**: %v\n", benchmarks[bestRead].ConfigValue))
		sb.WriteString(fmt.Sprintf("- **Size-optimized**: %v\n\n", benchmarks[smallest].ConfigValue))

		sb.WriteString("| Value | Write Throughput | Read Throughput | Scan Throughput | Disk Bytes |\n")
		sb.WriteString("|-------|-----------------|----------------|-----------------|------------|\n")
		for _, b := range benchmarks {
			sb.WriteString(fmt.Sprintf("| %v | %.2f ops/sec | %.2f ops/sec | %.2f entries/sec | %d |\n",
				b.ConfigValue,
				b.WriteResults.Throughput,
				b.ReadResults.Throughput,
				b.ScanResults.Throughput,
				b.DiskBytes))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Additional Considerations\n\n")
	sb.WriteString("- A smaller `IndexInterval` shortens each lookup scan at the cost of a larger in-memory index\n")
	sb.WriteString("- The partition count must stay fixed once data is written; lookups route by it\n")

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write recommendations: %w", err)
	}

	return nil
}
