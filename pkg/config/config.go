package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

const (
	CurrentConfigVersion = 1

	PartitionerXXHash  = "xxhash"
	PartitionerMurmur3 = "murmur3"
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

type Config struct {
	Version int `json:"version"`

	// Output layout
	OutputDir  string `json:"output_dir"`
	Partitions int    `json:"partitions"`

	// Partition file format
	IndexInterval    int    `json:"index_interval"`
	Compression      string `json:"compression"`
	RejectDuplicates bool   `json:"reject_duplicates"`

	// Partitioner used to route keys; must match the one used at write time
	Partitioner string `json:"partitioner"`

	// Lookup server
	ListenAddress string `json:"listen_address"`

	LogLevel string `json:"log_level"`

	Telemetry telemetry.Config `json:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(outputDir string) *Config {
	return &Config{
		Version:       CurrentConfigVersion,
		OutputDir:     outputDir,
		Partitions:    4,
		IndexInterval: sortedfile.DefaultIndexInterval,
		Compression:   compression.Snappy,
		Partitioner:   PartitionerXXHash,
		ListenAddress: "localhost:50051",
		LogLevel:      "info",
		Telemetry:     telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("%w: output directory not specified", ErrInvalidConfig)
	}

	if c.Partitions <= 0 {
		return fmt.Errorf("%w: partition count must be positive", ErrInvalidConfig)
	}

	if c.IndexInterval <= 0 {
		return fmt.Errorf("%w: index interval must be positive", ErrInvalidConfig)
	}

	if c.Compression != "" && !slices.Contains(compression.NewDefaultRegistry().Names(), c.Compression) {
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}

	if c.Partitioner != PartitionerXXHash && c.Partitioner != PartitionerMurmur3 {
		return fmt.Errorf("%w: unknown partitioner %q", ErrInvalidConfig, c.Partitioner)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Telemetry.Enabled {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

// WriterOptions returns the partition writer options described by the configuration
func (c *Config) WriterOptions() []sortedfile.WriterOption {
	c.mu.RLock()
	defer c.mu.RUnlock()

	opts := []sortedfile.WriterOption{
		sortedfile.WithIndexInterval(c.IndexInterval),
		sortedfile.WithCompression(c.Compression),
	}
	if c.RejectDuplicates {
		opts = append(opts, sortedfile.WithRejectDuplicates())
	}
	return opts
}

// LoadFromEnv overrides fields from MAPFILE_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("MAPFILE_OUTPUT_DIR"); val != "" {
		c.OutputDir = val
	}

	if val := os.Getenv("MAPFILE_PARTITIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Partitions = n
		}
	}

	if val := os.Getenv("MAPFILE_INDEX_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IndexInterval = n
		}
	}

	if val := os.Getenv("MAPFILE_COMPRESSION"); val != "" {
		c.Compression = val
	}

	if val := os.Getenv("MAPFILE_REJECT_DUPLICATES"); val != "" {
		if reject, err := strconv.ParseBool(val); err == nil {
			c.RejectDuplicates = reject
		}
	}

	if val := os.Getenv("MAPFILE_PARTITIONER"); val != "" {
		c.Partitioner = val
	}

	if val := os.Getenv("MAPFILE_LISTEN_ADDRESS"); val != "" {
		c.ListenAddress = val
	}

	if val := os.Getenv("MAPFILE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	c.Telemetry.LoadFromEnv()
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to path through a temporary file and rename.
// The file must not be placed inside the output directory, which may only
// hold partition files.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
