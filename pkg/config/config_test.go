package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/mapfile/pkg/compression"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/out")

	if cfg.Version != CurrentConfigVersion {
		t.Errorf("expected version %d, got %d", CurrentConfigVersion, cfg.Version)
	}

	if cfg.OutputDir != "/tmp/out" {
		t.Errorf("expected output dir /tmp/out, got %s", cfg.OutputDir)
	}

	if cfg.IndexInterval != sortedfile.DefaultIndexInterval {
		t.Errorf("expected index interval %d, got %d", sortedfile.DefaultIndexInterval, cfg.IndexInterval)
	}

	if cfg.Compression != compression.Snappy {
		t.Errorf("expected snappy compression, got %s", cfg.Compression)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"version", func(c *Config) { c.Version = 0 }},
		{"output dir", func(c *Config) { c.OutputDir = "" }},
		{"partitions", func(c *Config) { c.Partitions = 0 }},
		{"index interval", func(c *Config) { c.IndexInterval = -1 }},
		{"compression", func(c *Config) { c.Compression = "lz4" }},
		{"partitioner", func(c *Config) { c.Partitioner = "round-robin" }},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"telemetry", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 2
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig("/tmp/out")
			cfg.Update(tt.modify)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	// Disabled telemetry is not validated
	cfg := NewDefaultConfig("/tmp/out")
	cfg.Telemetry.SampleRate = 2
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected disabled telemetry to be ignored, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "mapfile.json")

	cfg := NewDefaultConfig(filepath.Join(dir, "out"))
	cfg.Update(func(c *Config) {
		c.Partitions = 16
		c.Compression = compression.Zstd
		c.RejectDuplicates = true
		c.Partitioner = PartitionerMurmur3
	})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file should be renamed away")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Partitions != 16 {
		t.Errorf("expected 16 partitions, got %d", loaded.Partitions)
	}
	if loaded.Compression != compression.Zstd {
		t.Errorf("expected zstd, got %s", loaded.Compression)
	}
	if !loaded.RejectDuplicates {
		t.Errorf("expected reject duplicates to survive round trip")
	}
	if loaded.Partitioner != PartitionerMurmur3 {
		t.Errorf("expected murmur3 partitioner, got %s", loaded.Partitioner)
	}
	if loaded.Telemetry.ServiceName != cfg.Telemetry.ServiceName {
		t.Errorf("expected telemetry config to survive round trip")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(garbage); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"version": 1, "output_dir": "x", "partitions": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAPFILE_OUTPUT_DIR", "/data/out")
	t.Setenv("MAPFILE_PARTITIONS", "32")
	t.Setenv("MAPFILE_INDEX_INTERVAL", "many")
	t.Setenv("MAPFILE_COMPRESSION", "s2")
	t.Setenv("MAPFILE_REJECT_DUPLICATES", "true")
	t.Setenv("MAPFILE_LISTEN_ADDRESS", ":6000")
	t.Setenv("MAPFILE_TELEMETRY_ENABLED", "true")

	cfg := NewDefaultConfig("/tmp/out")
	cfg.LoadFromEnv()

	if cfg.OutputDir != "/data/out" {
		t.Errorf("expected output dir from env, got %s", cfg.OutputDir)
	}
	if cfg.Partitions != 32 {
		t.Errorf("expected 32 partitions, got %d", cfg.Partitions)
	}
	if cfg.IndexInterval != sortedfile.DefaultIndexInterval {
		t.Errorf("unparseable index interval should be ignored, got %d", cfg.IndexInterval)
	}
	if cfg.Compression != compression.S2 || !cfg.RejectDuplicates || cfg.ListenAddress != ":6000" {
		t.Errorf("unexpected config after env overrides: %+v", cfg)
	}
	if !cfg.Telemetry.Enabled {
		t.Errorf("expected telemetry enabled from env")
	}
}

func TestWriterOptions(t *testing.T) {
	cfg := NewDefaultConfig("/tmp/out")
	if got := len(cfg.WriterOptions()); got != 2 {
		t.Errorf("expected 2 writer options, got %d", got)
	}

	cfg.RejectDuplicates = true
	if got := len(cfg.WriterOptions()); got != 3 {
		t.Errorf("expected 3 writer options, got %d", got)
	}
}
