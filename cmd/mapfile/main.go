package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/config"
	"github.com/KevoDB/mapfile/pkg/grpc/transport"
	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/store"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

// Options holds the parsed command line
type Options struct {
	Config     *config.Config
	ServerMode bool
	ImportPath string
	Remote     string
	GetKey     string
	TLS        *transport.TLSConfig
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// parseFlags builds the options from defaults, the optional config file,
// MAPFILE_* environment variables and finally the flags that were set
func parseFlags(args []string, output io.Writer) (*Options, error) {
	fs := flag.NewFlagSet("mapfile", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "mapfile - Partitioned sorted key/value files\n\n")
		fmt.Fprintf(fs.Output(), "Usage: mapfile [options] [directory]\n\n")
		fmt.Fprintf(fs.Output(), "By default, mapfile opens the partitions in directory and starts an interactive shell.\n")
		fmt.Fprintf(fs.Output(), "With -import, it writes the key<TAB>value lines of a file as -partitions partition files.\n")
		fmt.Fprintf(fs.Output(), "With -server, it serves lookups over gRPC.\n\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), "\nFor shell commands, start mapfile and type .help\n")
	}

	configPath := fs.String("config", "", "JSON configuration file")
	serverMode := fs.Bool("server", false, "Serve lookups over gRPC")
	address := fs.String("address", "localhost:50051", "Address to listen on in server mode")
	importPath := fs.String("import", "", "Write the key<TAB>value lines of this file (- for stdin) as partitions")
	partitions := fs.Int("partitions", 4, "Number of partitions written by -import")
	compressionName := fs.String("compression", "snappy", "Block compression for -import")
	indexInterval := fs.Int("index-interval", sortedfile.DefaultIndexInterval, "Entries per index sample")
	partitioner := fs.String("partitioner", config.PartitionerXXHash, "Key partitioner: xxhash or murmur3")
	rejectDuplicates := fs.Bool("reject-duplicates", false, "Fail -import on duplicate keys")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	enableTelemetry := fs.Bool("telemetry", false, "Enable telemetry exporters")

	remote := fs.String("remote", "", "Address of a mapfile server to query with -get")
	getKey := fs.String("get", "", "Look up a single key and exit")

	tlsEnabled := fs.Bool("tls", false, "Enable TLS for secure connections")
	tlsCertFile := fs.String("cert", "", "TLS certificate file path")
	tlsKeyFile := fs.String("key", "", "TLS private key file path")
	tlsCAFile := fs.String("ca", "", "TLS CA certificate file path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var dir string
	if fs.NArg() > 0 {
		dir = fs.Arg(0)
	}

	cfg := config.NewDefaultConfig(dir)
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.ListenAddress = *address
		case "partitions":
			cfg.Partitions = *partitions
		case "compression":
			cfg.Compression = *compressionName
		case "index-interval":
			cfg.IndexInterval = *indexInterval
		case "partitioner":
			cfg.Partitioner = *partitioner
		case "reject-duplicates":
			cfg.RejectDuplicates = *rejectDuplicates
		case "log-level":
			cfg.LogLevel = *logLevel
		case "telemetry":
			cfg.Telemetry.Enabled = *enableTelemetry
		}
	})
	if dir != "" {
		cfg.OutputDir = dir
	}

	opts := &Options{
		Config:     cfg,
		ServerMode: *serverMode,
		ImportPath: *importPath,
		Remote:     *remote,
		GetKey:     *getKey,
	}
	if *tlsEnabled {
		opts.TLS = &transport.TLSConfig{
			CertFile: *tlsCertFile,
			KeyFile:  *tlsKeyFile,
			CAFile:   *tlsCAFile,
		}
	}

	if opts.Remote != "" {
		if opts.GetKey == "" {
			return nil, fmt.Errorf("-remote requires -get")
		}
		return opts, nil
	}

	if cfg.OutputDir == "" && (opts.ServerMode || opts.ImportPath != "") {
		return nil, fmt.Errorf("a partition directory is required")
	}
	if cfg.OutputDir != "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// newPartitioner returns the partitioner registered under name
func newPartitioner(name string) partition.Partitioner[[]byte, []byte] {
	if name == config.PartitionerMurmur3 {
		return partition.NewMurmur3Partitioner[[]byte, []byte](sortedfile.Bytes())
	}
	return partition.NewHashPartitioner[[]byte, []byte](sortedfile.Bytes())
}

func newStore(cfg *config.Config, logger log.Logger, tel telemetry.Telemetry) *store.Store[[]byte, []byte] {
	return store.New(sortedfile.Bytes(), sortedfile.Bytes(), bytes.Compare,
		store.WithLogger(logger),
		store.WithTelemetry(tel),
		store.WithWriterOptions(cfg.WriterOptions()...))
}

func newLogger(cfg *config.Config) log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.LevelInfo
	}
	logger := log.NewZapLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)
	return logger
}

func run(opts *Options) error {
	cfg := opts.Config
	logger := newLogger(cfg)

	if opts.Remote != "" {
		return remoteGet(opts, os.Stdout)
	}

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown: %v", err)
		}
	}()

	s := newStore(cfg, logger, tel)
	p := newPartitioner(cfg.Partitioner)

	if opts.ImportPath != "" {
		n, err := importFile(s, p, cfg, opts.ImportPath)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d entries to %d partitions in %s\n", n, cfg.Partitions, cfg.OutputDir)
		return nil
	}

	sh := newShell(s, p, os.Stdout)
	if cfg.OutputDir != "" {
		if err := sh.open(cfg.OutputDir); err != nil {
			return err
		}
		defer sh.close()
	}

	if opts.GetKey != "" {
		sh.execute("GET " + opts.GetKey)
		return nil
	}

	if opts.ServerMode {
		return runServer(opts, sh, tel, logger)
	}

	runInteractive(sh)
	return nil
}

// importFile writes the entries of path as cfg.Partitions partition files
func importFile(s *store.Store[[]byte, []byte], p partition.Partitioner[[]byte, []byte],
	cfg *config.Config, path string) (int, error) {

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()
		in = f
	}

	entries, err := readEntries(in)
	if err != nil {
		return 0, err
	}

	if err := writePartitions(context.Background(), s, p, cfg.OutputDir, cfg.Partitions, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// remoteGet looks up a single key on a running server
func remoteGet(opts *Options, out io.Writer) error {
	client, err := transport.NewClient(opts.Remote, transport.ClientOptions{
		TLS:     opts.TLS,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	value, err := client.Get(context.Background(), []byte(opts.GetKey))
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "Key not found")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", value)
	return nil
}
