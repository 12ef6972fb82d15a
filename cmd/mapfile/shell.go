package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/stats"
	"github.com/KevoDB/mapfile/pkg/store"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".partitions"),
	readline.PcItem("GET"),
	readline.PcItem("PART"),
	readline.PcItem("SCAN"),
)

const helpText = `
mapfile - A reader for partitioned sorted key/value files.

Usage:
  mapfile [options] [directory]  - Start with an optional partition directory

Commands (interactive mode only):
  .help                   - Show this help message
  .open DIR               - Open the partition set in DIR
  .close                  - Close the current partition set
  .exit                   - Exit the program
  .stats                  - Show lookup statistics
  .partitions             - List the open partitions

  GET key                 - Look up a key in its partition
  PART key                - Show which partition a key routes to
  SCAN                    - Scan every partition in order
  SCAN n                  - Scan partition n
`

// shell executes interactive commands against one open partition set
type shell struct {
	store       *store.Store[[]byte, []byte]
	partitioner partition.Partitioner[[]byte, []byte]
	readers     store.Readers[[]byte, []byte]
	dir         string
	out         io.Writer
}

func newShell(s *store.Store[[]byte, []byte], p partition.Partitioner[[]byte, []byte], out io.Writer) *shell {
	return &shell{store: s, partitioner: p, out: out}
}

func (sh *shell) open(dir string) error {
	readers, err := sh.store.OpenAll(context.Background(), dir)
	if err != nil {
		return err
	}
	if sh.readers != nil {
		sh.readers.Close()
	}
	sh.readers = readers
	sh.dir = dir
	return nil
}

func (sh *shell) close() error {
	if sh.readers == nil {
		return nil
	}
	err := sh.readers.Close()
	sh.readers = nil
	sh.dir = ""
	return err
}

func (sh *shell) prompt() string {
	if sh.dir != "" {
		return fmt.Sprintf("mapfile:%s> ", sh.dir)
	}
	return "mapfile> "
}

// execute runs one command line and reports whether the shell should exit
func (sh *shell) execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(sh.out, helpText)

		case ".open":
			if len(parts) < 2 {
				fmt.Fprintln(sh.out, "Error: Missing directory argument")
				return false
			}
			if err := sh.open(parts[1]); err != nil {
				fmt.Fprintf(sh.out, "Error opening partitions: %s\n", err)
				return false
			}
			fmt.Fprintf(sh.out, "Opened %d partitions from %s\n", len(sh.readers), sh.dir)

		case ".close":
			if sh.readers == nil {
				fmt.Fprintln(sh.out, "No partitions open")
				return false
			}
			dir := sh.dir
			if err := sh.close(); err != nil {
				fmt.Fprintf(sh.out, "Error closing partitions: %s\n", err)
				return false
			}
			fmt.Fprintf(sh.out, "Partitions in %s closed\n", dir)

		case ".exit":
			sh.close()
			fmt.Fprintln(sh.out, "Goodbye!")
			return true

		case ".stats":
			sh.printStats()

		case ".partitions":
			if sh.readers == nil {
				fmt.Fprintln(sh.out, "No partitions open")
				return false
			}
			for i, r := range sh.readers {
				fmt.Fprintf(sh.out, "%d\t%s\t%d entries\t%d index entries\t%s\n",
					i, filepath.Base(r.Path()), r.NumEntries(), r.IndexLen(), r.Codec())
			}

		default:
			fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
		}
		return false
	}

	switch cmd {
	case "GET":
		if len(parts) != 2 {
			fmt.Fprintln(sh.out, "Error: GET requires exactly one key")
			return false
		}
		value, err := sh.store.Lookup(context.Background(), sh.readers, sh.partitioner, []byte(parts[1]), nil)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fmt.Fprintln(sh.out, "Key not found")
		case err != nil:
			fmt.Fprintf(sh.out, "Error: %s\n", err)
		default:
			fmt.Fprintf(sh.out, "%s\n", value)
		}

	case "PART":
		if len(parts) != 2 {
			fmt.Fprintln(sh.out, "Error: PART requires exactly one key")
			return false
		}
		if len(sh.readers) == 0 {
			fmt.Fprintln(sh.out, "No partitions open")
			return false
		}
		i := sh.partitioner.Partition([]byte(parts[1]), nil, len(sh.readers))
		fmt.Fprintf(sh.out, "%d (%s)\n", i, partition.Name(i))

	case "SCAN":
		sh.scan(parts[1:])

	default:
		fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
	}
	return false
}

func (sh *shell) scan(args []string) {
	if sh.readers == nil {
		fmt.Fprintln(sh.out, "No partitions open")
		return
	}

	readers := sh.readers
	if len(args) > 0 {
		i, err := strconv.Atoi(args[0])
		if err != nil || i < 0 || i >= len(sh.readers) {
			fmt.Fprintf(sh.out, "Error: partition must be in [0, %d)\n", len(sh.readers))
			return
		}
		readers = readers[i : i+1]
	}

	start := time.Now()
	count := 0
	for _, r := range readers {
		for e, err := range r.All() {
			if err != nil {
				fmt.Fprintf(sh.out, "Error: %s\n", err)
				return
			}
			fmt.Fprintf(sh.out, "%s: %s\n", e.Key, e.Value)
			count++
		}
	}
	elapsed := time.Since(start)
	sh.store.Stats().TrackOperationWithLatency(stats.OpScan, uint64(elapsed.Nanoseconds()))
	fmt.Fprintf(sh.out, "%d entries (%s)\n", count, elapsed)
}

func (sh *shell) printStats() {
	st := sh.store.Stats().GetStats()

	getUint64 := func(key string) uint64 {
		if v, ok := st[key].(uint64); ok {
			return v
		}
		return 0
	}

	fmt.Fprintln(sh.out, "Lookups:")
	fmt.Fprintf(sh.out, "  Total: %d (Hits: %d, Misses: %d)\n",
		getUint64("lookup_ops"), getUint64("lookup_hits"), getUint64("lookup_misses"))
	if latency, ok := st["lookup_latency"].(map[string]interface{}); ok {
		if avgNs, ok := latency["avg_ns"].(uint64); ok {
			fmt.Fprintf(sh.out, "  Avg latency: %.3f ms\n", float64(avgNs)/1e6)
		}
	}

	fmt.Fprintf(sh.out, "  Scans: %d\n", getUint64("scan_ops"))

	fmt.Fprintln(sh.out, "Partitions:")
	fmt.Fprintf(sh.out, "  Open: %d\n", getUint64("open_partitions"))
	fmt.Fprintf(sh.out, "  Files finalized: %d (%d entries)\n",
		getUint64("files_finalized"), getUint64("entries_finalized"))

	if errs, ok := st["errors"].(map[string]uint64); ok && len(errs) > 0 {
		fmt.Fprintln(sh.out, "Errors:")
		for name, n := range errs {
			fmt.Fprintf(sh.out, "  %s: %d\n", name, n)
		}
	}
}

// runInteractive starts the interactive command line
func runInteractive(sh *shell) {
	fmt.Println("mapfile version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".mapfile_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if sh.execute(line) {
			return
		}
	}

	sh.close()
}
