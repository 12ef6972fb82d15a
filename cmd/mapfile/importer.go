package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/store"
)

const maxLineSize = 16 * 1024 * 1024

// readEntries parses key<TAB>value lines. Blank lines and lines starting
// with # are skipped.
func readEntries(r io.Reader) ([]sortedfile.Entry[[]byte, []byte], error) {
	var entries []sortedfile.Entry[[]byte, []byte]

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		key, value, ok := bytes.Cut(line, []byte{'\t'})
		if !ok {
			return nil, fmt.Errorf("line %d: missing tab between key and value", lineNo)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}

		entries = append(entries, sortedfile.Entry[[]byte, []byte]{
			Key:   bytes.Clone(key),
			Value: bytes.Clone(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return entries, nil
}

// writePartitions distributes entries over numPartitions partition files in
// dir, one writer goroutine per partition. Every partition file is written,
// empty or not, so the set opens with the same count. If any partition
// fails, every partition is aborted and the directory is left without
// partition files.
func writePartitions(ctx context.Context, s *store.Store[[]byte, []byte], p partition.Partitioner[[]byte, []byte],
	dir string, numPartitions int, entries []sortedfile.Entry[[]byte, []byte]) error {

	buckets, err := partition.Assign(p, numPartitions, entries, bytes.Compare)
	if err != nil {
		return err
	}

	writers := make([]*store.PartitionWriter[[]byte, []byte], 0, len(buckets))
	abortAll := func() {
		for _, w := range writers {
			w.Abort()
		}
	}

	for i := range buckets {
		w, err := s.NewPartitionWriter(dir, i)
		if err != nil {
			abortAll()
			return err
		}
		writers = append(writers, w)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, bucket := range buckets {
		w := writers[i]
		eg.Go(func() error {
			for _, e := range bucket {
				if err := w.Write(e.Key, e.Value); err != nil {
					return fmt.Errorf("%s: %w", w.Name(), err)
				}
			}
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		abortAll()
		return err
	}

	// Finalize only once every partition has been written in full
	for i, w := range writers {
		if err := w.Close(); err != nil {
			for _, rest := range writers[i:] {
				rest.Abort()
			}
			removeFinalized(writers[:i])
			return fmt.Errorf("%s: %w", w.Name(), err)
		}
	}

	return nil
}

func removeFinalized(writers []*store.PartitionWriter[[]byte, []byte]) {
	for _, w := range writers {
		os.Remove(w.Path())
	}
}
