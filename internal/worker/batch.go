package worker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// streamRangeInBatches reads 1-based inclusive lines [start, end] from
// srcPath, grouping them into batches of at most batchSize lines. For each
// batch it writes a temp input file, calls process(inputPath, outputPath),
// and appends the contents of outputPath to sinkPath. This implements spec.md §4.5's Map
// task step 2 ("buffer into an input file of up to MAPLE_BATCH_SIZE=100
// lines... append output to a per-task sink file... flush the final
// partial batch").
func streamRangeInBatches(srcPath string, start, end, batchSize int, tmpDir, sinkPath string, process func(inputPath, outputPath string) error) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("worker: opening source file: %w", err)
	}
	defer src.Close()

	sink, err := os.Create(sinkPath)
	if err != nil {
		return fmt.Errorf("worker: creating sink file: %w", err)
	}
	defer sink.Close()

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	lineNo := 0
	batch := make([]string, 0, batchSize)
	batchNum := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batchNum++
		inputPath := filepath.Join(tmpDir, fmt.Sprintf("batch_%d_in", batchNum))
		outputPath := filepath.Join(tmpDir, fmt.Sprintf("batch_%d_out", batchNum))
		if err := os.WriteFile(inputPath, []byte(strings.Join(batch, "\n")+"\n"), 0o644); err != nil {
			return fmt.Errorf("worker: writing batch input: %w", err)
		}
		if err := process(inputPath, outputPath); err != nil {
			return err
		}
		out, err := os.ReadFile(outputPath)
		if err != nil {
			return fmt.Errorf("worker: reading batch output: %w", err)
		}
		if _, err := sink.Write(out); err != nil {
			return fmt.Errorf("worker: appending to sink: %w", err)
		}
		os.Remove(inputPath)
		os.Remove(outputPath)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		if lineNo < start {
			continue
		}
		if lineNo > end {
			break
		}
		batch = append(batch, scanner.Text())
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("worker: scanning source file: %w", err)
	}
	return flush()
}

// sortFileByKey sorts sinkPath's lines as whole strings (sort -o semantics)
// in place, which places lines sharing a comma-delimited key next to each
// other.
func sortFileByKey(sinkPath string) error {
	data, err := os.ReadFile(sinkPath)
	if err != nil {
		return fmt.Errorf("worker: reading sink for sort: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	sort.Strings(lines)
	return os.WriteFile(sinkPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// sanitizeKey replaces characters that can't appear in an SDFS filename,
// spec.md §4.5 step 4: "Sanitize keys (replace / with _)".
func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

// splitByKey scans a sorted sink file of "key,value" lines and writes one
// file per key named via namer(sanitizedKey), returning the (key, path)
// pairs produced, in first-seen order.
func splitByKey(sinkPath, tmpDir string, namer func(sanitizedKey string) string) ([]KeyFilePair, error) {
	f, err := os.Open(sinkPath)
	if err != nil {
		return nil, fmt.Errorf("worker: opening sorted sink: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var pairs []KeyFilePair
	files := make(map[string]*os.File)
	defer func() {
		for _, fh := range files {
			fh.Close()
		}
	}()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ',')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		sanitized := sanitizeKey(key)

		fh, ok := files[sanitized]
		if !ok {
			path := filepath.Join(tmpDir, namer(sanitized))
			fh, err = os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("worker: creating per-key file: %w", err)
			}
			files[sanitized] = fh
			pairs = append(pairs, KeyFilePair{Key: key, Path: path})
		}
		if _, err := fh.WriteString(line + "\n"); err != nil {
			return nil, fmt.Errorf("worker: writing per-key file: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// KeyFilePair is a (key, local path) pair produced by splitByKey before the
// caller puts each path into SDFS.
type KeyFilePair struct {
	Key  string
	Path string
}
