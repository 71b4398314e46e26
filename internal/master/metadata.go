// Package master implements the SDFS master (C3): metadata ownership,
// replica placement, and per-file reader/writer synchronization, per
// spec.md §4.3.
package master

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// OpKind distinguishes a queued file operation.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// FileState is a FileSync's current admission state, spec.md §3.
type FileState int

const (
	Free FileState = iota
	Reading
	Writing
)

// Waiter is one queued operation awaiting a wakeup.
type Waiter struct {
	Kind OpKind
	Wake chan struct{}
}

// FileSync is the per-file synchronization record, spec.md §3.
type FileSync struct {
	State FileState
	Ops   map[int]bool // datanode indices currently executing the in-flight op
	Queue []*Waiter
}

func newFileSync() *FileSync {
	return &FileSync{State: Free, Ops: make(map[int]bool)}
}

// Metadata owns files_storage, datanode_usage and files_sync under one
// lock, spec.md §5: "one lock per master covering files_storage,
// datanode_usage, files_sync."
type Metadata struct {
	mu            sync.Mutex
	filesStorage  map[string][]int      // filename -> sorted datanode indices
	datanodeUsage map[int]map[string]bool // datanode index -> set of filenames
	filesSync     map[string]*FileSync
	nodeCount     int
	metaPath      string
}

// NewMetadata creates an empty Metadata for a cluster of nodeCount nodes,
// persisting to metaPath (newline-delimited "filename:node" records, per
// SPEC_FULL.md/spec.md §3 persistence semantics).
func NewMetadata(nodeCount int, metaPath string) *Metadata {
	usage := make(map[int]map[string]bool, nodeCount)
	for i := 1; i <= nodeCount; i++ {
		usage[i] = make(map[string]bool)
	}
	return &Metadata{
		filesStorage:  make(map[string][]int),
		datanodeUsage: usage,
		filesSync:     make(map[string]*FileSync),
		nodeCount:     nodeCount,
		metaPath:      metaPath,
	}
}

// LoadMetadata rebuilds Metadata from a persisted "filename:node" file, or
// returns an empty Metadata if the file does not exist yet.
func LoadMetadata(nodeCount int, metaPath string) (*Metadata, error) {
	m := NewMetadata(nodeCount, metaPath)
	f, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("master: opening metadata file %s: %w", metaPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		filename := parts[0]
		var idx int
		if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil {
			continue
		}
		m.addFileRecord(filename, idx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("master: reading metadata file %s: %w", metaPath, err)
	}
	return m, nil
}

// addFileRecord records filename as stored on datanode idx, without taking
// the lock: callers either hold m.mu (FileReceived) or run during startup
// load before the Metadata is shared.
func (m *Metadata) addFileRecord(filename string, idx int) {
	if !m.datanodeUsage[idx][filename] {
		m.datanodeUsage[idx][filename] = true
		m.filesStorage[filename] = append(m.filesStorage[filename], idx)
		sort.Ints(m.filesStorage[filename])
	}
	if _, ok := m.filesSync[filename]; !ok {
		m.filesSync[filename] = newFileSync()
	}
}

// persist rewrites the metadata file from the current in-memory state.
// Called with the lock held.
func (m *Metadata) persist() error {
	if m.metaPath == "" {
		return nil
	}
	var sb strings.Builder
	names := make([]string, 0, len(m.filesStorage))
	for name := range m.filesStorage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, idx := range m.filesStorage[name] {
			fmt.Fprintf(&sb, "%s:%d\n", name, idx)
		}
	}
	tmp := m.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("master: writing metadata: %w", err)
	}
	return os.Rename(tmp, m.metaPath)
}

// Exists reports whether filename has any registered replicas.
func (m *Metadata) Exists(filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.filesStorage[filename]
	return ok
}

// Replicas returns a sorted copy of filename's current replica indices.
func (m *Metadata) Replicas(filename string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int(nil), m.filesStorage[filename]...)
	return out
}

// loadOf returns datanode idx's current file count, used for
// lowest-load replica selection. Called with the lock held.
func (m *Metadata) loadOf(idx int) int {
	return len(m.datanodeUsage[idx])
}

// SelectReplicas picks n distinct alive datanodes with the lowest current
// load, ties broken by ascending index, per spec.md §4.3's PUT placement
// rule.
func (m *Metadata) SelectReplicas(alive []int, n int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(alive) < n {
		return nil, fmt.Errorf("master: only %d alive nodes, need %d replicas", len(alive), n)
	}
	candidates := append([]int(nil), alive...)
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := m.loadOf(candidates[i]), m.loadOf(candidates[j])
		if li != lj {
			return li < lj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[:n], nil
}
