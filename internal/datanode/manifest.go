package datanode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// manifestRecord is the JSON value stored per filename key in the LevelDB
// manifest: an operational index alongside the plain file bytes on disk,
// never a second source of truth for file presence (SPEC_FULL.md [C2]).
type manifestRecord struct {
	Size       int64     `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
	Confirmed  bool      `json:"confirmed"`
}

// Manifest is a LevelDB-backed local file index for a datanode, used by
// the dashboard's /status endpoint and ListLocal so large file counts don't
// require a directory scan on every call.
type Manifest struct {
	db *leveldb.DB
}

// OpenManifest opens (creating if absent) a LevelDB manifest at dbPath.
func OpenManifest(dbPath string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("datanode: creating manifest dir: %w", err)
	}
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		db, err = leveldb.RecoverFile(dbPath, nil)
		if err != nil {
			return nil, fmt.Errorf("datanode: recovering corrupt manifest: %w", err)
		}
	}
	return &Manifest{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Put records or updates a filename's manifest entry.
func (m *Manifest) Put(filename string, size int64, receivedAt time.Time, confirmed bool) error {
	rec := manifestRecord{Size: size, ReceivedAt: receivedAt, Confirmed: confirmed}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("datanode: marshaling manifest record: %w", err)
	}
	return m.db.Put([]byte(filename), data, nil)
}

// Get looks up a filename's manifest entry.
func (m *Manifest) Get(filename string) (size int64, receivedAt time.Time, confirmed bool, err error) {
	data, err := m.db.Get([]byte(filename), nil)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	var rec manifestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, time.Time{}, false, err
	}
	return rec.Size, rec.ReceivedAt, rec.Confirmed, nil
}

// List returns every filename currently tracked in the manifest.
func (m *Manifest) List() ([]string, error) {
	iter := m.db.NewIterator(nil, nil)
	defer iter.Release()

	var out []string
	for iter.Next() {
		out = append(out, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// RebuildFromDir repopulates the manifest from a directory listing, used on
// startup if the manifest is absent or empty (SPEC_FULL.md [C2]: "rebuilt
// from a directory listing on startup if absent").
func (m *Manifest) RebuildFromDir(filesDir string) error {
	entries, err := os.ReadDir(filesDir)
	if err != nil {
		return fmt.Errorf("datanode: scanning files dir for rebuild: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if err := m.Put(e.Name(), info.Size(), info.ModTime(), true); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the manifest currently tracks no files.
func (m *Manifest) IsEmpty() (bool, error) {
	names, err := m.List()
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}
