package datanode

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManifestPutGetRoundTrip(t *testing.T) {
	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest"))
	require.NoError(t, err)
	defer m.Close()

	now := time.Now().Truncate(time.Second)
	require.NoError(t, m.Put("foo.txt", 123, now, true))

	size, receivedAt, confirmed, err := m.Get("foo.txt")
	require.NoError(t, err)
	require.Equal(t, int64(123), size)
	require.True(t, confirmed)
	require.True(t, receivedAt.Equal(now))
}

func TestManifestListAndIsEmpty(t *testing.T) {
	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest"))
	require.NoError(t, err)
	defer m.Close()

	empty, err := m.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, m.Put("a.txt", 1, time.Now(), true))
	require.NoError(t, m.Put("b.txt", 2, time.Now(), true))

	names, err := m.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)

	empty, err = m.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)
}

func TestManifestRebuildFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.txt"), []byte("world"), 0o644))

	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest"))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.RebuildFromDir(dir))
	names, err := m.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x.txt", "y.txt"}, names)
}
