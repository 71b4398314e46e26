package master

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectReplicasLowestLoadTieBreakByIndex(t *testing.T) {
	m := NewMetadata(10, "")
	// Give node 2 some load so it's no longer tied with 1/3/4.
	m.addFileRecord("existing.txt", 2)

	chosen, err := m.SelectReplicas([]int{1, 2, 3, 4}, 3)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 4}, chosen)
}

func TestSelectReplicasErrorsWhenNotEnoughAlive(t *testing.T) {
	m := NewMetadata(10, "")
	_, err := m.SelectReplicas([]int{1, 2}, 4)
	require.Error(t, err)
}

func TestPersistAndLoadMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.txt")

	m := NewMetadata(10, path)
	replicas, err := m.ResumePut([]int{1, 2, 3}, 3, "foo.txt")
	require.NoError(t, err)
	for _, r := range replicas {
		require.NoError(t, m.FileReceived("foo.txt", r))
	}

	loaded, err := LoadMetadata(10, path)
	require.NoError(t, err)
	require.ElementsMatch(t, replicas, loaded.Replicas("foo.txt"))
}

func TestLoadMetadataMissingFileIsEmpty(t *testing.T) {
	m, err := LoadMetadata(10, filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	require.False(t, m.Exists("anything"))
}
