package datanode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/config"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

func testTopology(t *testing.T) *topology.Topology {
	cfg := config.Default()
	cfg.Hosts = []string{"127.0.0.1"}
	top, err := topology.New(cfg, 1)
	require.NoError(t, err)
	return top
}

func TestLocalPathStripsDirectoryComponents(t *testing.T) {
	top := testTopology(t)
	dn, err := New(top, t.TempDir(), nil, clusterlog.New(clusterlog.Options{Component: "datanode"}))
	require.NoError(t, err)

	path := dn.localPath("../../etc/passwd")
	require.Equal(t, filepath.Join(dn.filesDir, "passwd"), path)
}

func TestWriteThenReadFileRoundTripsThroughFraming(t *testing.T) {
	top := testTopology(t)
	dir := t.TempDir()
	dn, err := New(top, dir, nil, clusterlog.New(clusterlog.Options{Component: "datanode"}))
	require.NoError(t, err)

	payload := []byte("hello sdfs")
	var wireBuf bytes.Buffer
	require.NoError(t, wire.WriteFramed(&wireBuf, bytes.NewReader(payload)))

	path := dn.localPath("greeting.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, wire.ReadFramed(&wireBuf, f))
	require.NoError(t, f.Close())

	var out bytes.Buffer
	rf, err := os.Open(path)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(&out, rf))
	require.NoError(t, rf.Close())

	var roundTripped bytes.Buffer
	require.NoError(t, wire.ReadFramed(&out, &roundTripped))
	require.Equal(t, payload, roundTripped.Bytes())
}
