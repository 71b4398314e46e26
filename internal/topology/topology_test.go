package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mpcluster/internal/config"
)

func testConfig() *config.Cluster {
	cfg := config.Default()
	cfg.Hosts = []string{"h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8", "h9", "h10"}
	return cfg
}

func TestNewRejectsOutOfRangeIndex(t *testing.T) {
	_, err := New(testConfig(), 0)
	require.Error(t, err)
	_, err = New(testConfig(), 11)
	require.Error(t, err)
}

func TestIsLeaderMatchesConfiguredLeaderIndex(t *testing.T) {
	cfg := testConfig()
	cfg.MapleJuice.LeaderIndex = 1

	leader, err := New(cfg, 1)
	require.NoError(t, err)
	require.True(t, leader.IsLeader())

	other, err := New(cfg, 2)
	require.NoError(t, err)
	require.False(t, other.IsLeader())
}

func TestAddrForBuildsHostPort(t *testing.T) {
	top, err := New(testConfig(), 3)
	require.NoError(t, err)
	addr, err := top.AddrFor(3, 38333)
	require.NoError(t, err)
	require.Equal(t, "h3:38333", addr)
}

func TestAllExcludingSelfOmitsSelfIndex(t *testing.T) {
	top, err := New(testConfig(), 4)
	require.NoError(t, err)
	peers := top.AllExcludingSelf()
	require.Len(t, peers, 9)
	for _, p := range peers {
		require.NotEqual(t, 4, p)
	}
}
