package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordGossipMerge("alive_to_suspected")
	c.SetMembershipCounts(7, 1, 2)
	c.RecordSDFSOperation("put", true, 0.05)
	c.RecordMapleTask("done")
	c.RecordJuiceTask("failed")
	c.RecordJobDuration("maple", 1.5)
	c.SetFileSyncWaiters(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "mpcluster_gossip_merges_total"))
	require.True(t, strings.Contains(body, "mpcluster_sdfs_operations_total"))
	require.True(t, strings.Contains(body, "mpcluster_maplejuice_maple_tasks_total"))
	require.True(t, strings.Contains(body, "mpcluster_master_filesync_waiters 3"))
}
