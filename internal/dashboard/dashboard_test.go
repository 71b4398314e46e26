package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/membership"
	"mpcluster/internal/metrics"
)

type fakeStatus struct{ data map[string]interface{} }

func (f fakeStatus) Status() map[string]interface{} { return f.data }

type fakeMembership struct {
	entries []membership.Entry
	mode    membership.Mode
}

func (f fakeMembership) Entries() []membership.Entry { return f.entries }
func (f fakeMembership) Mode() membership.Mode        { return f.mode }

func TestHandleStatusReturnsProvidedSnapshot(t *testing.T) {
	s := New(fakeStatus{data: map[string]interface{}{"role": "master", "alive": 5}}, nil, nil,
		clusterlog.New(clusterlog.Options{Component: "dashboard-test"}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "master", body["role"])
}

func TestHandleMembershipReportsModeAndEntries(t *testing.T) {
	mp := fakeMembership{
		entries: []membership.Entry{{Hostname: "127.0.0.1", Port: 50001}},
		mode:    membership.ModeSuspicion,
	}
	s := New(fakeStatus{data: map[string]interface{}{}}, mp, nil,
		clusterlog.New(clusterlog.Options{Component: "dashboard-test"}))

	req := httptest.NewRequest(http.MethodGet, "/membership", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Suspicion", body["mode"])
}

func TestHandleMembershipWithoutProviderReturnsEmpty(t *testing.T) {
	s := New(fakeStatus{data: map[string]interface{}{}}, nil, nil,
		clusterlog.New(clusterlog.Options{Component: "dashboard-test"}))

	req := httptest.NewRequest(http.MethodGet, "/membership", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRouteServesPrometheusExposition(t *testing.T) {
	collector := metrics.NewCollector()
	s := New(fakeStatus{data: map[string]interface{}{}}, nil, collector,
		clusterlog.New(clusterlog.Options{Component: "dashboard-test"}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
