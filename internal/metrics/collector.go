// Package metrics exposes cluster-wide Prometheus counters for the
// membership, SDFS and MapleJuice subsystems, served by internal/dashboard's
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this repository exports, registered against
// its own registry rather than the global default so tests can build
// independent collectors without colliding.
type Collector struct {
	registry *prometheus.Registry

	gossipMerges      *prometheus.CounterVec
	membershipGauge   *prometheus.GaugeVec
	sdfsOperations    *prometheus.CounterVec
	sdfsOpDuration    *prometheus.HistogramVec
	fileSyncQueueLen  prometheus.Gauge
	mapleTasksTotal   *prometheus.CounterVec
	juiceTasksTotal   *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

// NewCollector builds a Collector and registers all of its metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry}

	c.gossipMerges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpcluster",
		Subsystem: "gossip",
		Name:      "merges_total",
		Help:      "Count of membership merge outcomes by transition kind.",
	}, []string{"transition"})

	c.membershipGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mpcluster",
		Subsystem: "gossip",
		Name:      "nodes",
		Help:      "Current count of nodes by status.",
	}, []string{"status"})

	c.sdfsOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpcluster",
		Subsystem: "sdfs",
		Name:      "operations_total",
		Help:      "Count of SDFS client operations by kind and outcome.",
	}, []string{"op", "status"})

	c.sdfsOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mpcluster",
		Subsystem: "sdfs",
		Name:      "operation_duration_seconds",
		Help:      "SDFS client operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	c.fileSyncQueueLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mpcluster",
		Subsystem: "master",
		Name:      "filesync_waiters",
		Help:      "Total waiters currently queued across all FileSync entries.",
	})

	c.mapleTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpcluster",
		Subsystem: "maplejuice",
		Name:      "maple_tasks_total",
		Help:      "Count of MAPLE tasks dispatched by outcome.",
	}, []string{"status"})

	c.juiceTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpcluster",
		Subsystem: "maplejuice",
		Name:      "juice_tasks_total",
		Help:      "Count of JUICE tasks dispatched by outcome.",
	}, []string{"status"})

	c.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mpcluster",
		Subsystem: "maplejuice",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of a MAPLE or JUICE job, end to end.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	registry.MustRegister(
		c.gossipMerges,
		c.membershipGauge,
		c.sdfsOperations,
		c.sdfsOpDuration,
		c.fileSyncQueueLen,
		c.mapleTasksTotal,
		c.juiceTasksTotal,
		c.jobDuration,
	)
	return c
}

// Handler returns the http.Handler serving this collector's registry in the
// Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordGossipMerge increments the merge-outcome counter for transition
// (e.g. "alive_to_suspected", "suspected_to_failed", "no_change").
func (c *Collector) RecordGossipMerge(transition string) {
	c.gossipMerges.WithLabelValues(transition).Inc()
}

// SetMembershipCounts overwrites the current per-status node gauges.
func (c *Collector) SetMembershipCounts(alive, suspected, failed int) {
	c.membershipGauge.WithLabelValues("alive").Set(float64(alive))
	c.membershipGauge.WithLabelValues("suspected").Set(float64(suspected))
	c.membershipGauge.WithLabelValues("failed").Set(float64(failed))
}

// RecordSDFSOperation records an SDFS client call's outcome and latency.
func (c *Collector) RecordSDFSOperation(op string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	c.sdfsOperations.WithLabelValues(op, status).Inc()
	c.sdfsOpDuration.WithLabelValues(op).Observe(seconds)
}

// SetFileSyncWaiters reports the current total waiter-queue length across
// every tracked file.
func (c *Collector) SetFileSyncWaiters(n int) {
	c.fileSyncQueueLen.Set(float64(n))
}

// RecordMapleTask increments the MAPLE task counter for an outcome
// ("done" or "failed").
func (c *Collector) RecordMapleTask(status string) {
	c.mapleTasksTotal.WithLabelValues(status).Inc()
}

// RecordJuiceTask increments the JUICE task counter for an outcome.
func (c *Collector) RecordJuiceTask(status string) {
	c.juiceTasksTotal.WithLabelValues(status).Inc()
}

// RecordJobDuration records a completed job's end-to-end latency.
func (c *Collector) RecordJobDuration(phase string, seconds float64) {
	c.jobDuration.WithLabelValues(phase).Observe(seconds)
}
