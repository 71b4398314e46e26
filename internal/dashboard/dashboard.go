// Package dashboard exposes a read-only HTTP surface for a running
// process: node status, a membership-view dump, a live event stream and
// Prometheus metrics. It never participates in the gossip, SDFS or
// MapleJuice protocols — it only observes state the caller hands it.
package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/membership"
	"mpcluster/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusProvider supplies the node-identity/role/FileSync/job snapshot for
// GET /status. Each binary (master, datanode, worker, leader) implements
// this with whatever counters it tracks.
type StatusProvider interface {
	Status() map[string]interface{}
}

// MembershipProvider supplies the local membership view for GET /membership
// and the periodic websocket push.
type MembershipProvider interface {
	Entries() []membership.Entry
	Mode() membership.Mode
}

// Server wires the dashboard's gin router to a process's status/membership
// sources and its metrics collector.
type Server struct {
	router     *gin.Engine
	status     StatusProvider
	membership MembershipProvider
	metrics    *metrics.Collector
	log        *clusterlog.Logger
}

// New builds a Server. membership and metricsCollector may be nil — a
// process that doesn't track one simply won't serve that endpoint's data.
func New(status StatusProvider, membershipView MembershipProvider, metricsCollector *metrics.Collector, log *clusterlog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:     gin.New(),
		status:     status,
		membership: membershipView,
		metrics:    metricsCollector,
		log:        log,
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/membership", s.handleMembership)
	s.router.GET("/ws", s.handleWebSocket)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Run binds addr and serves until the listener fails or the process exits.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) handleMembership(c *gin.Context) {
	if s.membership == nil {
		c.JSON(http.StatusOK, gin.H{"entries": gin.H{}, "mode": "unknown"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": s.membership.Entries(),
		"mode":    s.membership.Mode().String(),
	})
}

// handleWebSocket streams a periodic status + membership snapshot, the
// same ticker-push pattern the teacher uses for its ring visualization.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.snapshot("initial")); err != nil {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot("heartbeat")); err != nil {
			return
		}
	}
}

func (s *Server) snapshot(eventType string) gin.H {
	out := gin.H{
		"type":      eventType,
		"timestamp": time.Now().Unix(),
		"status":    s.status.Status(),
	}
	if s.membership != nil {
		out["membership"] = gin.H{
			"entries": s.membership.Entries(),
			"mode":    s.membership.Mode().String(),
		}
	}
	return out
}
