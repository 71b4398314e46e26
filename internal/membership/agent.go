package membership

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"mpcluster/internal/clusterlog"
)

// Agent runs the three cooperating gossip activities over one UDP socket:
// Gossiper, Listener and Timeout checker, matching spec.md §4.1 and §5.
type Agent struct {
	view   *View
	conn   *net.UDPConn
	log    *clusterlog.Logger
	dropRate float64

	introducerAddr *net.UDPAddr
	isIntroducer   bool

	snapshotPath string
	nodeCount    int
	indexResolver func(hostname string) (int, bool)
}

// Config configures one Agent instance.
type Config struct {
	ListenAddr     string // "host:port" for this process's gossip UDP socket
	Introducer     string // "host:port" of the well-known introducer
	IsIntroducer   bool
	DropRate       float64 // debug knob, probability a received datagram is dropped
	SnapshotPath   string  // file path for the alive-set export
	NodeCount      int

	// IndexResolver maps a peer's hostname to its fixed 1-based node index,
	// so AliveSet can recognize peers whose entries only become known once
	// gossiped in. Optional; nil disables index resolution for new peers.
	IndexResolver func(hostname string) (int, bool)
}

// NewAgent binds the UDP socket and returns a ready-to-run Agent.
func NewAgent(cfg Config, view *View, log *clusterlog.Logger) (*Agent, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("membership: resolving listen addr %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("membership: binding %q: %w", cfg.ListenAddr, err)
	}

	var introducerAddr *net.UDPAddr
	if !cfg.IsIntroducer {
		introducerAddr, err = net.ResolveUDPAddr("udp", cfg.Introducer)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("membership: resolving introducer addr %q: %w", cfg.Introducer, err)
		}
	}

	return &Agent{
		view:           view,
		conn:           conn,
		log:            log,
		dropRate:       cfg.DropRate,
		introducerAddr: introducerAddr,
		isIntroducer:   cfg.IsIntroducer,
		snapshotPath:   cfg.SnapshotPath,
		nodeCount:      cfg.NodeCount,
		indexResolver:  cfg.IndexResolver,
	}, nil
}

// Close releases the UDP socket.
func (a *Agent) Close() error {
	return a.conn.Close()
}

// Run starts the Gossiper, Listener and Timeout-checker loops and blocks
// until ctx is canceled or the local peer announces a voluntary leave.
func (a *Agent) Run(ctx context.Context) {
	if !a.isIntroducer {
		a.bootstrapToIntroducer()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{}, 3)
	go func() { a.listenLoop(ctx); done <- struct{}{} }()
	go func() { a.gossipLoop(ctx); done <- struct{}{} }()
	go func() { a.timeoutLoop(ctx); done <- struct{}{} }()

	select {
	case <-ctx.Done():
		<-done
	case <-done:
		// The gossiper returned after a voluntary leave; stop the others.
		cancel()
	}
	<-done
	<-done
}

// bootstrapToIntroducer sends the initial singleton view to the well-known
// introducer before entering the main loop, spec.md §4.1's Gossiper
// bootstrap step.
func (a *Agent) bootstrapToIntroducer() {
	self := a.view.Self()
	payload, err := EncodeDatagram([]Entry{self}, a.view.Mode())
	if err != nil {
		a.log.WithError(err).Error("membership: encoding bootstrap datagram")
		return
	}
	if _, err := a.conn.WriteToUDP(payload, a.introducerAddr); err != nil {
		a.log.WithError(err).Warn("membership: bootstrap send to introducer failed")
	}
}

func (a *Agent) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(TGossip)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.view.IncrementSelfHeartbeat()
			a.sendToFanout()
			if a.view.Self().HeartbeatCounter == 0 {
				return
			}
		}
	}
}

func (a *Agent) sendToFanout() {
	targets := a.selectFanout()
	if len(targets) == 0 {
		return
	}
	payload, err := EncodeDatagram(a.view.GossipPayload(), a.view.Mode())
	if err != nil {
		a.log.WithError(err).Error("membership: encoding gossip datagram")
		return
	}
	for _, addr := range targets {
		if _, err := a.conn.WriteToUDP(payload, addr); err != nil {
			a.log.WithError(err).Debug("membership: gossip send failed")
		}
	}
}

// selectFanout picks up to GossipFanout random non-self live run-IDs and
// resolves their UDP addresses via the view's entries.
func (a *Agent) selectFanout() []*net.UDPAddr {
	candidates := a.view.NonSelfAlive()
	if len(candidates) == 0 {
		return nil
	}
	shuffled := append([]string(nil), candidates...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := cryptoRandInt(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	n := GossipFanout
	if n > len(shuffled) {
		n = len(shuffled)
	}

	entries := a.view.Entries()
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byID[e.RunID()] = e
	}

	out := make([]*net.UDPAddr, 0, n)
	for _, id := range shuffled[:n] {
		e, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, &net.UDPAddr{IP: net.ParseIP(e.Hostname), Port: int(e.Port)})
	}
	return out
}

func cryptoRandInt(n int) int {
	if n <= 1 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func (a *Agent) listenLoop(ctx context.Context) {
	buf := make([]byte, MaxSlotsPerDatagram*SlotSize+1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		if a.shouldDrop() {
			continue
		}

		entries, mode, err := DecodeDatagram(buf[:n])
		if err != nil {
			a.log.WithError(err).Debug("membership: malformed datagram")
			continue
		}

		now := time.Now()
		if a.view.MaybeSwitchMode(mode, now) {
			a.log.Info("mode switch")
		}
		for _, e := range entries {
			if transitioned := a.view.Merge(e, now); transitioned {
				a.log.WithFields(map[string]interface{}{
					"peer": e.RunID(), "status": e.Status.String(),
				}).Info("membership transition")
			}
			if a.indexResolver != nil {
				if idx, ok := a.indexResolver(e.Hostname); ok {
					a.view.SetNodeIndex(e.RunID(), idx)
				}
			}
		}
		a.writeSnapshot()
	}
}

func (a *Agent) shouldDrop() bool {
	if a.dropRate <= 0 {
		return false
	}
	if a.dropRate >= 1 {
		return true
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return false
	}
	return float64(n.Int64())/1_000_000 < a.dropRate
}

func (a *Agent) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(TFail)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			transitioned, removed := a.view.AdvanceTimeouts(time.Now())
			for _, id := range transitioned {
				a.log.WithFields(map[string]interface{}{"peer": id}).Info("membership timeout transition")
			}
			for _, id := range removed {
				a.log.WithFields(map[string]interface{}{"peer": id}).Info("membership entry cleaned up")
			}
			if len(transitioned) > 0 || len(removed) > 0 {
				a.writeSnapshot()
			}
		}
	}
}

// writeSnapshot atomically replaces the alive-set export file consumed by
// C3/C6, spec.md §4.1's "Exported interface".
func (a *Agent) writeSnapshot() {
	if a.snapshotPath == "" {
		return
	}
	snapshot := a.view.AliveSnapshot(a.nodeCount)
	tmp := a.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, snapshot, 0o644); err != nil {
		a.log.WithError(err).Warn("membership: writing snapshot")
		return
	}
	if err := os.Rename(tmp, a.snapshotPath); err != nil {
		a.log.WithError(err).Warn("membership: renaming snapshot into place")
	}
}

// ReadSnapshot loads an alive-set snapshot written by writeSnapshot, for use
// by C3/C6 processes that only read the file.
func ReadSnapshot(path string) ([]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("membership: reading snapshot %s: %w", path, err)
	}
	out := make([]bool, len(data))
	for i, b := range data {
		out[i] = b == 1
	}
	return out, nil
}

// SnapshotDir ensures the parent directory of a snapshot path exists.
func SnapshotDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
