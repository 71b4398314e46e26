// Package topology resolves a process's 1-based node index within the fixed
// ten-host cluster and answers peer-address questions for every other
// component. The host list and leader index come from internal/config; this
// package just centralizes the index/address arithmetic every component
// needs (the original implementation repeats this logic inline in each
// binary via a local get_vm_id()).
package topology

import (
	"fmt"
	"net"
	"strconv"

	"mpcluster/internal/config"
)

// Topology is a resolved view of the cluster's fixed membership for one
// local process.
type Topology struct {
	cfg       *config.Cluster
	selfIndex int // 1-based
}

// New builds a Topology for the given 1-based self index.
func New(cfg *config.Cluster, selfIndex int) (*Topology, error) {
	if selfIndex < 1 || selfIndex > cfg.NodeCount() {
		return nil, fmt.Errorf("topology: self index %d out of range [1,%d]", selfIndex, cfg.NodeCount())
	}
	return &Topology{cfg: cfg, selfIndex: selfIndex}, nil
}

// SelfIndex returns this process's 1-based node index.
func (t *Topology) SelfIndex() int {
	return t.selfIndex
}

// SelfHost returns this process's hostname.
func (t *Topology) SelfHost() string {
	host, _ := t.cfg.HostFor(t.selfIndex)
	return host
}

// IsLeader reports whether this process occupies the fixed MapleJuice
// leader slot.
func (t *Topology) IsLeader() bool {
	return t.selfIndex == t.cfg.MapleJuice.LeaderIndex
}

// LeaderIndex returns the fixed 1-based leader node index.
func (t *Topology) LeaderIndex() int {
	return t.cfg.MapleJuice.LeaderIndex
}

// LeaderAddr returns the leader's client-facing TCP address.
func (t *Topology) LeaderAddr(port int) (string, error) {
	return t.AddrFor(t.cfg.MapleJuice.LeaderIndex, port)
}

// NodeCount returns the number of fixed peers.
func (t *Topology) NodeCount() int {
	return t.cfg.NodeCount()
}

// AddrFor returns "host:port" for a 1-based node index and a given port.
func (t *Topology) AddrFor(index int, port int) (string, error) {
	host, err := t.cfg.HostFor(index)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// AllExcludingSelf returns the 1-based indexes of every peer other than
// this process, in ascending order.
func (t *Topology) AllExcludingSelf() []int {
	out := make([]int, 0, t.cfg.NodeCount()-1)
	for i := 1; i <= t.cfg.NodeCount(); i++ {
		if i != t.selfIndex {
			out = append(out, i)
		}
	}
	return out
}

// Config returns the underlying cluster configuration.
func (t *Topology) Config() *config.Cluster {
	return t.cfg
}
