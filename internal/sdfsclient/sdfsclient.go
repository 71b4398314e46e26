// Package sdfsclient implements C4: the single put/get/ls
// implementation used by the interactive SDFS client, internal/worker, and
// internal/leader for all of their SDFS I/O, per spec.md §4.4.
package sdfsclient

import (
	"fmt"
	"net"
	"os"
	"sync"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

// Master-facing opcodes, matching internal/master's dispatch.
const (
	opPutReq byte = 1
	opGetReq byte = 2
	opLsReq  byte = 3
)

// Datanode-facing opcodes, matching internal/datanode's dispatch.
const (
	opGetMaster byte = 1
	opWriteFile byte = 2
	opReadFile  byte = 3
)

// Client is the SDFS client library.
type Client struct {
	top      *topology.Topology
	log      *clusterlog.Logger
	clientID byte
}

// New builds an SDFS Client bound to a cluster topology. The client_id sent
// with every PUT/GET, spec.md §6, is this process's own node index.
func New(top *topology.Topology, log *clusterlog.Logger) *Client {
	return &Client{top: top, log: log, clientID: byte(top.SelfIndex())}
}

func (c *Client) masterAddr() (string, error) {
	masterIdx, err := c.resolveMaster()
	if err != nil {
		return "", err
	}
	return c.top.AddrFor(masterIdx, c.top.Config().Ports.ClientToMaster)
}

// resolveMaster probes datanodes for the current master index, the same
// ascending-probe contract spec.md §4.2 assigns to datanodes, reused here
// since the client has no other discovery mechanism.
func (c *Client) resolveMaster() (int, error) {
	for i := 1; i <= c.top.NodeCount(); i++ {
		addr, err := c.top.AddrFor(i, c.top.Config().Ports.Datanode)
		if err != nil {
			continue
		}
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			continue
		}
		if err := wire.WriteU8(conn, opGetMaster); err != nil {
			conn.Close()
			continue
		}
		idx, err := wire.ReadU8(conn)
		conn.Close()
		if err != nil || idx == 0 {
			continue
		}
		return int(idx), nil
	}
	return 0, fmt.Errorf("sdfsclient: no datanode could resolve a master")
}

// Put requests N=replicationFactor replicas from the master, streams local
// to every assigned datanode in parallel, and returns the subset of
// datanode indices that confirmed receipt, per spec.md §4.4.
func (c *Client) Put(local, remote string, replicationFactor int) ([]int, error) {
	masterAddr, err := c.masterAddr()
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return nil, fmt.Errorf("sdfsclient: dialing master: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, opPutReq); err != nil {
		return nil, err
	}
	if err := wire.WriteU8(conn, c.clientID); err != nil {
		return nil, err
	}
	if err := wire.WriteI32(conn, int32(replicationFactor)); err != nil {
		return nil, err
	}
	if err := wire.WriteString(conn, remote); err != nil {
		return nil, err
	}
	replicas, err := wire.ReadU8Slice(conn)
	if err != nil {
		return nil, fmt.Errorf("sdfsclient: reading replica assignment: %w", err)
	}
	if len(replicas) == 0 {
		return nil, fmt.Errorf("sdfsclient: master assigned zero replicas")
	}

	var mu sync.Mutex
	var confirmed []int
	var wg sync.WaitGroup
	for _, r := range replicas {
		r := int(r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.writeToDatanode(r, local, remote) {
				mu.Lock()
				confirmed = append(confirmed, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return confirmed, nil
}

func (c *Client) writeToDatanode(nodeIdx int, local, remote string) bool {
	addr, err := c.top.AddrFor(nodeIdx, c.top.Config().Ports.Datanode)
	if err != nil {
		return false
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()

	f, err := os.Open(local)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := wire.WriteU8(conn, opWriteFile); err != nil {
		return false
	}
	if err := wire.WriteString(conn, remote); err != nil {
		return false
	}
	if err := wire.WriteFramed(conn, f); err != nil {
		return false
	}
	ok, err := wire.ReadConfirmation(conn)
	return err == nil && ok
}

// Get requests one replica from the master and streams it into a freshly
// truncated local file, per spec.md §4.4.
func (c *Client) Get(remote, local string) error {
	masterAddr, err := c.masterAddr()
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return fmt.Errorf("sdfsclient: dialing master: %w", err)
	}
	if err := wire.WriteU8(conn, opGetReq); err != nil {
		conn.Close()
		return err
	}
	if err := wire.WriteU8(conn, c.clientID); err != nil {
		conn.Close()
		return err
	}
	if err := wire.WriteString(conn, remote); err != nil {
		conn.Close()
		return err
	}
	idx, err := wire.ReadU8(conn)
	conn.Close()
	if err != nil {
		return fmt.Errorf("sdfsclient: reading replica assignment: %w", err)
	}
	if idx == 0 {
		return fmt.Errorf("sdfsclient: file %q not found", remote)
	}

	addr, err := c.top.AddrFor(int(idx), c.top.Config().Ports.Datanode)
	if err != nil {
		return err
	}
	dconn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("sdfsclient: dialing datanode %d: %w", idx, err)
	}
	defer dconn.Close()

	if err := wire.WriteU8(dconn, opReadFile); err != nil {
		return err
	}
	if err := wire.WriteString(dconn, remote); err != nil {
		return err
	}

	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("sdfsclient: truncating local file %s: %w", local, err)
	}
	defer out.Close()
	return wire.ReadFramed(dconn, out)
}

// Ls asks the master for the replica list storing remote.
func (c *Client) Ls(remote string) ([]int, error) {
	masterAddr, err := c.masterAddr()
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return nil, fmt.Errorf("sdfsclient: dialing master: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, opLsReq); err != nil {
		return nil, err
	}
	if err := wire.WriteString(conn, remote); err != nil {
		return nil, err
	}
	replicas, err := wire.ReadU8Slice(conn)
	if err != nil {
		return nil, fmt.Errorf("sdfsclient: reading replica list: %w", err)
	}
	out := make([]int, len(replicas))
	for i, r := range replicas {
		out[i] = int(r)
	}
	return out, nil
}
