// Package datanode implements C2: a TCP server that stores file bytes and
// serves read/write requests, informing the master on completion, per
// spec.md §4.2.
package datanode

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

// Client-facing opcodes, spec.md §4.2.
const (
	OpGetMaster byte = 1
	OpWriteFile byte = 2
	OpReadFile  byte = 3
)

// Master-facing opcodes (datanode -> master acknowledgements), matching
// internal/master's Server dispatch.
const (
	opFileReceived byte = 1
	opFileSent     byte = 2
)

// Datanode serves file storage for one node.
type Datanode struct {
	selfIndex int
	filesDir  string
	top       *topology.Topology
	manifest  *Manifest
	log       *clusterlog.Logger

	mu         sync.Mutex
	masterIdx  int // 0 = not yet resolved
	probeTimeout time.Duration
}

// New builds a Datanode rooted at filesDir for local file storage.
func New(top *topology.Topology, filesDir string, manifest *Manifest, log *clusterlog.Logger) (*Datanode, error) {
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("datanode: creating files dir %s: %w", filesDir, err)
	}
	return &Datanode{
		selfIndex:    top.SelfIndex(),
		filesDir:     filesDir,
		top:          top,
		manifest:     manifest,
		log:          log,
		probeTimeout: 2 * time.Second,
	}, nil
}

// Serve accepts connections on addr until the listener is closed.
func (d *Datanode) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("datanode: listening on %s: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.handleConn(conn)
	}
}

func (d *Datanode) handleConn(conn net.Conn) {
	defer conn.Close()
	op, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	switch op {
	case OpGetMaster:
		d.handleGetMaster(conn)
	case OpWriteFile:
		d.handleWriteFile(conn)
	case OpReadFile:
		d.handleReadFile(conn)
	default:
		d.log.WithField("op", op).Warn("datanode: unknown opcode")
	}
}

func (d *Datanode) handleGetMaster(conn net.Conn) {
	idx, err := d.resolveMaster()
	if err != nil {
		d.log.WithError(err).Warn("datanode: resolving master")
		wire.WriteU8(conn, 0)
		return
	}
	wire.WriteU8(conn, byte(idx))
}

// resolveMaster probes nodes in ascending index order over TCP and caches
// the first reachable as the master, spec.md §4.2's GET_MASTER behavior.
func (d *Datanode) resolveMaster() (int, error) {
	d.mu.Lock()
	if d.masterIdx != 0 {
		defer d.mu.Unlock()
		return d.masterIdx, nil
	}
	d.mu.Unlock()

	port := d.top.Config().Ports.ClientToMaster
	for i := 1; i <= d.top.NodeCount(); i++ {
		addr, err := d.top.AddrFor(i, port)
		if err != nil {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, d.probeTimeout)
		if err != nil {
			continue
		}
		conn.Close()
		d.mu.Lock()
		d.masterIdx = i
		d.mu.Unlock()
		return i, nil
	}
	return 0, fmt.Errorf("datanode: no reachable master among %d nodes", d.top.NodeCount())
}

func (d *Datanode) handleWriteFile(conn net.Conn) {
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	path := d.localPath(filename)
	f, err := os.Create(path)
	if err != nil {
		d.log.WithError(err).Warn("datanode: creating local file")
		return
	}

	if err := wire.ReadFramed(conn, f); err != nil {
		f.Close()
		d.log.WithError(err).Warn("datanode: receiving file bytes")
		return
	}
	info, statErr := f.Stat()
	f.Close()
	if statErr != nil {
		return
	}

	if err := wire.WriteConfirmation(conn); err != nil {
		return
	}

	if d.manifest != nil {
		d.manifest.Put(filename, info.Size(), time.Now(), true)
	}

	if err := d.reportToMaster(opFileReceived, filename); err != nil {
		d.log.WithError(err).Warn("datanode: reporting file_received to master")
	}
}

func (d *Datanode) handleReadFile(conn net.Conn) {
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	path := d.localPath(filename)
	f, err := os.Open(path)
	if err != nil {
		d.log.WithError(err).Warn("datanode: opening local file for read")
		return
	}
	defer f.Close()

	if err := wire.WriteFramed(conn, f); err != nil {
		d.log.WithError(err).Warn("datanode: streaming file bytes")
		return
	}

	if err := d.reportToMaster(opFileSent, filename); err != nil {
		d.log.WithError(err).Warn("datanode: reporting file_sent to master")
	}
}

func (d *Datanode) reportToMaster(op byte, filename string) error {
	masterIdx, err := d.resolveMaster()
	if err != nil {
		return err
	}
	addr, err := d.top.AddrFor(masterIdx, d.top.Config().Ports.DatanodeToMaster)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("datanode: dialing master at %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, op); err != nil {
		return err
	}
	if err := wire.WriteString(conn, filename); err != nil {
		return err
	}
	return wire.WriteI32(conn, int32(d.selfIndex))
}

func (d *Datanode) localPath(filename string) string {
	return filepath.Join(d.filesDir, filepath.Base(filename))
}

// ListLocal returns the filenames this datanode currently stores, served
// from the manifest index when available (spec.md §4.4's list_local, per
// SPEC_FULL.md's [C2] supplement), falling back to a directory scan.
func (d *Datanode) ListLocal() ([]string, error) {
	if d.manifest != nil {
		names, err := d.manifest.List()
		if err == nil {
			return names, nil
		}
	}
	entries, err := os.ReadDir(d.filesDir)
	if err != nil {
		return nil, fmt.Errorf("datanode: scanning files dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
