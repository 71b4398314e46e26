package master

import (
	"fmt"
	"net"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/wire"
)

// Client-facing opcodes, spec.md §4.3/§6.
const (
	OpPutReq OpCode = 1
	OpGetReq OpCode = 2
	OpLsReq  OpCode = 3
)

// Datanode-facing opcodes.
const (
	OpFileReceived OpCode = 1
	OpFileSent     OpCode = 2
)

// OpCode is a single-byte request discriminator.
type OpCode = byte

// AliveProvider supplies the current alive-set (1-based indices) for
// replica selection — backed by internal/membership's snapshot file.
type AliveProvider interface {
	AliveSet() ([]int, error)
}

// Server runs the master's client and datanode TCP listeners.
type Server struct {
	meta  *Metadata
	alive AliveProvider
	rf    int // replication factor
	log   *clusterlog.Logger
}

// NewServer builds a master Server.
func NewServer(meta *Metadata, alive AliveProvider, replicationFactor int, log *clusterlog.Logger) *Server {
	return &Server{meta: meta, alive: alive, rf: replicationFactor, log: log}
}

// ServeClients accepts client connections on addr until the listener is
// closed.
func (s *Server) ServeClients(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("master: listening for clients on %s: %w", addr, err)
	}
	s.log.WithField("addr", addr).Info("master_elected")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleClientConn(conn)
	}
}

// ServeDatanodes accepts datanode acknowledgement connections on addr until
// the listener is closed.
func (s *Server) ServeDatanodes(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("master: listening for datanodes on %s: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleDatanodeConn(conn)
	}
}

func (s *Server) handleClientConn(conn net.Conn) {
	defer conn.Close()
	op, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	switch op {
	case OpPutReq:
		s.handlePut(conn)
	case OpGetReq:
		s.handleGet(conn)
	case OpLsReq:
		s.handleLs(conn)
	default:
		s.log.WithField("op", op).Warn("master: unknown client opcode")
	}
}

func (s *Server) handleDatanodeConn(conn net.Conn) {
	defer conn.Close()
	op, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	idx32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	idx := int(idx32)

	switch op {
	case OpFileReceived:
		if err := s.meta.FileReceived(filename, idx); err != nil {
			s.log.WithError(err).Warn("master: file_received")
		}
	case OpFileSent:
		if err := s.meta.FileSent(filename, idx); err != nil {
			s.log.WithError(err).Warn("master: file_sent")
		}
	default:
		s.log.WithField("op", op).Warn("master: unknown datanode opcode")
	}
}

func (s *Server) handlePut(conn net.Conn) {
	_, err := wire.ReadU8(conn) // client_id, spec.md §6 PUT format
	if err != nil {
		return
	}
	n32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	n := int(n32)
	if n <= 0 {
		n = s.rf
	}

	waiter, err := s.meta.RequestPut(nil, n, filename)
	if err != nil {
		s.replyError(conn)
		return
	}
	if waiter != nil {
		<-waiter.Wake
	}

	alive, err := s.alive.AliveSet()
	if err != nil {
		s.replyError(conn)
		return
	}
	replicas, err := s.meta.ResumePut(alive, n, filename)
	if err != nil {
		s.replyError(conn)
		return
	}

	idxBytes := make([]byte, len(replicas))
	for i, r := range replicas {
		idxBytes[i] = byte(r)
	}
	wire.WriteU8Slice(conn, idxBytes)
}

func (s *Server) handleGet(conn net.Conn) {
	_, err := wire.ReadU8(conn) // client_id, spec.md §6 GET format
	if err != nil {
		return
	}
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}

	waiter, found := s.meta.RequestGet(filename)
	if !found {
		wire.WriteU8(conn, 0)
		return
	}
	if waiter != nil {
		<-waiter.Wake
	}

	chosen, err := s.meta.ResumeGet(filename)
	if err != nil {
		s.replyError(conn)
		return
	}
	wire.WriteU8(conn, byte(chosen))
}

func (s *Server) handleLs(conn net.Conn) {
	filename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	replicas := s.meta.Replicas(filename)
	idxBytes := make([]byte, len(replicas))
	for i, r := range replicas {
		idxBytes[i] = byte(r)
	}
	wire.WriteU8Slice(conn, idxBytes)
}

func (s *Server) replyError(conn net.Conn) {
	wire.WriteU8(conn, 0)
}
