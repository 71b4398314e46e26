package sdfsclient

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/config"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

// fakeDatanode accepts GET_MASTER (always replies index 1), WRITE_FILE
// (reads the framed payload and replies confirmation) and READ_FILE
// (streams back whatever was last written) so sdfsclient can be exercised
// end to end without internal/datanode.
func fakeDatanode(t *testing.T, addr string) (string, func()) {
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	var lastPayload []byte
	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				op, err := wire.ReadU8(conn)
				if err != nil {
					return
				}
				switch op {
				case opGetMaster:
					wire.WriteU8(conn, 1)
				case opWriteFile:
					_, err := wire.ReadString(conn)
					if err != nil {
						return
					}
					var buf []byte
					w := &sliceWriter{buf: &buf}
					if err := wire.ReadFramed(conn, w); err != nil {
						return
					}
					lastPayload = buf
					wire.WriteConfirmation(conn)
				case opReadFile:
					_, err := wire.ReadString(conn)
					if err != nil {
						return
					}
					wire.WriteFramed(conn, newByteReader(lastPayload))
				}
			}()
		}
	}()
	go func() { <-done }()
	return ln.Addr().String(), func() { close(done); ln.Close() }
}

func fakeMaster(t *testing.T, addr string, replicaIndex byte) func() {
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				op, err := wire.ReadU8(conn)
				if err != nil {
					return
				}
				switch op {
				case opPutReq, opGetReq, opLsReq:
					if op != opLsReq {
						if _, err := wire.ReadU8(conn); err != nil { // client_id
							return
						}
					}
					if op == opPutReq {
						if _, err := wire.ReadI32(conn); err != nil { // N
							return
						}
					}
					if _, err := wire.ReadString(conn); err != nil {
						return
					}
				}
				switch op {
				case opPutReq, opLsReq:
					wire.WriteU8Slice(conn, []byte{replicaIndex})
				case opGetReq:
					wire.WriteU8(conn, replicaIndex)
				}
			}()
		}
	}()
	return func() { ln.Close() }
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func newByteReader(b []byte) io.Reader {
	cp := append([]byte(nil), b...)
	return &sliceReader{buf: cp}
}

type sliceReader struct {
	buf []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

func testClient(t *testing.T) (*Client, *topology.Topology) {
	cfg := config.Default()
	cfg.Hosts = []string{"127.0.0.1"}
	cfg.Ports.Datanode = 0
	cfg.Ports.ClientToMaster = 0
	top, err := topology.New(cfg, 1)
	require.NoError(t, err)
	return New(top, clusterlog.New(clusterlog.Options{Component: "sdfsclient"})), top
}

func TestPutGetRoundTrip(t *testing.T) {
	// Bind fixed ports so topology's fixed-port AddrFor resolves them.
	cfg := config.Default()
	cfg.Hosts = []string{"127.0.0.1"}
	cfg.Ports.Datanode = 48333
	cfg.Ports.ClientToMaster = 42339
	top, err := topology.New(cfg, 1)
	require.NoError(t, err)
	client := New(top, clusterlog.New(clusterlog.Options{Component: "sdfsclient"}))

	_, stopDN := fakeDatanode(t, "127.0.0.1:48333")
	defer stopDN()
	stopMaster := fakeMaster(t, "127.0.0.1:42339", 1)
	defer stopMaster()

	dir := t.TempDir()
	localIn := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(localIn, []byte("hello sdfs"), 0o644))

	confirmed, err := client.Put(localIn, "remote.txt", 1)
	require.NoError(t, err)
	require.Equal(t, []int{1}, confirmed)

	localOut := filepath.Join(dir, "out.txt")
	require.NoError(t, client.Get("remote.txt", localOut))

	data, err := os.ReadFile(localOut)
	require.NoError(t, err)
	require.Equal(t, "hello sdfs", string(data))

	replicas, err := client.Ls("remote.txt")
	require.NoError(t, err)
	require.Equal(t, []int{1}, replicas)
}

func TestGetReturnsErrorWhenFileNotFound(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts = []string{"127.0.0.1"}
	cfg.Ports.Datanode = 48334
	cfg.Ports.ClientToMaster = 42340
	top, err := topology.New(cfg, 1)
	require.NoError(t, err)
	client := New(top, clusterlog.New(clusterlog.Options{Component: "sdfsclient"}))

	_, stopDN := fakeDatanode(t, "127.0.0.1:48334")
	defer stopDN()
	stopMaster := fakeMaster(t, "127.0.0.1:42340", 0)
	defer stopMaster()

	err = client.Get("missing.txt", filepath.Join(t.TempDir(), "out.txt"))
	require.Error(t, err)
}
