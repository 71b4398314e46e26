// Package leader implements C6: job orchestration for MapleJuice — parsing
// client requests, partitioning work, dispatching to workers, and
// coalescing per-worker results back into SDFS, per spec.md §4.6.
package leader

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/sdfsclient"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
	"mpcluster/internal/worker"
)

// Client-facing request types, matching worker.TaskMaple/TaskJuice for the
// same MAPLE_TYPE_ID/JUICE_TYPE_ID convention, plus a leader-only SQL verb.
const (
	ReqMaple byte = 0
	ReqJuice byte = 1
	ReqSQL   byte = 2
)

// Client reply status bytes, spec.md §4.6.
const (
	ReplySuccess byte = 1
	ReplyError   byte = 0
)

// sqlFilterExe is the SDFS name of the built-in filter executable the SQL
// command dispatches through, spec.md §4.6's "built-in filter executable".
const sqlFilterExe = "builtin_sql_filter"

// AliveProvider supplies the current alive-set (1-based indices), the same
// interface internal/membership.View satisfies.
type AliveProvider interface {
	AliveSet() []int
}

// Leader orchestrates MapleJuice jobs.
type Leader struct {
	top   *topology.Topology
	sdfs  *sdfsclient.Client
	alive AliveProvider
	jobs  *JobState
	log   *clusterlog.Logger
	tmpDir string
}

// New builds a Leader.
func New(top *topology.Topology, sdfs *sdfsclient.Client, alive AliveProvider, log *clusterlog.Logger, tmpDir string) *Leader {
	return &Leader{top: top, sdfs: sdfs, alive: alive, jobs: NewJobState(), log: log, tmpDir: tmpDir}
}

// ServeClients accepts client job requests on addr.
func (l *Leader) ServeClients(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("leader: listening for clients on %s: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go l.handleClientConn(conn)
	}
}

// ServeWorkers accepts worker replies on addr.
func (l *Leader) ServeWorkers(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("leader: listening for workers on %s: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go l.handleWorkerConn(conn)
	}
}

func (l *Leader) handleClientConn(conn net.Conn) {
	defer conn.Close()
	reqType, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	switch reqType {
	case ReqMaple:
		l.handleMapleRequest(conn)
	case ReqJuice:
		l.handleJuiceRequest(conn)
	case ReqSQL:
		l.handleSQLRequest(conn)
	default:
		wire.WriteU8(conn, ReplyError)
	}
}

func (l *Leader) handleWorkerConn(conn net.Conn) {
	defer conn.Close()
	replyType, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	switch replyType {
	case worker.ReplyMapleDone:
		l.handleMapleReply(conn)
	case worker.ReplyJuiceDone:
		l.handleJuiceReply(conn)
	default:
		l.log.WithField("reply_type", replyType).Warn("leader: unknown worker reply type")
	}
}

// availableWorkers selects n workers from the alive-set, excluding the
// leader's own index, per spec.md §4.6 step 2.
func (l *Leader) availableWorkers(n int) ([]int, error) {
	alive := l.alive.AliveSet()
	candidates := make([]int, 0, len(alive))
	for _, idx := range alive {
		if idx != l.top.SelfIndex() {
			candidates = append(candidates, idx)
		}
	}
	sort.Ints(candidates)
	if len(candidates) < n {
		return nil, fmt.Errorf("leader: not enough available nodes: need %d, have %d", n, len(candidates))
	}
	return candidates[:n], nil
}

func (l *Leader) handleMapleRequest(conn net.Conn) {
	n32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	exe, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	interPrefix, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	src, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	customParams, err := wire.ReadCustomParams(conn)
	if err != nil {
		return
	}

	if err := l.dispatchMaple(int(n32), exe, interPrefix, src, customParams); err != nil {
		l.log.WithError(err).Warn("leader: maple dispatch failed")
		wire.WriteU8(conn, ReplyError)
		return
	}
	wire.WriteU8(conn, ReplySuccess)
}

// dispatchMaple implements spec.md §4.6's "Handle MAPLE request" steps 1-6.
func (l *Leader) dispatchMaple(n int, exe, interPrefix, src string, customParams []string) error {
	workers, err := l.availableWorkers(n)
	if err != nil {
		return err
	}

	localSrc := filepath.Join(l.tmpDir, "mjsrc_"+uuid.NewString())
	if err := l.sdfs.Get(src, localSrc); err != nil {
		return fmt.Errorf("leader: fetching source %q: %w", src, err)
	}
	defer os.Remove(localSrc)

	rawLines, err := countLines(localSrc)
	if err != nil {
		return err
	}
	totalLines, err := ValidateLineCount(rawLines)
	if err != nil {
		return err
	}

	ranges := PartitionLines(totalLines, n)
	for i, w := range workers {
		if err := l.dispatchMapleTask(w, ranges[i], exe, interPrefix, src, customParams); err != nil {
			return fmt.Errorf("leader: dispatching to worker %d: %w", w, err)
		}
	}
	l.jobs.StartJob(interPrefix, workers)
	return nil
}

func (l *Leader) dispatchMapleTask(workerIdx int, rng LineRange, exe, interPrefix, src string, customParams []string) error {
	addr, err := l.top.AddrFor(workerIdx, l.top.Config().Ports.LeaderToWorker)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("leader: dialing worker %d: %w", workerIdx, err)
	}
	defer conn.Close()

	wire.WriteU8(conn, worker.TaskMaple)
	wire.WriteI32(conn, int32(workerIdx))
	wire.WriteI32(conn, int32(rng.Start))
	wire.WriteI32(conn, int32(rng.End))
	wire.WriteString(conn, exe)
	wire.WriteString(conn, interPrefix)
	wire.WriteString(conn, src)
	return wire.WriteCustomParams(conn, customParams)
}

func (l *Leader) handleMapleReply(conn net.Conn) {
	workerIdx32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	interPrefix, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	keyFiles, err := wire.ReadKeyFiles(conn)
	if err != nil {
		return
	}
	workerIdx := int(workerIdx32)

	for _, kf := range keyFiles {
		l.jobs.AppendPartial(interPrefix, kf.Key, kf.Filename)
		l.jobs.RecordKeySeen(interPrefix, kf.Key)
	}

	if done := l.jobs.CompleteWorker(interPrefix, workerIdx); done {
		if err := l.coalesceMapleJob(interPrefix); err != nil {
			l.log.WithError(err).Warn("leader: coalescing maple job")
		}
	}
}

// coalesceMapleJob implements spec.md §4.6's MAPLE-reply coalescing step:
// for each key belonging to this job, get every partial, concatenate, put
// the coalesced file back, and record it in job_keys.
func (l *Leader) coalesceMapleJob(interPrefix string) error {
	keys := l.jobs.TakeKeysSeen(interPrefix)
	partials := l.jobs.TakePartialsForJob(interPrefix, keys)

	var coalesced []string
	for key, files := range partials {
		outName := fmt.Sprintf("%s_%s", interPrefix, key)
		localPath := filepath.Join(l.tmpDir, "coalesce_"+uuid.NewString())
		if err := l.concatenateSDFSFiles(files, localPath); err != nil {
			return err
		}
		if _, err := l.sdfs.Put(localPath, outName, l.top.Config().SDFS.ReplicationFactor); err != nil {
			os.Remove(localPath)
			return fmt.Errorf("leader: putting coalesced file %q: %w", outName, err)
		}
		os.Remove(localPath)
		coalesced = append(coalesced, outName)
	}
	l.jobs.AppendJobKeys(interPrefix, coalesced)
	return nil
}

// concatenateSDFSFiles gets each SDFS filename in turn and appends its
// bytes into localPath.
func (l *Leader) concatenateSDFSFiles(sdfsNames []string, localPath string) error {
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("leader: creating concat target: %w", err)
	}
	defer out.Close()

	for _, name := range sdfsNames {
		tmp := localPath + ".part"
		if err := l.sdfs.Get(name, tmp); err != nil {
			return fmt.Errorf("leader: fetching partial %q: %w", name, err)
		}
		in, err := os.Open(tmp)
		if err != nil {
			return err
		}
		if _, err := copyAll(out, in); err != nil {
			in.Close()
			return err
		}
		in.Close()
		os.Remove(tmp)
	}
	return nil
}

func (l *Leader) handleJuiceRequest(conn net.Conn) {
	n32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	exe, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	interPrefix, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	finalOutput, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	_, err = wire.ReadU8(conn) // delete_input, unused by the leader itself
	if err != nil {
		return
	}

	if err := l.dispatchJuice(int(n32), exe, interPrefix, finalOutput); err != nil {
		l.log.WithError(err).Warn("leader: juice dispatch failed")
		wire.WriteU8(conn, ReplyError)
		return
	}
	wire.WriteU8(conn, ReplySuccess)
}

// dispatchJuice implements spec.md §4.6's "Handle JUICE request" steps 1-5.
func (l *Leader) dispatchJuice(n int, exe, interPrefix, finalOutput string) error {
	keys, ok := l.jobs.JobKeys(interPrefix)
	if !ok || len(keys) == 0 {
		return fmt.Errorf("leader: no coalesced keys for inter_prefix %q", interPrefix)
	}

	partitions := PartitionKeys(keys, n)
	workers, err := l.availableWorkers(len(partitions))
	if err != nil {
		return err
	}

	for i, w := range workers {
		if err := l.dispatchJuiceTask(w, interPrefix, finalOutput, exe, partitions[i]); err != nil {
			return fmt.Errorf("leader: dispatching to worker %d: %w", w, err)
		}
	}
	l.jobs.StartJob(finalOutput, workers)
	return nil
}

func (l *Leader) dispatchJuiceTask(workerIdx int, interPrefix, finalOutput, exe string, keys []string) error {
	addr, err := l.top.AddrFor(workerIdx, l.top.Config().Ports.LeaderToWorker)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("leader: dialing worker %d: %w", workerIdx, err)
	}
	defer conn.Close()

	wire.WriteU8(conn, worker.TaskJuice)
	wire.WriteI32(conn, int32(workerIdx))
	wire.WriteString(conn, interPrefix)
	wire.WriteString(conn, finalOutput)
	wire.WriteString(conn, exe)
	return wire.WriteString(conn, strings.Join(keys, ","))
}

func (l *Leader) handleJuiceReply(conn net.Conn) {
	workerIdx32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	finalOutput, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	sdfsName, err := wire.ReadString(conn)
	if err != nil {
		return
	}

	l.jobs.AppendReducePartial(finalOutput, sdfsName)
	if done := l.jobs.CompleteWorker(finalOutput, int(workerIdx32)); done {
		if err := l.coalesceJuiceJob(finalOutput); err != nil {
			l.log.WithError(err).Warn("leader: coalescing juice job")
		}
	}
}

// coalesceJuiceJob implements spec.md §4.6's JUICE-reply coalescing step.
func (l *Leader) coalesceJuiceJob(finalOutput string) error {
	partials := l.jobs.TakeReducePartials(finalOutput)
	localPath := filepath.Join(l.tmpDir, "coalesce_"+uuid.NewString())
	if err := l.concatenateSDFSFiles(partials, localPath); err != nil {
		return err
	}
	defer os.Remove(localPath)
	if _, err := l.sdfs.Put(localPath, finalOutput, l.top.Config().SDFS.ReplicationFactor); err != nil {
		return fmt.Errorf("leader: putting final output %q: %w", finalOutput, err)
	}
	return nil
}

// handleSQLRequest implements spec.md §4.6's SQL command: a single MAPLE
// invocation using the built-in filter executable with the regex as its
// sole custom parameter, no reduce step.
func (l *Leader) handleSQLRequest(conn net.Conn) {
	n32, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	src, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	regex, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	dst, err := wire.ReadString(conn)
	if err != nil {
		return
	}

	if err := l.dispatchMaple(int(n32), sqlFilterExe, dst, src, []string{regex}); err != nil {
		l.log.WithError(err).Warn("leader: sql dispatch failed")
		wire.WriteU8(conn, ReplyError)
		return
	}
	wire.WriteU8(conn, ReplySuccess)
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("leader: opening %s for line count: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
