// Package worker implements C5: the per-node map/reduce task executor,
// per spec.md §4.5.
package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/sdfsclient"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

// Task types dispatched by the leader, matching the original's
// MAPLE_TYPE_ID=0 / JUICE_TYPE_ID=1.
const (
	TaskMaple byte = 0
	TaskJuice byte = 1
)

// Reply opcodes sent back to the leader, matching WL_MAPLE_DONE /
// WL_JUICE_DONE.
const (
	ReplyMapleDone byte = 1
	ReplyJuiceDone byte = 2
)

// Worker executes map/reduce tasks dispatched by the leader.
type Worker struct {
	top       *topology.Topology
	sdfs      *sdfsclient.Client
	log       *clusterlog.Logger
	batchSize int
	tmpDir    string
}

// New builds a Worker.
func New(top *topology.Topology, sdfs *sdfsclient.Client, log *clusterlog.Logger, tmpDir string) *Worker {
	return &Worker{
		top:       top,
		sdfs:      sdfs,
		log:       log,
		batchSize: top.Config().MapleJuice.BatchSize,
		tmpDir:    tmpDir,
	}
}

// Serve accepts leader dispatches on addr until the listener is closed.
func (w *Worker) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("worker: listening on %s: %w", addr, err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go w.handleConn(conn)
	}
}

func (w *Worker) handleConn(conn net.Conn) {
	defer conn.Close()
	taskType, err := wire.ReadU8(conn)
	if err != nil {
		return
	}
	switch taskType {
	case TaskMaple:
		w.handleMapleTask(conn)
	case TaskJuice:
		w.handleJuiceTask(conn)
	default:
		w.log.WithField("task_type", taskType).Warn("worker: unknown task type")
	}
}

func (w *Worker) handleMapleTask(conn net.Conn) {
	workerIdx, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	rangeStart, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	rangeEnd, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	mapExe, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	interPrefix, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	srcFilename, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	customParams, err := wire.ReadCustomParams(conn)
	if err != nil {
		return
	}

	pairs, err := w.runMapleTask(context.Background(), int(workerIdx), int(rangeStart), int(rangeEnd), mapExe, interPrefix, srcFilename, customParams)
	if err != nil {
		w.log.WithError(err).Warn("worker: maple task failed")
		return
	}

	wire.WriteU8(conn, ReplyMapleDone)
	wire.WriteI32(conn, workerIdx)
	wire.WriteString(conn, interPrefix)
	wire.WriteKeyFiles(conn, pairs)
}

// runMapleTask implements spec.md §4.5's Map task steps 1-6.
func (w *Worker) runMapleTask(ctx context.Context, workerIdx, rangeStart, rangeEnd int, mapExe, interPrefix, srcFilename string, customParams []string) ([]wire.KeyFile, error) {
	taskDir, err := os.MkdirTemp(w.tmpDir, "maple_*")
	if err != nil {
		return nil, fmt.Errorf("worker: creating task temp dir: %w", err)
	}
	defer os.RemoveAll(taskDir)

	localSrc := filepath.Join(taskDir, "src")
	if err := w.sdfs.Get(srcFilename, localSrc); err != nil {
		return nil, fmt.Errorf("worker: fetching source %q: %w", srcFilename, err)
	}
	localExe := filepath.Join(taskDir, "exe")
	if err := w.sdfs.Get(mapExe, localExe); err != nil {
		return nil, fmt.Errorf("worker: fetching map executable %q: %w", mapExe, err)
	}

	sinkPath := filepath.Join(taskDir, "sink")
	process := func(inputPath, outputPath string) error {
		return runExecutable(ctx, localExe, inputPath, outputPath, customParams)
	}
	if err := streamRangeInBatches(localSrc, rangeStart, rangeEnd, w.batchSize, taskDir, sinkPath, process); err != nil {
		return nil, err
	}
	if err := sortFileByKey(sinkPath); err != nil {
		return nil, err
	}

	localPairs, err := splitByKey(sinkPath, taskDir, func(sanitized string) string {
		return fmt.Sprintf("%s_%d_%s", interPrefix, workerIdx, sanitized)
	})
	if err != nil {
		return nil, err
	}

	out := make([]wire.KeyFile, 0, len(localPairs))
	for _, p := range localPairs {
		remoteName := filepath.Base(p.Path)
		if _, err := w.sdfs.Put(p.Path, remoteName, w.top.Config().SDFS.ReplicationFactor); err != nil {
			return nil, fmt.Errorf("worker: putting per-key file %q: %w", remoteName, err)
		}
		out = append(out, wire.KeyFile{Key: p.Key, Filename: remoteName})
	}
	return out, nil
}

func (w *Worker) handleJuiceTask(conn net.Conn) {
	workerIdx, err := wire.ReadI32(conn)
	if err != nil {
		return
	}
	// inter_prefix is part of the dispatch contract (spec.md §4.5 Reduce
	// task inputs) but the Reduce task and its reply never reference it.
	_, err = wire.ReadString(conn)
	if err != nil {
		return
	}
	finalOutput, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	reduceExe, err := wire.ReadString(conn)
	if err != nil {
		return
	}
	keyFilesCSV, err := wire.ReadString(conn)
	if err != nil {
		return
	}

	sdfsName, err := w.runJuiceTask(context.Background(), int(workerIdx), finalOutput, reduceExe, strings.Split(keyFilesCSV, ","))
	if err != nil {
		w.log.WithError(err).Warn("worker: juice task failed")
		return
	}

	wire.WriteU8(conn, ReplyJuiceDone)
	wire.WriteI32(conn, workerIdx)
	wire.WriteString(conn, finalOutput)
	wire.WriteString(conn, sdfsName)
}

// runJuiceTask implements spec.md §4.5's Reduce task steps 1-4.
func (w *Worker) runJuiceTask(ctx context.Context, workerIdx int, finalOutput, reduceExe string, keyFilenames []string) (string, error) {
	taskDir, err := os.MkdirTemp(w.tmpDir, "juice_*")
	if err != nil {
		return "", fmt.Errorf("worker: creating task temp dir: %w", err)
	}
	defer os.RemoveAll(taskDir)

	localExe := filepath.Join(taskDir, "exe")
	if err := w.sdfs.Get(reduceExe, localExe); err != nil {
		return "", fmt.Errorf("worker: fetching reduce executable %q: %w", reduceExe, err)
	}

	sinkPath := filepath.Join(taskDir, "sink")
	sink, err := os.Create(sinkPath)
	if err != nil {
		return "", fmt.Errorf("worker: creating reduce sink: %w", err)
	}
	sink.Close()

	for i, keyFilename := range keyFilenames {
		keyFilename = strings.TrimSpace(keyFilename)
		if keyFilename == "" {
			continue
		}
		localKeyFile := filepath.Join(taskDir, fmt.Sprintf("key_%d", i))
		if err := w.sdfs.Get(keyFilename, localKeyFile); err != nil {
			return "", fmt.Errorf("worker: fetching key file %q: %w", keyFilename, err)
		}

		partialOut := filepath.Join(taskDir, fmt.Sprintf("partial_%d", i))
		if err := runExecutable(ctx, localExe, localKeyFile, partialOut, nil); err != nil {
			return "", err
		}
		if err := appendFile(sinkPath, partialOut); err != nil {
			return "", err
		}
		os.Remove(localKeyFile)
		os.Remove(partialOut)
	}

	remoteName := fmt.Sprintf("%s_%d", finalOutput, workerIdx)
	if _, err := w.sdfs.Put(sinkPath, remoteName, w.top.Config().SDFS.ReplicationFactor); err != nil {
		return "", fmt.Errorf("worker: putting reduce sink: %w", err)
	}
	return remoteName, nil
}

func appendFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("worker: opening partial output: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("worker: opening sink for append: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
