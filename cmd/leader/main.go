// Command leader runs the C6 MapleJuice leader: the fixed orchestrator that
// partitions work, dispatches map/reduce tasks to workers, and coalesces
// per-worker partials into final SDFS outputs, per spec.md §4.6.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/config"
	"mpcluster/internal/dashboard"
	"mpcluster/internal/leader"
	"mpcluster/internal/membership"
	"mpcluster/internal/metrics"
	"mpcluster/internal/sdfsclient"
	"mpcluster/internal/topology"
)

func main() {
	var (
		configPath   string
		idFile       string
		nodeIndex    int
		snapshotPath string
		monitor      bool
	)

	root := &cobra.Command{
		Use:   "leader",
		Short: "run the fixed MapleJuice leader",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			idx := nodeIndex
			if idx == 0 {
				idx, err = config.ReadNodeIndex(idFile)
				if err != nil {
					return err
				}
			}
			top, err := topology.New(cfg, idx)
			if err != nil {
				return err
			}
			if !top.IsLeader() {
				return fmt.Errorf("leader: node %d is not the configured leader (node %d)", idx, top.LeaderIndex())
			}
			log := clusterlog.New(clusterlog.Options{Component: "leader", Node: strconv.Itoa(idx)})

			if snapshotPath == "" {
				snapshotPath = filepath.Join(cfg.DataDir, "membership")
			}
			tmpDir := filepath.Join(cfg.DataDir, "node-"+strconv.Itoa(idx), "tmp")
			if err := os.MkdirAll(tmpDir, 0o755); err != nil {
				return err
			}

			client := sdfsclient.New(top, log)
			alive := snapshotAlive{path: snapshotPath, log: log}
			l := leader.New(top, client, alive, log, tmpDir)

			if monitor && cfg.Monitoring.Enabled {
				collector := metrics.NewCollector()
				dash := dashboard.New(leaderStatus{top: top, alive: alive}, nil, collector, log)
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Monitoring.HTTPPort)
					if err := dash.Run(addr); err != nil {
						log.WithError(err).Warn("leader: dashboard server stopped")
					}
				}()
			}

			clientAddr, err := top.AddrFor(idx, cfg.Ports.ClientToLeader)
			if err != nil {
				return err
			}
			workerAddr, err := top.AddrFor(idx, cfg.Ports.WorkerToLeader)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 2)
			go func() { errCh <- l.ServeClients(clientAddr) }()
			go func() { errCh <- l.ServeWorkers(workerAddr) }()

			select {
			case <-sigChan:
				log.Info("leader: shutdown signal received")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to cluster.yaml")
	root.Flags().StringVar(&idFile, "id-file", "node.id", "path to this node's persisted index file")
	root.Flags().IntVar(&nodeIndex, "node-id", 0, "this node's 1-based index (overrides --id-file)")
	root.Flags().StringVar(&snapshotPath, "snapshot", "", "path to the gossip alive-set snapshot file")
	root.Flags().BoolVar(&monitor, "monitor", true, "serve the read-only status/metrics dashboard")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// snapshotAlive adapts the gossip agent's on-disk alive-set snapshot to
// leader.AliveProvider, which has no error return — a stale or missing
// snapshot just yields an empty alive-set until the gossip process catches
// up, logged once per occurrence rather than surfaced to the caller.
type snapshotAlive struct {
	path string
	log  *clusterlog.Logger
}

func (s snapshotAlive) AliveSet() []int {
	bits, err := membership.ReadSnapshot(s.path)
	if err != nil {
		s.log.WithError(err).Debug("leader: reading alive-set snapshot")
		return nil
	}
	out := make([]int, 0, len(bits))
	for i, alive := range bits {
		if alive {
			out = append(out, i+1)
		}
	}
	return out
}

type leaderStatus struct {
	top   *topology.Topology
	alive snapshotAlive
}

func (s leaderStatus) Status() map[string]interface{} {
	return map[string]interface{}{
		"role":      "leader",
		"node":      s.top.SelfIndex(),
		"alive_set": s.alive.AliveSet(),
	}
}
