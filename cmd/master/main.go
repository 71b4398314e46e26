// Command master runs the C3 SDFS master: file placement, replica
// metadata, and per-file reader/writer synchronization, per spec.md §4.3.
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
	"mpcluster/internal/master"
	"mpcluster/internal/membership"
	"mpcluster/internal/metrics"
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
		Use:   "master",
		Short: "run the SDFS master",
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
			log := clusterlog.New(clusterlog.Options{Component: "master", Node: strconv.Itoa(idx)})

			if snapshotPath == "" {
				snapshotPath = filepath.Join(cfg.DataDir, "membership")
			}
			metaPath := filepath.Join(cfg.DataDir, "node-"+strconv.Itoa(idx), "metadata")
			if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
				return err
			}
			meta, err := master.LoadMetadata(top.NodeCount(), metaPath)
			if err != nil {
				return err
			}

			alive := snapshotAlive{path: snapshotPath}
			srv := master.NewServer(meta, alive, cfg.SDFS.ReplicationFactor, log)

			if monitor && cfg.Monitoring.Enabled {
				collector := metrics.NewCollector()
				dash := dashboard.New(masterStatus{top: top, meta: meta, alive: alive}, nil, collector, log)
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Monitoring.HTTPPort)
					if err := dash.Run(addr); err != nil {
						log.WithError(err).Warn("master: dashboard server stopped")
					}
				}()
			}

			clientAddr, err := top.AddrFor(idx, cfg.Ports.ClientToMaster)
			if err != nil {
				return err
			}
			datanodeAddr, err := top.AddrFor(idx, cfg.Ports.DatanodeToMaster)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 2)
			go func() { errCh <- srv.ServeClients(clientAddr) }()
			go func() { errCh <- srv.ServeDatanodes(datanodeAddr) }()

			select {
			case <-sigChan:
				log.Info("master: shutdown signal received")
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

// snapshotAlive adapts the gossip agent's on-disk alive-set snapshot (spec.md
// §4.1's exported interface) to master.AliveProvider, avoiding any direct
// coupling between the master and membership processes.
type snapshotAlive struct {
	path string
}

func (s snapshotAlive) AliveSet() ([]int, error) {
	bits, err := membership.ReadSnapshot(s.path)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(bits))
	for i, alive := range bits {
		if alive {
			out = append(out, i+1)
		}
	}
	return out, nil
}

type masterStatus struct {
	top   *topology.Topology
	meta  *master.Metadata
	alive snapshotAlive
}

func (s masterStatus) Status() map[string]interface{} {
	aliveSet, _ := s.alive.AliveSet()
	return map[string]interface{}{
		"role":      "master",
		"node":      s.top.SelfIndex(),
		"alive_set": aliveSet,
	}
}
