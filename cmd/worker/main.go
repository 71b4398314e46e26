// Command worker runs the C5 MapleJuice worker: it accepts map/reduce task
// dispatches from the leader, invokes the caller-supplied executable, and
// reports per-key results, per spec.md §4.5.
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
	"mpcluster/internal/metrics"
	"mpcluster/internal/sdfsclient"
	"mpcluster/internal/topology"
	"mpcluster/internal/worker"
)

func main() {
	var (
		configPath string
		idFile     string
		nodeIndex  int
		monitor    bool
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "run a MapleJuice worker",
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
			log := clusterlog.New(clusterlog.Options{Component: "worker", Node: strconv.Itoa(idx)})

			tmpDir := filepath.Join(cfg.DataDir, "node-"+strconv.Itoa(idx), "tmp")
			if err := os.MkdirAll(tmpDir, 0o755); err != nil {
				return err
			}

			client := sdfsclient.New(top, log)
			w := worker.New(top, client, log, tmpDir)

			if monitor && cfg.Monitoring.Enabled {
				collector := metrics.NewCollector()
				dash := dashboard.New(workerStatus{top: top}, nil, collector, log)
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Monitoring.HTTPPort)
					if err := dash.Run(addr); err != nil {
						log.WithError(err).Warn("worker: dashboard server stopped")
					}
				}()
			}

			addr, err := top.AddrFor(idx, cfg.Ports.LeaderToWorker)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() { errCh <- w.Serve(addr) }()

			select {
			case <-sigChan:
				log.Info("worker: shutdown signal received")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to cluster.yaml")
	root.Flags().StringVar(&idFile, "id-file", "node.id", "path to this node's persisted index file")
	root.Flags().IntVar(&nodeIndex, "node-id", 0, "this node's 1-based index (overrides --id-file)")
	root.Flags().BoolVar(&monitor, "monitor", true, "serve the read-only status/metrics dashboard")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type workerStatus struct {
	top *topology.Topology
}

func (s workerStatus) Status() map[string]interface{} {
	return map[string]interface{}{
		"role": "worker",
		"node": s.top.SelfIndex(),
	}
}
