// Command datanode runs the C2 SDFS datanode: a TCP server that stores file
// bytes for clients and reports completion to the master, per spec.md §4.2.
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
	"mpcluster/internal/datanode"
	"mpcluster/internal/metrics"
	"mpcluster/internal/topology"
)

func main() {
	var (
		configPath string
		idFile     string
		nodeIndex  int
		monitor    bool
	)

	root := &cobra.Command{
		Use:   "datanode",
		Short: "run an SDFS datanode",
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
			log := clusterlog.New(clusterlog.Options{Component: "datanode", Node: strconv.Itoa(idx)})

			filesDir := filepath.Join(cfg.DataDir, "node-"+strconv.Itoa(idx), "files")
			manifestPath := filepath.Join(cfg.DataDir, "node-"+strconv.Itoa(idx), "manifest.ldb")
			manifest, err := datanode.OpenManifest(manifestPath)
			if err != nil {
				return err
			}
			defer manifest.Close()

			if empty, _ := manifest.IsEmpty(); empty {
				if err := manifest.RebuildFromDir(filesDir); err != nil {
					log.WithError(err).Debug("datanode: no existing files dir to rebuild manifest from")
				}
			}

			dn, err := datanode.New(top, filesDir, manifest, log)
			if err != nil {
				return err
			}

			if monitor && cfg.Monitoring.Enabled {
				collector := metrics.NewCollector()
				dash := dashboard.New(dnStatus{dn: dn, top: top}, nil, collector, log)
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Monitoring.HTTPPort)
					if err := dash.Run(addr); err != nil {
						log.WithError(err).Warn("datanode: dashboard server stopped")
					}
				}()
			}

			addr, err := top.AddrFor(idx, cfg.Ports.Datanode)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() { errCh <- dn.Serve(addr) }()

			select {
			case <-sigChan:
				log.Info("datanode: shutdown signal received")
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

type dnStatus struct {
	dn  *datanode.Datanode
	top *topology.Topology
}

func (s dnStatus) Status() map[string]interface{} {
	names, _ := s.dn.ListLocal()
	return map[string]interface{}{
		"role":        "datanode",
		"node":        s.top.SelfIndex(),
		"files_count": len(names),
	}
}
