// Command gossip runs the C1 membership agent: the UDP failure detector
// described in spec.md §4.1/§5, plus the interactive REPL from spec.md §6
// (list_mem, list_self, enable/disable suspicion, leave, exit).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/config"
	"mpcluster/internal/dashboard"
	"mpcluster/internal/membership"
	"mpcluster/internal/metrics"
	"mpcluster/internal/topology"
)

func main() {
	var (
		configPath   string
		idFile       string
		nodeIndex    int
		introducer   bool
		dropRate     float64
		snapshotPath string
		monitor      bool
	)

	root := &cobra.Command{
		Use:   "gossip",
		Short: "run the cluster's membership failure-detector peer",
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
			log := clusterlog.New(clusterlog.Options{Component: "gossip", Node: strconv.Itoa(idx)})

			listenAddr, err := top.AddrFor(idx, cfg.Ports.Gossip)
			if err != nil {
				return err
			}

			self := membership.Entry{
				Hostname:         top.SelfHost(),
				Port:             uint16(cfg.Ports.Gossip),
				StartTimestamp:   time.Now().Unix(),
				HeartbeatCounter: 1,
				Status:           membership.StatusAlive,
			}
			nodeIndexOf := map[string]int{self.RunID(): idx}
			view := membership.NewView(self, nodeIndexOf)

			if snapshotPath == "" {
				snapshotPath = cfg.DataDir + "/membership"
			}
			if err := membership.SnapshotDir(snapshotPath); err != nil {
				return err
			}

			agentCfg := membership.Config{
				ListenAddr:    listenAddr,
				IsIntroducer:  introducer || idx == 1,
				DropRate:      dropRate,
				SnapshotPath:  snapshotPath,
				NodeCount:     top.NodeCount(),
				IndexResolver: indexResolver(top),
			}
			if !agentCfg.IsIntroducer {
				agentCfg.Introducer, err = top.AddrFor(1, cfg.Ports.Gossip)
				if err != nil {
					return err
				}
			}

			agent, err := membership.NewAgent(agentCfg, view, log)
			if err != nil {
				return err
			}
			defer agent.Close()

			ctx, cancel := context.WithCancel(context.Background())
			go agent.Run(ctx)

			if monitor && cfg.Monitoring.Enabled {
				collector := metrics.NewCollector()
				dash := dashboard.New(statusProvider(top, view), view, collector, log)
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Monitoring.HTTPPort)
					if err := dash.Run(addr); err != nil {
						log.WithError(err).Warn("gossip: dashboard server stopped")
					}
				}()
			}

			code := runREPL(view, log)
			cancel()
			os.Exit(code)
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to cluster.yaml")
	root.Flags().StringVar(&idFile, "id-file", "node.id", "path to this node's persisted index file")
	root.Flags().IntVar(&nodeIndex, "node-id", 0, "this node's 1-based index (overrides --id-file)")
	root.Flags().BoolVar(&introducer, "is-introducer", false, "act as the well-known introducer")
	root.Flags().Float64Var(&dropRate, "drop-rate", 0, "debug: probability of dropping a received datagram")
	root.Flags().StringVar(&snapshotPath, "snapshot", "", "path to write the alive-set snapshot (defaults under data-dir)")
	root.Flags().BoolVar(&monitor, "monitor", true, "serve the read-only status/metrics dashboard")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// indexResolver matches a gossiped entry's hostname against the fixed host
// list to recover its 1-based node index; the lowest matching index wins.
func indexResolver(top *topology.Topology) func(string) (int, bool) {
	return func(hostname string) (int, bool) {
		for i := 1; i <= top.NodeCount(); i++ {
			host, err := top.Config().HostFor(i)
			if err == nil && host == hostname {
				return i, true
			}
		}
		return 0, false
	}
}

type status struct {
	top  *topology.Topology
	view *membership.View
}

func (s status) Status() map[string]interface{} {
	return map[string]interface{}{
		"role":      "gossip",
		"node":      s.top.SelfIndex(),
		"mode":      s.view.Mode().String(),
		"alive_set": s.view.AliveSet(),
	}
}

func statusProvider(top *topology.Topology, view *membership.View) dashboard.StatusProvider {
	return status{top: top, view: view}
}

// runREPL implements spec.md §6's gossip-peer command set over stdin.
func runREPL(view *membership.View, log *clusterlog.Logger) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "list_mem":
			for _, e := range view.Entries() {
				fmt.Printf("%s %s incarnation=%d\n", e.RunID(), e.Status.String(), e.IncNum)
			}
		case "list_self":
			self := view.Self()
			fmt.Printf("%s %s incarnation=%d\n", self.RunID(), self.Status.String(), self.IncNum)
		case "enable":
			if len(fields) == 2 && fields[1] == "suspicion" {
				view.SetMode(membership.ModeSuspicion)
			}
		case "disable":
			if len(fields) == 2 && fields[1] == "suspicion" {
				view.SetMode(membership.ModeNormal)
			}
		case "leave":
			view.Leave()
			return 0
		case "exit":
			return 0
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	return 1
}
