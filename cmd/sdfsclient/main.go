// Command sdfsclient is the interactive SDFS client from spec.md §6:
// put/get/ls/store/exit over stdin, backed by internal/sdfsclient.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mpcluster/internal/clusterlog"
	"mpcluster/internal/config"
	"mpcluster/internal/sdfsclient"
	"mpcluster/internal/topology"
)

func main() {
	var (
		configPath string
		nodeIndex  int
		dataDir    string
	)

	root := &cobra.Command{
		Use:   "sdfsclient",
		Short: "interactive SDFS client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if nodeIndex == 0 {
				nodeIndex = 1
			}
			top, err := topology.New(cfg, nodeIndex)
			if err != nil {
				return err
			}
			log := clusterlog.New(clusterlog.Options{Component: "sdfsclient", Node: strconv.Itoa(nodeIndex)})
			client := sdfsclient.New(top, log)

			if dataDir == "" {
				dataDir = cfg.DataDir + "/node-" + strconv.Itoa(nodeIndex) + "/files"
			}

			os.Exit(runREPL(client, cfg.SDFS.ReplicationFactor, dataDir))
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to cluster.yaml")
	root.Flags().IntVar(&nodeIndex, "node-id", 0, "1-based node index this client resolves topology from")
	root.Flags().StringVar(&dataDir, "data-dir", "", "local datanode files directory, for the store command")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runREPL implements spec.md §6's SDFS client command set.
func runREPL(client *sdfsclient.Client, replicationFactor int, dataDir string) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "put":
			if len(fields) != 3 {
				fmt.Println("usage: put <local> <remote>")
				continue
			}
			confirmed, err := client.Put(fields[1], fields[2], replicationFactor)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("put confirmed on %d replicas: %v\n", len(confirmed), confirmed)
		case "get":
			if len(fields) != 3 {
				fmt.Println("usage: get <remote> <local>")
				continue
			}
			if err := client.Get(fields[1], fields[2]); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("get complete")
		case "ls":
			if len(fields) != 2 {
				fmt.Println("usage: ls <remote>")
				continue
			}
			replicas, err := client.Ls(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(replicas)
		case "store":
			entries, err := os.ReadDir(dataDir)
			if err != nil {
				fmt.Println(err)
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					fmt.Println(e.Name())
				}
			}
		case "exit":
			return 0
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	return 1
}
