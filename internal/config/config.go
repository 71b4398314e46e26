// Package config loads the YAML cluster configuration consumed by every
// binary in the repository: the fixed host list, per-role ports, data
// directories and the SDFS replication factor. It also parses gossip and
// failure-detector timing constants; internal/membership does not read
// them and runs on its own package constants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Cluster is the top-level configuration document (cluster.yaml).
type Cluster struct {
	Hosts       []string    `yaml:"hosts"`
	Ports       Ports       `yaml:"ports"`
	Gossip      GossipTuning `yaml:"gossip"`
	SDFS        SDFS        `yaml:"sdfs"`
	MapleJuice  MapleJuice  `yaml:"maplejuice"`
	DataDir     string      `yaml:"data_dir"`
	Monitoring  Monitoring  `yaml:"monitoring"`
}

// Ports holds the well-known TCP/UDP ports from spec.md §6.
type Ports struct {
	Datanode        int `yaml:"datanode"`
	ClientToMaster  int `yaml:"client_to_master"`
	DatanodeToMaster int `yaml:"datanode_to_master"`
	ClientToLeader  int `yaml:"client_to_leader"`
	LeaderToWorker  int `yaml:"leader_to_worker"`
	WorkerToLeader  int `yaml:"worker_to_leader"`
	Gossip          int `yaml:"gossip"`
}

// GossipTuning holds the failure-detector timing constants from spec.md §5.
type GossipTuning struct {
	Interval        time.Duration `yaml:"interval"`
	Fanout          int           `yaml:"fanout"`
	MaxEntriesPerMsg int          `yaml:"max_entries_per_message"`
	FailTimeout     time.Duration `yaml:"fail_timeout"`
	CleanupTimeout  time.Duration `yaml:"cleanup_timeout"`
	SuspicionTimeout time.Duration `yaml:"suspicion_timeout"`
	ModeCooldown    time.Duration `yaml:"mode_cooldown"`
	MessageDropRate float64       `yaml:"message_drop_rate"`
}

// SDFS holds SDFS-layer tuning.
type SDFS struct {
	ReplicationFactor int           `yaml:"replication_factor"`
	MaxConcurrentReaders int        `yaml:"max_concurrent_readers"`
	MasterProbeTimeout time.Duration `yaml:"master_probe_timeout"`
}

// MapleJuice holds job-engine tuning.
type MapleJuice struct {
	LeaderIndex int `yaml:"leader_index"`
	BatchSize   int `yaml:"batch_size"`
}

// Monitoring holds the dashboard/metrics ambient surface configuration.
type Monitoring struct {
	Enabled    bool `yaml:"enabled"`
	HTTPPort   int  `yaml:"http_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// Default returns the spec.md-mandated constants for a ten-node cluster
// with localhost placeholder hosts. Callers override Hosts with a real
// topology before use.
func Default() *Cluster {
	hosts := make([]string, 10)
	for i := range hosts {
		hosts[i] = "127.0.0.1"
	}
	return &Cluster{
		Hosts: hosts,
		Ports: Ports{
			Datanode:         38333,
			ClientToMaster:   32339,
			DatanodeToMaster: 26777,
			ClientToLeader:   32338,
			LeaderToWorker:   38336,
			WorkerToLeader:   26776,
			Gossip:           50001,
		},
		Gossip: GossipTuning{
			Interval:         400 * time.Millisecond,
			Fanout:           3,
			MaxEntriesPerMsg: 10,
			FailTimeout:      3 * time.Second,
			CleanupTimeout:   4 * time.Second,
			SuspicionTimeout: 5 * time.Second,
			ModeCooldown:     10 * time.Second,
			MessageDropRate:  0,
		},
		SDFS: SDFS{
			ReplicationFactor:    4,
			MaxConcurrentReaders: 2,
			MasterProbeTimeout:   2 * time.Second,
		},
		MapleJuice: MapleJuice{
			LeaderIndex: 1,
			BatchSize:   100,
		},
		DataDir: "./data",
		Monitoring: Monitoring{
			Enabled:     true,
			HTTPPort:    8500,
			MetricsPort: 9500,
		},
	}
}

// Load reads and parses a cluster.yaml file, falling back to Default()
// values for any key the file does not set. A missing file is not an
// error — it just yields Default().
func Load(path string) (*Cluster, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	parsed := Default()
	if err := yaml.Unmarshal(data, parsed); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return parsed, nil
}

// HostFor returns the hostname for a 1-based node index.
func (c *Cluster) HostFor(index int) (string, error) {
	if index < 1 || index > len(c.Hosts) {
		return "", fmt.Errorf("config: node index %d out of range [1,%d]", index, len(c.Hosts))
	}
	return c.Hosts[index-1], nil
}

// NodeCount returns the number of fixed peers.
func (c *Cluster) NodeCount() int {
	return len(c.Hosts)
}

// ReadNodeIndex loads a process's 1-based node index from the persisted
// id-file spec.md §6 describes ("each node: text file holding its 1-based
// index").
func ReadNodeIndex(idFile string) (int, error) {
	data, err := os.ReadFile(idFile)
	if err != nil {
		return 0, fmt.Errorf("config: reading id file %s: %w", idFile, err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("config: parsing id file %s: %w", idFile, err)
	}
	return idx, nil
}

// WriteNodeIndex persists a process's 1-based node index to idFile.
func WriteNodeIndex(idFile string, idx int) error {
	return os.WriteFile(idFile, []byte(strconv.Itoa(idx)), 0o644)
}
