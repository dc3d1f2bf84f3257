// Package config loads the tunables spec.md §6 enumerates — heartbeat and
// election timing, SUQ capacity, client worker pool size, quorum-await
// timeout — plus the node's identity and cluster peer list, following
// pkg/replication/config.go's env-var-driven Config/LoadFromEnv/getEnv*
// pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/orneryd/quorumraft/pkg/netaddr"
	"gopkg.in/yaml.v3"
)

// Environment variable names, all under the QUORUMRAFT_ prefix.
const (
	EnvNodeID             = "QUORUMRAFT_NODE_ID"
	EnvBindAddr            = "QUORUMRAFT_BIND_ADDR"
	EnvPeers               = "QUORUMRAFT_PEERS"
	EnvClusterFile          = "QUORUMRAFT_CLUSTER_FILE"
	EnvHeartbeatMs          = "QUORUMRAFT_HEARTBEAT_INTERVAL_MS"
	EnvElectionTimeoutMinMs = "QUORUMRAFT_ELECTION_TIMEOUT_MS_MIN"
	EnvElectionTimeoutMaxMs = "QUORUMRAFT_ELECTION_TIMEOUT_MS_MAX"
	EnvSUQCapacity          = "QUORUMRAFT_SUQ_CHANNEL_CAPACITY"
	EnvTaskWorkers          = "QUORUMRAFT_TASK_SUBMISSION_WORKERS"
	EnvQuorumAwaitMs        = "QUORUMRAFT_QUORUM_AWAIT_TIMEOUT_MS"
)

// Config holds one node's full runtime configuration: identity, bind
// address, peer list, and every tunable from spec.md §6.
type Config struct {
	NodeID   uint64
	BindAddr netaddr.HostAndPort
	Peers    []netaddr.HostAndPort

	HeartbeatInterval     time.Duration
	ElectionTimeoutMin    time.Duration
	ElectionTimeoutMax    time.Duration
	SUQChannelCapacity    int
	TaskSubmissionWorkers int
	QuorumAwaitTimeout    time.Duration
}

// DefaultConfig returns spec.md §6's defaults: 50ms heartbeat, 150-300ms
// election timeout, SUQ capacity 100, 10 task-submission workers, and a
// quorum-await timeout of ten heartbeat intervals.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:              netaddr.New("0.0.0.0", 7690),
		HeartbeatInterval:     50 * time.Millisecond,
		ElectionTimeoutMin:    150 * time.Millisecond,
		ElectionTimeoutMax:    300 * time.Millisecond,
		SUQChannelCapacity:    100,
		TaskSubmissionWorkers: 10,
		QuorumAwaitTimeout:    500 * time.Millisecond,
	}
}

// LoadFromEnv builds a Config from QUORUMRAFT_* environment variables
// layered over DefaultConfig. If QUORUMRAFT_CLUSTER_FILE is set, peers are
// loaded from that YAML file instead of QUORUMRAFT_PEERS, skipping the entry
// whose address equals the node's own bind address.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	cfg.NodeID = uint64(getEnvInt(EnvNodeID, 0))

	if bindStr := getEnv(EnvBindAddr, ""); bindStr != "" {
		addr, err := netaddr.Parse(bindStr)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvBindAddr, err)
		}
		cfg.BindAddr = addr
	}

	if clusterFile := getEnv(EnvClusterFile, ""); clusterFile != "" {
		cluster, err := LoadFromFile(clusterFile)
		if err != nil {
			return nil, err
		}
		for _, addr := range cluster.PeerAddrs() {
			if addr != cfg.BindAddr {
				cfg.Peers = append(cfg.Peers, addr)
			}
		}
	} else if peersStr := getEnv(EnvPeers, ""); peersStr != "" {
		peers, err := parsePeerAddrs(peersStr)
		if err != nil {
			return nil, err
		}
		cfg.Peers = peers
	}

	cfg.HeartbeatInterval = getEnvDurationMs(EnvHeartbeatMs, int(cfg.HeartbeatInterval/time.Millisecond))
	cfg.ElectionTimeoutMin = getEnvDurationMs(EnvElectionTimeoutMinMs, int(cfg.ElectionTimeoutMin/time.Millisecond))
	cfg.ElectionTimeoutMax = getEnvDurationMs(EnvElectionTimeoutMaxMs, int(cfg.ElectionTimeoutMax/time.Millisecond))
	cfg.SUQChannelCapacity = getEnvInt(EnvSUQCapacity, cfg.SUQChannelCapacity)
	cfg.TaskSubmissionWorkers = getEnvInt(EnvTaskWorkers, cfg.TaskSubmissionWorkers)
	cfg.QuorumAwaitTimeout = getEnvDurationMs(EnvQuorumAwaitMs, int(cfg.QuorumAwaitTimeout/time.Millisecond))

	return cfg, nil
}

// Validate checks that a Config is complete enough to start a node.
func (c *Config) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("config: %s is required and must be nonzero", EnvNodeID)
	}
	if c.BindAddr.IsZero() {
		return fmt.Errorf("config: %s is required", EnvBindAddr)
	}
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("config: election timeout max (%s) must exceed min (%s)", c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.SUQChannelCapacity <= 0 {
		return fmt.Errorf("config: %s must be positive", EnvSUQCapacity)
	}
	if c.TaskSubmissionWorkers <= 0 {
		return fmt.Errorf("config: %s must be positive", EnvTaskWorkers)
	}
	return nil
}

// ClusterFile is the YAML shape of a cluster bootstrap file: a flat list of
// peer replica ids and addresses for every node in the cluster, including
// self. Environment: QUORUMRAFT_CLUSTER_FILE.
type ClusterFile struct {
	Peers []ClusterPeer `yaml:"peers"`
}

// ClusterPeer is one entry in a ClusterFile.
type ClusterPeer struct {
	ID   uint64 `yaml:"id"`
	Addr string `yaml:"addr"`
}

// LoadFromFile reads and parses a YAML cluster bootstrap file.
func LoadFromFile(path string) (*ClusterFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read cluster file %s: %w", path, err)
	}
	var cf ClusterFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("config: parse cluster file %s: %w", path, err)
	}
	return &cf, nil
}

// PeerAddrs returns every peer's address as a HostAndPort, skipping entries
// that fail to parse.
func (cf *ClusterFile) PeerAddrs() []netaddr.HostAndPort {
	addrs := make([]netaddr.HostAndPort, 0, len(cf.Peers))
	for _, p := range cf.Peers {
		addr, err := netaddr.Parse(p.Addr)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func parsePeerAddrs(s string) ([]netaddr.HostAndPort, error) {
	parts := strings.Split(s, ",")
	addrs := make([]netaddr.HostAndPort, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		addr, err := netaddr.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("config: %s entry %q: %w", EnvPeers, p, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := getEnvInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
