package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvNodeID, EnvBindAddr, EnvPeers, EnvClusterFile, EnvHeartbeatMs, EnvElectionTimeoutMinMs, EnvElectionTimeoutMaxMs, EnvSUQCapacity, EnvTaskWorkers, EnvQuorumAwaitMs} {
		os.Unsetenv(key)
	}
}

func TestLoadFromEnvAppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().HeartbeatInterval, cfg.HeartbeatInterval)
	require.Equal(t, DefaultConfig().SUQChannelCapacity, cfg.SUQChannelCapacity)
}

func TestLoadFromEnvParsesPeerList(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvNodeID, "1")
	os.Setenv(EnvBindAddr, "127.0.0.1:9001")
	os.Setenv(EnvPeers, "127.0.0.1:9002, 127.0.0.1:9003")
	defer clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.NodeID)
	require.Len(t, cfg.Peers, 2)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingNodeID(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestLoadFromFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	content := "peers:\n  - id: 1\n    addr: 127.0.0.1:9001\n  - id: 2\n    addr: 127.0.0.1:9002\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cf, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, cf.Peers, 2)
	require.Equal(t, uint64(1), cf.Peers[0].ID)

	addrs := cf.PeerAddrs()
	require.Len(t, addrs, 2)
}
