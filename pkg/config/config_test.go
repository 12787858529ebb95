package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		FastStore: FastStoreConfig{Host: "127.0.0.1", Port: 6379},
		DurableStore: DurableStoreConfig{
			ClientID: "meshbroker",
			Brokers:  []string{"127.0.0.1:9092"},
			GroupID:  "meshbroker-bridge",
		},
		Supervisor: SupervisorConfig{FallbackMode: FallbackMemory},
		Workspace: WorkspaceConfig{
			Root:                  "/var/lib/meshbroker",
			MaxAgentsPerWorkspace: 8,
		},
		Consensus: ConsensusConfig{DefaultMethod: "majority", MajorityThreshold: 0.5},
		Security:  SecurityConfig{EnableFileLocking: true},
	}
}

func TestValidateAcceptsAWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsEachBrokenRule(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty fast store host",
			mutate: func(c *Config) { c.FastStore.Host = "" },
		},
		{
			name:   "no durable store brokers",
			mutate: func(c *Config) { c.DurableStore.Brokers = nil },
		},
		{
			name:   "zero max agents per workspace",
			mutate: func(c *Config) { c.Workspace.MaxAgentsPerWorkspace = 0 },
		},
		{
			name:   "negative max agents per workspace",
			mutate: func(c *Config) { c.Workspace.MaxAgentsPerWorkspace = -1 },
		},
		{
			name:   "majority threshold below zero",
			mutate: func(c *Config) { c.Consensus.MajorityThreshold = -0.1 },
		},
		{
			name:   "majority threshold above one",
			mutate: func(c *Config) { c.Consensus.MajorityThreshold = 1.1 },
		},
		{
			name:   "empty workspace root",
			mutate: func(c *Config) { c.Workspace.Root = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsBoundaryThresholds(t *testing.T) {
	for _, threshold := range []float64{0, 1} {
		cfg := validConfig()
		cfg.Consensus.MajorityThreshold = threshold
		assert.NoError(t, cfg.Validate())
	}
}

func TestLoadParsesAndValidatesAYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshbroker.yaml")
	contents := `
fast_store:
  host: 127.0.0.1
  port: 6379
  stream_prefix: meshbroker
durable_store:
  client_id: meshbroker
  brokers:
    - 127.0.0.1:9092
  group_id: meshbroker-bridge
supervisor:
  fallback_mode: file
  reconnect_attempts: 5
workspace:
  root: /var/lib/meshbroker
  max_agents_per_workspace: 8
consensus:
  default_method: majority
  majority_threshold: 0.6
security:
  enable_file_locking: true
  require_agent_auth: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.FastStore.Host)
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.DurableStore.Brokers)
	assert.Equal(t, FallbackFile, cfg.Supervisor.FallbackMode)
	assert.Equal(t, 8, cfg.Workspace.MaxAgentsPerWorkspace)
	assert.Equal(t, 0.6, cfg.Consensus.MajorityThreshold)
	assert.True(t, cfg.Security.RequireAgentAuth)
}

func TestLoadRejectsAnInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshbroker.yaml")
	contents := `
fast_store:
  host: ""
durable_store:
  brokers: []
workspace:
  root: /var/lib/meshbroker
  max_agents_per_workspace: 4
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
