package config

import (
	"fmt"
	"os"

	"github.com/cuemby/meshbroker/pkg/durablestore"
	"github.com/cuemby/meshbroker/pkg/faststore"
	"github.com/cuemby/meshbroker/pkg/health"
	"gopkg.in/yaml.v3"
)

// FastStoreConfig is the fast-store configuration block of spec §6.
type FastStoreConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Password            string `yaml:"password,omitempty"`
	DB                  int    `yaml:"db"`
	StreamPrefix        string `yaml:"stream_prefix"`
	ConsumerGroup       string `yaml:"consumer_group"`
	ConsumerName        string `yaml:"consumer_name"`
	MaxPendingMessages  int64  `yaml:"max_pending_messages"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	LockTimeoutMs       int64  `yaml:"lock_timeout_ms"`
	MessageRetentionMs  int64  `yaml:"message_retention_ms"`
}

// DurableAuthConfig is the optional SASL auth sub-block of durable-store.
type DurableAuthConfig struct {
	Mechanism string `yaml:"mechanism"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
}

// DurableRetryConfig mirrors durable-store's retry sub-block.
type DurableRetryConfig struct {
	InitialMs int `yaml:"initial_ms"`
	Retries   int `yaml:"retries"`
	MaxMs     int `yaml:"max_ms"`
}

// DurableBatchConfig mirrors durable-store's batch sub-block.
type DurableBatchConfig struct {
	Size     int `yaml:"size"`
	LingerMs int `yaml:"linger_ms"`
}

// DurableStoreConfig is the durable-store configuration block of spec §6.
type DurableStoreConfig struct {
	ClientID         string             `yaml:"client_id"`
	Brokers          []string           `yaml:"brokers"`
	SSL              bool               `yaml:"ssl,omitempty"`
	Auth             *DurableAuthConfig `yaml:"auth,omitempty"`
	GroupID          string             `yaml:"group_id"`
	SessionTimeoutMs int                `yaml:"session_timeout_ms"`
	HeartbeatMs      int                `yaml:"heartbeat_interval_ms"`
	Retry            DurableRetryConfig `yaml:"retry"`
	Batch            DurableBatchConfig `yaml:"batch"`
}

// FallbackMode names the supervisor's degraded-mode persistence strategy.
type FallbackMode string

const (
	FallbackMemory   FallbackMode = "memory"
	FallbackFile     FallbackMode = "file"
	FallbackDisabled FallbackMode = "disabled"
)

// SupervisorConfig is the supervisor configuration block of spec §6.
type SupervisorConfig struct {
	FallbackMode          FallbackMode `yaml:"fallback_mode"`
	HealthCheckIntervalMs int          `yaml:"health_check_interval_ms"`
	ReconnectAttempts     int          `yaml:"reconnect_attempts"`
	ReconnectDelayMs      int          `yaml:"reconnect_delay_ms"`
}

// WorkspaceConfig is the workspace configuration block of spec §6. Root is
// the filesystem directory used by the disk-backed durable fallback buffer
// when supervisor.fallback_mode is "file".
type WorkspaceConfig struct {
	Root                  string `yaml:"root"`
	MaxAgentsPerWorkspace int    `yaml:"max_agents_per_workspace"`
	MaxFilesPerWorkspace  int    `yaml:"max_files_per_workspace"`
	MaxFileSizeBytes      int64  `yaml:"max_file_size_bytes"`
	MaxConcurrentEdits    int    `yaml:"max_concurrent_edits"`
	MaxSessionDurationMs  int64  `yaml:"max_session_duration_ms"`
	LockTimeoutMs         int64  `yaml:"lock_timeout_ms"`
	ConsensusTimeoutMs    int64  `yaml:"consensus_timeout_ms"`
}

// ConsensusConfig is the consensus configuration block of spec §6.
type ConsensusConfig struct {
	DefaultMethod      string  `yaml:"default_method"`
	MajorityThreshold  float64 `yaml:"majority_threshold"`
	WeightingStrategy  string  `yaml:"weighting_strategy,omitempty"`
	VoteTimeoutMs      int64   `yaml:"vote_timeout_ms"`
	MaxRounds          int     `yaml:"max_rounds"`
	DeadlockResolution string  `yaml:"deadlock_resolution"`
}

// SecurityConfig is the security configuration block of spec §6.
type SecurityConfig struct {
	EnableFileLocking    bool  `yaml:"enable_file_locking"`
	EnableEditHistory    bool  `yaml:"enable_edit_history"`
	EnableAuditLogging   bool  `yaml:"enable_audit_logging"`
	MaxLockDurationMs    int64 `yaml:"max_lock_duration_ms"`
	AllowConcurrentReads bool  `yaml:"allow_concurrent_reads"`
	RequireAgentAuth     bool  `yaml:"require_agent_auth"`
}

// Config is the top-level meshbroker configuration document.
type Config struct {
	FastStore    FastStoreConfig    `yaml:"fast_store"`
	DurableStore DurableStoreConfig `yaml:"durable_store"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Consensus    ConsensusConfig    `yaml:"consensus"`
	Security     SecurityConfig     `yaml:"security"`
}

// Load reads and parses the YAML file at path and validates it, returning
// a configuration error (taxonomy kind 2) on any failure. A configuration
// error is fatal at startup and is never expected at runtime thereafter.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate enforces the rules spec §6 requires at load time.
func (c *Config) Validate() error {
	if c.FastStore.Host == "" {
		return fmt.Errorf("fast_store.host must not be empty")
	}
	if len(c.DurableStore.Brokers) == 0 {
		return fmt.Errorf("durable_store.brokers must contain at least one broker")
	}
	if c.Workspace.MaxAgentsPerWorkspace < 1 {
		return fmt.Errorf("workspace.max_agents_per_workspace must be >= 1, got %d", c.Workspace.MaxAgentsPerWorkspace)
	}
	if c.Consensus.MajorityThreshold < 0 || c.Consensus.MajorityThreshold > 1 {
		return fmt.Errorf("consensus.majority_threshold must be in [0,1], got %f", c.Consensus.MajorityThreshold)
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must not be empty")
	}
	return nil
}

// ToFastStoreConfig adapts the fast_store block to faststore.Config.
func (c *Config) ToFastStoreConfig() faststore.Config {
	f := c.FastStore
	return faststore.Config{
		Host:                f.Host,
		Port:                f.Port,
		Password:            f.Password,
		DB:                  f.DB,
		StreamPrefix:        f.StreamPrefix,
		ConsumerGroup:       f.ConsumerGroup,
		ConsumerName:        f.ConsumerName,
		MaxPendingMessages:  f.MaxPendingMessages,
		HeartbeatIntervalMs: f.HeartbeatIntervalMs,
		LockTimeoutMs:       f.LockTimeoutMs,
		MessageRetentionMs:  f.MessageRetentionMs,
	}
}

// ToDurableStoreConfig adapts the durable_store block to durablestore.Config.
func (c *Config) ToDurableStoreConfig() durablestore.Config {
	d := c.DurableStore
	cfg := durablestore.Config{
		ClientID:         d.ClientID,
		Brokers:          d.Brokers,
		SSL:              d.SSL,
		GroupID:          d.GroupID,
		SessionTimeoutMs: d.SessionTimeoutMs,
		HeartbeatMs:      d.HeartbeatMs,
		Retry: durablestore.RetryConfig{
			InitialMs: d.Retry.InitialMs,
			Retries:   d.Retry.Retries,
			MaxMs:     d.Retry.MaxMs,
		},
		Batch: durablestore.BatchConfig{
			Size:     d.Batch.Size,
			LingerMs: d.Batch.LingerMs,
		},
	}
	if d.Auth != nil {
		cfg.Auth = &durablestore.Auth{
			Mechanism: durablestore.AuthMechanism(d.Auth.Mechanism),
			User:      d.Auth.User,
			Pass:      d.Auth.Pass,
		}
	}
	return cfg
}

// ToHealthConfig adapts the supervisor block to health.Config.
func (c *Config) ToHealthConfig() health.Config {
	s := c.Supervisor
	return health.Config{
		HealthCheckIntervalMs: s.HealthCheckIntervalMs,
		ReconnectAttempts:     s.ReconnectAttempts,
		ReconnectDelayMs:      s.ReconnectDelayMs,
	}
}
