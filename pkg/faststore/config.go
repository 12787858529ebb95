package faststore

import "fmt"

// Config is the fast-store configuration block of spec §6.
type Config struct {
	Host                string
	Port                int
	Password            string
	DB                  int
	StreamPrefix        string
	ConsumerGroup       string
	ConsumerName        string
	MaxPendingMessages  int64
	HeartbeatIntervalMs int
	LockTimeoutMs       int64
	MessageRetentionMs  int64
}

// Addr formats the host:port pair for redis.Options.Addr.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var streamNames = []string{"locks", "edits", "agents", "workspace", "consensus"}
