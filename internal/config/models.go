package config

import "time"

// CurrentVersion is the only config file version this build understands.
const CurrentVersion = 1

// Config represents the entire wsgate configuration file.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig describes the listening side.
type ServerConfig struct {
	Network      string        `yaml:"network"`                 // "tcp" or "unix"
	Address      string        `yaml:"address"`                 // host:port, or socket path for unix
	Path         string        `yaml:"path,omitempty"`          // Upgrade path; empty accepts any
	HealthPath   string        `yaml:"health_path,omitempty"`   // Plain GET answered with 200 ok
	Subprotocols []string      `yaml:"subprotocols,omitempty"`  // Supported subprotocols in preference order
	AnalysisDir  string        `yaml:"analysis_dir,omitempty"`  // JSONL message capture directory
	ShutdownWait time.Duration `yaml:"shutdown_wait,omitempty"` // Grace period for closing handshakes on stop
}

// ConnectionConfig holds per-connection limits and timeouts. Durations are
// written as Go duration strings ("5s", "250ms").
type ConnectionConfig struct {
	MaxQueueSize    int           `yaml:"max_queue_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
	FragmentSize    int           `yaml:"fragment_size,omitempty"`
	MaxFrameSize    uint64        `yaml:"max_frame_size,omitempty"`
	MaxMessageSize  int           `yaml:"max_message_size,omitempty"`
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance,omitempty"` // Defaults to the hostname
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "console" or "json"
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Network:      "tcp",
			Address:      ":8080",
			ShutdownWait: 10 * time.Second,
		},
		Connection: ConnectionConfig{
			MaxQueueSize:    1024,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CloseTimeout:    5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
