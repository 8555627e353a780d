// Package config provides configuration management for the call bridge.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds all call bridge configuration
type Config struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Database configuration
	Database DatabaseConfig `toml:"database"`

	// ICE server configuration
	ICE ICEConfig `toml:"ice"`

	// Rooms (chat backend) configuration
	Rooms RoomsConfig `toml:"rooms"`

	// Calls configuration
	Calls CallsConfig `toml:"calls"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string `toml:"listen_addr" env:"CALLBRIDGE_LISTEN_ADDR"`

	// ShutdownTimeoutSeconds bounds graceful shutdown
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`

	// AllowedOrigins restricts WebSocket upgrades; empty allows any
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig holds call session store configuration
type DatabaseConfig struct {
	// Path is the SQLite database file path
	Path string `toml:"path" env:"CALLBRIDGE_DB_PATH"`

	// EnableWAL enables write-ahead logging
	EnableWAL bool `toml:"enable_wal"`

	// ConnectionPool sets the maximum open connections
	ConnectionPool int `toml:"connection_pool"`
}

// ICEConfig holds the ICE server catalogue configuration
type ICEConfig struct {
	// STUNServers are the static STUN URLs handed to clients
	STUNServers []string `toml:"stun_servers"`

	// TURNEnabled adds a privately operated TURN relay to the catalogue
	TURNEnabled bool `toml:"turn_enabled" env:"CALLBRIDGE_TURN_ENABLED"`

	// TURNHost is the TURN server hostname or IP
	TURNHost string `toml:"turn_host" env:"CALLBRIDGE_TURN_HOST"`

	// TURNPort is the TURN server port
	TURNPort int `toml:"turn_port"`

	// TURNProtocol is "udp", "tcp", or "tls"
	TURNProtocol string `toml:"turn_protocol"`

	// TURNSecret is the shared secret for ephemeral TURN credentials
	TURNSecret string `toml:"turn_secret" env:"CALLBRIDGE_TURN_SECRET"`

	// TURNCredentialTTLSeconds is the lifetime of generated credentials
	TURNCredentialTTLSeconds int `toml:"turn_credential_ttl_seconds"`
}

// RoomsConfig holds chat backend configuration
type RoomsConfig struct {
	// BaseURL is the chat backend base URL
	BaseURL string `toml:"base_url" env:"CALLBRIDGE_ROOMS_URL"`

	// ServiceToken authenticates the bridge for event pushes
	ServiceToken string `toml:"service_token" env:"CALLBRIDGE_ROOMS_TOKEN"`

	// TimeoutSeconds bounds each chat backend request
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// CallsConfig holds call lifecycle configuration
type CallsConfig struct {
	// RingWindowSeconds is how long an unanswered call keeps ringing
	RingWindowSeconds int `toml:"ring_window_seconds"`

	// RelayQueueSize bounds the relay dispatch channel
	RelayQueueSize int `toml:"relay_queue_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" env:"CALLBRIDGE_LOG_LEVEL"`
	Format string `toml:"format" env:"CALLBRIDGE_LOG_FORMAT"`
	Output string `toml:"output" env:"CALLBRIDGE_LOG_OUTPUT"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	// Enabled exposes /metrics
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:             ":8090",
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Path:           "callbridge.db",
			EnableWAL:      true,
			ConnectionPool: 10,
		},
		ICE: ICEConfig{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			},
			TURNPort:                 3478,
			TURNProtocol:             "udp",
			TURNCredentialTTLSeconds: 600,
		},
		Rooms: RoomsConfig{
			BaseURL:        "http://localhost:4000",
			TimeoutSeconds: 10,
		},
		Calls: CallsConfig{
			RingWindowSeconds: 90,
			RelayQueueSize:    256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ConfigPaths returns the default configuration file search order
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".callbridge", "config.toml"),
		filepath.Join("/etc", "callbridge", "config.toml"),
		"./config.toml",
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalidConfig)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if len(c.ICE.STUNServers) == 0 && !c.ICE.TURNEnabled {
		return fmt.Errorf("%w: at least one ICE server is required", ErrInvalidConfig)
	}
	if c.ICE.TURNEnabled {
		if c.ICE.TURNHost == "" {
			return fmt.Errorf("%w: ice.turn_host is required when TURN is enabled", ErrInvalidConfig)
		}
		if c.ICE.TURNSecret == "" {
			return fmt.Errorf("%w: ice.turn_secret is required when TURN is enabled", ErrInvalidConfig)
		}
		switch c.ICE.TURNProtocol {
		case "udp", "tcp", "tls":
		default:
			return fmt.Errorf("%w: ice.turn_protocol must be udp, tcp, or tls", ErrInvalidConfig)
		}
	}
	if c.Rooms.BaseURL == "" {
		return fmt.Errorf("%w: rooms.base_url is required", ErrInvalidConfig)
	}
	if c.Calls.RingWindowSeconds <= 0 {
		return fmt.Errorf("%w: calls.ring_window_seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// RingWindow returns the ring window as a duration
func (c *Config) RingWindow() time.Duration {
	return time.Duration(c.Calls.RingWindowSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a duration
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
