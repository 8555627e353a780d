// Configuration loading: TOML file plus CALLBRIDGE_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path. An empty path searches the
// default locations; if none exists, defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if v := os.Getenv("CALLBRIDGE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}

	// Database overrides
	if v := os.Getenv("CALLBRIDGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// ICE overrides
	if v := os.Getenv("CALLBRIDGE_TURN_ENABLED"); v != "" {
		cfg.ICE.TURNEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CALLBRIDGE_TURN_HOST"); v != "" {
		cfg.ICE.TURNHost = v
	}
	if v := os.Getenv("CALLBRIDGE_TURN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ICE.TURNPort = port
		}
	}
	if v := os.Getenv("CALLBRIDGE_TURN_SECRET"); v != "" {
		cfg.ICE.TURNSecret = v
	}

	// Rooms overrides
	if v := os.Getenv("CALLBRIDGE_ROOMS_URL"); v != "" {
		cfg.Rooms.BaseURL = v
	}
	if v := os.Getenv("CALLBRIDGE_ROOMS_TOKEN"); v != "" {
		cfg.Rooms.ServiceToken = v
	}

	// Calls overrides
	if v := os.Getenv("CALLBRIDGE_RING_WINDOW"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			cfg.Calls.RingWindowSeconds = seconds
		}
	}

	// Logging overrides
	if v := os.Getenv("CALLBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CALLBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CALLBRIDGE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}
