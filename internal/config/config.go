// Package config loads wormholed's configuration: a TOML file at a
// conventional user-config path, with environment variables overriding
// whatever the file sets, the same env-overrides-file layering
// crab-gateway uses for its own Config.FromEnv, adapted to a file
// format per SPEC_FULL.md §6.5.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultPort             = 7117
	defaultDiscoveryEnabled = true
	defaultRingCapacity     = 1000
	defaultHighWaterMark    = 4096
	defaultConfigDirName    = "wormhole"
	defaultConfigFileName   = "config.toml"
)

// Config is wormholed's fully resolved configuration.
type Config struct {
	Port              int
	DiscoveryEnabled  bool
	RingCapacity      int
	HighWaterMark     int
	MachineName       string
	ControlSocketPath string
	DriverCommand     []string
}

// fileSchema is the on-disk TOML shape, matching SPEC_FULL.md §6.5's
// daemon.port and discovery.enabled keys.
type fileSchema struct {
	Daemon struct {
		Port              int      `toml:"port"`
		RingCapacity      int      `toml:"ring_capacity"`
		HighWaterMark     int      `toml:"high_water_mark"`
		MachineName       string   `toml:"machine_name"`
		ControlSocketPath string   `toml:"control_socket_path"`
		DriverCommand     []string `toml:"driver_command"`
	} `toml:"daemon"`
	Discovery struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"discovery"`
}

// DefaultPath returns the conventional config file location,
// $XDG_CONFIG_HOME/wormhole/config.toml, falling back to
// ~/.config/wormhole/config.toml.
func DefaultPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, defaultConfigDirName, defaultConfigFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName, defaultConfigFileName), nil
}

// Load reads path (if it exists) and layers environment variable
// overrides on top. A missing file is not an error; its keys simply
// fall back to defaults before the environment is applied.
func Load(path string) (Config, error) {
	var file fileSchema
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// no file is fine; defaults and env still apply.
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	discoveryEnabled := defaultDiscoveryEnabled
	if file.Discovery.Enabled != nil {
		discoveryEnabled = *file.Discovery.Enabled
	}

	cfg := Config{
		Port:              orDefaultInt(file.Daemon.Port, defaultPort),
		DiscoveryEnabled:  discoveryEnabled,
		RingCapacity:      orDefaultInt(file.Daemon.RingCapacity, defaultRingCapacity),
		HighWaterMark:     orDefaultInt(file.Daemon.HighWaterMark, defaultHighWaterMark),
		MachineName:       file.Daemon.MachineName,
		ControlSocketPath: file.Daemon.ControlSocketPath,
		DriverCommand:     file.Daemon.DriverCommand,
	}

	if cfg.MachineName == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.MachineName = hostname
		}
	}
	if cfg.ControlSocketPath == "" {
		cfg.ControlSocketPath = defaultControlSocketPath()
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv mirrors crab-gateway's FromEnv: Port, DiscoveryEnabled,
// MachineName and ControlSocketPath each have a matching environment
// variable that, when set, wins over the file. RingCapacity,
// HighWaterMark and DriverCommand have no environment override.
func applyEnv(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv("WORMHOLE_PORT")); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			cfg.Port = port
		}
	}
	if raw := strings.TrimSpace(os.Getenv("WORMHOLE_DISCOVERY_ENABLED")); raw != "" {
		cfg.DiscoveryEnabled = parseBoolEnv(raw, cfg.DiscoveryEnabled)
	}
	if raw := strings.TrimSpace(os.Getenv("WORMHOLE_MACHINE_NAME")); raw != "" {
		cfg.MachineName = raw
	}
	if raw := strings.TrimSpace(os.Getenv("WORMHOLE_CONTROL_SOCKET_PATH")); raw != "" {
		cfg.ControlSocketPath = raw
	}
}

// Validate checks invariants a misconfigured daemon would otherwise
// discover only at bind time.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.RingCapacity <= 0 {
		return fmt.Errorf("config: ring_capacity must be > 0")
	}
	if c.HighWaterMark <= 0 {
		return fmt.Errorf("config: high_water_mark must be > 0")
	}
	if strings.TrimSpace(c.ControlSocketPath) == "" {
		return fmt.Errorf("config: control_socket_path must not be empty")
	}
	return nil
}

func defaultControlSocketPath() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
		return filepath.Join(dir, "wormhole.sock")
	}
	return filepath.Join(os.TempDir(), "wormhole.sock")
}

func orDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func parseBoolEnv(raw string, fallback bool) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
