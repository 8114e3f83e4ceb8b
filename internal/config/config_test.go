package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
	if !cfg.DiscoveryEnabled {
		t.Fatalf("expected discovery enabled by default")
	}
	if cfg.RingCapacity != defaultRingCapacity {
		t.Fatalf("expected default ring capacity, got %d", cfg.RingCapacity)
	}
}

func TestLoadReadsFileValues(t *testing.T) {
	path := writeTempConfig(t, `
[daemon]
port = 9000
machine_name = "bench"

[discovery]
enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.MachineName != "bench" {
		t.Fatalf("expected machine name bench, got %s", cfg.MachineName)
	}
	if cfg.DiscoveryEnabled {
		t.Fatalf("expected discovery disabled from file")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
[daemon]
port = 9000

[discovery]
enabled = false
`)
	t.Setenv("WORMHOLE_PORT", "7200")
	t.Setenv("WORMHOLE_DISCOVERY_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7200 {
		t.Fatalf("expected env override port 7200, got %d", cfg.Port)
	}
	if !cfg.DiscoveryEnabled {
		t.Fatalf("expected env override to re-enable discovery")
	}
}

func TestAbsentDiscoveryKeyDefaultsToEnabled(t *testing.T) {
	path := writeTempConfig(t, `
[daemon]
port = 9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DiscoveryEnabled {
		t.Fatalf("expected discovery enabled when the key is absent from the file")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Config{Port: 0, RingCapacity: 1, HighWaterMark: 1, ControlSocketPath: "/tmp/x.sock"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
