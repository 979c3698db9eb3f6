package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DatabasePath != "cutover.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Resource != "default" {
		t.Errorf("Resource = %q", cfg.Resource)
	}
	if cfg.InstanceCommand != nil {
		t.Errorf("InstanceCommand = %v, want nil", cfg.InstanceCommand)
	}
	if cfg.LeaseDuration != 15*time.Second {
		t.Errorf("LeaseDuration = %v", cfg.LeaseDuration)
	}
	if cfg.MaxConsecutiveFailures != 3 {
		t.Errorf("MaxConsecutiveFailures = %d", cfg.MaxConsecutiveFailures)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CUTOVER_DB", "/var/lib/cutover/state.db")
	t.Setenv("CUTOVER_RESOURCE", "orders-db")
	t.Setenv("CUTOVER_COMMAND", "service, --version, {version}")
	t.Setenv("CUTOVER_LEASE", "30s")
	t.Setenv("CUTOVER_LOCK_RETRIES", "8")
	t.Setenv("CUTOVER_MAX_FAILURES", "not-a-number")

	cfg := Load()

	if cfg.DatabasePath != "/var/lib/cutover/state.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.Resource != "orders-db" {
		t.Errorf("Resource = %q", cfg.Resource)
	}
	want := []string{"service", "--version", "{version}"}
	if len(cfg.InstanceCommand) != len(want) {
		t.Fatalf("InstanceCommand = %v, want %v", cfg.InstanceCommand, want)
	}
	for i := range want {
		if cfg.InstanceCommand[i] != want[i] {
			t.Errorf("InstanceCommand[%d] = %q, want %q", i, cfg.InstanceCommand[i], want[i])
		}
	}
	if cfg.LeaseDuration != 30*time.Second {
		t.Errorf("LeaseDuration = %v", cfg.LeaseDuration)
	}
	if cfg.LockRetryLimit != 8 {
		t.Errorf("LockRetryLimit = %d", cfg.LockRetryLimit)
	}
	// Unparseable values fall back to the default.
	if cfg.MaxConsecutiveFailures != 3 {
		t.Errorf("MaxConsecutiveFailures = %d, want default 3", cfg.MaxConsecutiveFailures)
	}
}
