package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SUBSTRATE_LOG_LEVEL",
		"SUBSTRATE_TRACE_SUBSYSTEMS",
		"SUBSTRATE_EVENT_QUEUE_SIZE",
		"SUBSTRATE_EVENT_HANDLER_TIMEOUT",
		"SUBSTRATE_MAX_ISOLATION_DEPTH",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.EventQueueSize != 256 {
		t.Errorf("EventQueueSize = %d, want 256", cfg.EventQueueSize)
	}
	if cfg.EventHandlerTimeout != 5*time.Second {
		t.Errorf("EventHandlerTimeout = %v, want 5s", cfg.EventHandlerTimeout)
	}
	if cfg.MaxIsolationDepth != 64 {
		t.Errorf("MaxIsolationDepth = %d, want 64", cfg.MaxIsolationDepth)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("SUBSTRATE_LOG_LEVEL", "debug")
	os.Setenv("SUBSTRATE_EVENT_QUEUE_SIZE", "1024")
	os.Setenv("SUBSTRATE_TRACE_SUBSYSTEMS", "executor, registry")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.EventQueueSize != 1024 {
		t.Errorf("EventQueueSize = %d, want 1024", cfg.EventQueueSize)
	}
	want := []string{"executor", "registry"}
	if len(cfg.TraceSubsystems) != len(want) {
		t.Fatalf("TraceSubsystems = %v, want %v", cfg.TraceSubsystems, want)
	}
	for i := range want {
		if cfg.TraceSubsystems[i] != want[i] {
			t.Errorf("TraceSubsystems[%d] = %q, want %q", i, cfg.TraceSubsystems[i], want[i])
		}
	}
}

func TestLoadFileOverlayThenEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "substrate.yaml")
	contents := "log_level: warn\nevent_queue_size: 512\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (from file)", cfg.LogLevel)
	}
	if cfg.EventQueueSize != 512 {
		t.Errorf("EventQueueSize = %d, want 512 (from file)", cfg.EventQueueSize)
	}

	os.Setenv("SUBSTRATE_LOG_LEVEL", "error")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env overrides file)", cfg.LogLevel)
	}
	if cfg.EventQueueSize != 512 {
		t.Errorf("EventQueueSize = %d, want 512 (file value preserved)", cfg.EventQueueSize)
	}
}

func TestLoadMissingOverrideFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load with missing override file returned error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info (defaults)", cfg.LogLevel)
	}
}

func TestManagerReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "substrate.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.Config().LogLevel; got != "warn" {
		t.Fatalf("initial LogLevel = %q, want warn", got)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := m.Config().LogLevel; got != "debug" {
		t.Errorf("after Reload, LogLevel = %q, want debug", got)
	}
}
