// Package config provides centralized configuration for the substrate.
//
// Configuration follows a two-tier hierarchy over built-in defaults:
//  1. An optional YAML override file
//  2. Environment variables (highest priority)
//
// There is no database configuration tier: the substrate has no persistent
// storage backend to host one. All values have sensible defaults and can be
// overridden through environment variables or the override file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the running substrate: the ambient logger,
// the event bus's dispatch queue, and the executor's isolation guard.
type Config struct {
	// Logging
	// =======

	// LogLevel sets the minimum log level for message output.
	// Environment: SUBSTRATE_LOG_LEVEL
	// Default: "info"
	// Valid values: "trace", "debug", "info", "warn", "error"
	LogLevel string `yaml:"log_level"`

	// TraceSubsystems names the subsystems whose logger.TraceIf output is
	// enabled. That output also needs LogLevel "trace"; naming a subsystem
	// does not lift the global level.
	// Environment: SUBSTRATE_TRACE_SUBSYSTEMS (comma-separated)
	// Default: none
	TraceSubsystems []string `yaml:"trace_subsystems"`

	// Event bus
	// =========

	// EventQueueSize is the event bus's dispatch queue buffer size.
	// Environment: SUBSTRATE_EVENT_QUEUE_SIZE
	// Default: 256
	EventQueueSize int `yaml:"event_queue_size"`

	// EventHandlerTimeout is the default deadline given to a subscription
	// handler that does not declare its own.
	// Environment: SUBSTRATE_EVENT_HANDLER_TIMEOUT (seconds)
	// Default: 5 seconds
	EventHandlerTimeout time.Duration `yaml:"event_handler_timeout"`

	// Executor
	// ========

	// MaxIsolationDepth is the deepest hierarchical ownership path the
	// executor accepts in an input tree; isolate() rejects a deeper tree with
	// IsolationDepthError once the tree has been copied and walked.
	// Environment: SUBSTRATE_MAX_ISOLATION_DEPTH
	// Default: 64
	MaxIsolationDepth int `yaml:"max_isolation_depth"`
}

// defaults returns the configuration the substrate runs with when neither
// an override file nor any environment variable is present.
func defaults() *Config {
	return &Config{
		LogLevel:            "info",
		TraceSubsystems:     nil,
		EventQueueSize:      256,
		EventHandlerTimeout: 5 * time.Second,
		MaxIsolationDepth:   64,
	}
}

// Load builds a Config from defaults, overlaid by the optional YAML file at
// overridePath (if it exists), overlaid in turn by environment variables.
// Passing an empty overridePath skips the file tier entirely.
func Load(overridePath string) (*Config, error) {
	cfg := defaults()
	if overridePath != "" {
		if err := applyFile(cfg, overridePath); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyFile overlays cfg with whatever fields are present in the YAML file
// at path. A missing file is not an error — the override tier is optional.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading override file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing override file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays cfg with whatever SUBSTRATE_* environment variables are
// set. This runs after the file tier, so env vars win — matching the
// teacher's documented priority order with the database tier removed.
func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnv("SUBSTRATE_LOG_LEVEL", cfg.LogLevel)
	cfg.TraceSubsystems = getEnvStringSlice("SUBSTRATE_TRACE_SUBSYSTEMS", cfg.TraceSubsystems)
	cfg.EventQueueSize = getEnvInt("SUBSTRATE_EVENT_QUEUE_SIZE", cfg.EventQueueSize)
	cfg.EventHandlerTimeout = getEnvDuration("SUBSTRATE_EVENT_HANDLER_TIMEOUT", cfg.EventHandlerTimeout)
	cfg.MaxIsolationDepth = getEnvInt("SUBSTRATE_MAX_ISOLATION_DEPTH", cfg.MaxIsolationDepth)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return time.Duration(intValue) * time.Second
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
