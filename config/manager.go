package config

import (
	"sync"

	"github.com/entityflow/entityflow/eventbus"
	"github.com/entityflow/entityflow/executor"
	"github.com/entityflow/entityflow/logger"
)

// Manager holds the substrate's active configuration; the package functions
// ApplyLogger, NewEventBus and EngineOptions apply a Config to the logger,
// a new event bus and an executor engine. Manager exists mainly to
// give a long-running process a safe way to reload its override file and
// environment without tearing down and rebuilding every dependent.
//
// There is no database configuration tier and no cache TTL to manage here:
// persistent storage is out of scope, so the only two tiers are the
// override file and the environment, both read fresh on every Reload.
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	overridePath string
}

// NewManager loads a Config from overridePath and the environment and
// returns a Manager ready to apply it.
func NewManager(overridePath string) (*Manager, error) {
	cfg, err := Load(overridePath)
	if err != nil {
		return nil, err
	}
	return &Manager{config: cfg, overridePath: overridePath}, nil
}

// Config returns the currently active configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Reload re-reads the override file and environment, replacing the active
// configuration. It does not retroactively reconfigure bus or engine
// instances already constructed with the previous configuration — callers
// that need that should re-run NewEventBus/EngineOptions against the new
// Config themselves.
func (m *Manager) Reload() error {
	cfg, err := Load(m.overridePath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// ApplyLogger configures the package-level logger from cfg: the minimum
// log level and the set of subsystems logger.TraceIf output is enabled for
// (that output still needs the trace level).
// Setting any TraceSubsystems also flips the master tracing switch —
// StartTrace/LogExecutionPhase/LogLockOperation are all no-ops until it is
// on, so naming a subsystem without this would silently produce nothing.
func ApplyLogger(cfg *Config) error {
	if cfg.LogLevel != "" {
		if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	logger.EnableTracing(len(cfg.TraceSubsystems) > 0)
	if len(cfg.TraceSubsystems) > 0 {
		logger.EnableTrace(cfg.TraceSubsystems...)
	}
	return nil
}

// NewEventBus constructs a Bus using cfg's dispatch queue size and default
// handler timeout, in place of eventbus.Default()'s built-in defaults.
func NewEventBus(cfg *Config) *eventbus.Bus {
	return eventbus.NewBus(
		eventbus.WithQueueSize(cfg.EventQueueSize),
		eventbus.WithDefaultTimeout(cfg.EventHandlerTimeout),
	)
}

// EngineOptions translates cfg into the executor.EngineOptions a caller
// should pass to executor.NewEngine.
func EngineOptions(cfg *Config) []executor.EngineOption {
	return []executor.EngineOption{
		executor.WithMaxIsolationDepth(cfg.MaxIsolationDepth),
	}
}
