package manager

import (
	"runtime"

	"github.com/rs/zerolog"

	"mlcserve/internal/engine"
	"mlcserve/internal/store"
)

// ManagerConfig encapsulates all inputs for Manager construction.
type ManagerConfig struct {
	Store *store.Store
	// Ref names the store entry to serve ("tag" or "tag:version").
	Ref string
	// ModelID is the id the engine is registered under; it defaults to the
	// entry's recorded model id, then to the tag.
	ModelID string
	// Factory brings up an engine for an entry directory and library path.
	Factory engine.Factory
	// GOOS selects the library extension; defaults to runtime.GOOS.
	GOOS      string
	Publisher EventPublisher
	Logger    zerolog.Logger
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.GOOS == "" {
		c.GOOS = runtime.GOOS
	}
	if c.Publisher == nil {
		c.Publisher = LogPublisher{Logger: c.Logger}
	}
	return c
}

// NewWithConfig constructs an uninitialized Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:   cfg,
		state: StateUninitialized,
		pub:   cfg.Publisher,
		log:   cfg.Logger,
	}
}
