package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mlcserve/internal/engine"
	"mlcserve/internal/registry"
	"mlcserve/internal/store"
	"mlcserve/pkg/types"
)

type Manager struct {
	mu        sync.RWMutex
	cfg       ManagerConfig
	state     State
	err       string
	model     types.Model
	serving   *registry.ServingContext
	pub       EventPublisher
	log       zerolog.Logger
	startTime time.Time
}

// Start constructs a Manager and brings it to ready.
func Start(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	m := NewWithConfig(cfg)
	if err := m.Start(ctx); err != nil {
		return m, err
	}
	return m, nil
}

// Start resolves the store entry, locates its library, starts the engine
// and registers it. Failures leave the manager stopped; anything acquired
// along the way is released.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("manager already %s", st)
	}
	m.state = StateStarting
	m.startTime = time.Now()
	m.mu.Unlock()
	m.pub.Publish(Event{Name: EventStarting, ModelID: m.cfg.Ref})

	model, serving, err := m.start(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateStopped
		m.err = err.Error()
		m.pub.Publish(Event{Name: EventFailed, ModelID: m.cfg.Ref, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.model = model
	m.serving = serving
	m.state = StateReady
	m.pub.Publish(Event{Name: EventReady, ModelID: model.ID, Fields: map[string]any{
		"path":    model.Path,
		"library": model.Library,
		"startup": time.Since(m.startTime).String(),
	}})
	return nil
}

func (m *Manager) start(ctx context.Context) (types.Model, *registry.ServingContext, error) {
	cfg := m.cfg
	if cfg.Store == nil {
		return types.Model{}, nil, errors.New("manager: no store configured")
	}
	if cfg.Factory == nil {
		return types.Model{}, nil, errors.New("manager: no engine factory configured")
	}
	entry, err := cfg.Store.Get(cfg.Ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Model{}, nil, fmt.Errorf("%w: %s: %w", ErrEntryNotFound, cfg.Ref, err)
		}
		return types.Model{}, nil, fmt.Errorf("resolve %s: %w", cfg.Ref, err)
	}
	lib, err := registry.LocateLibrary(entry.Path, registry.LibraryExt(cfg.GOOS))
	if err != nil {
		return types.Model{}, nil, fmt.Errorf("entry %s: %w", entry.Ref(), err)
	}
	model := modelFor(entry, lib, cfg.ModelID)
	m.log.Info().Str("entry", entry.Ref()).Str("library", lib).Msg("engine_start")

	eng, err := cfg.Factory(ctx, entry.Path, lib)
	if err != nil {
		return types.Model{}, nil, fmt.Errorf("start engine for %s: %w", entry.Ref(), err)
	}
	serving := registry.Acquire()
	if err := serving.Add(model.ID, eng); err != nil {
		// The engine is not registered yet, so releasing the context alone
		// would leak it.
		_ = eng.Close()
		_ = serving.Close()
		return types.Model{}, nil, fmt.Errorf("register %s: %w", model.ID, err)
	}
	if err := ctx.Err(); err != nil {
		_ = serving.Close()
		return types.Model{}, nil, err
	}
	return model, serving, nil
}

func modelFor(e store.Entry, lib, modelID string) types.Model {
	if modelID == "" {
		modelID = e.Manifest.ModelID
	}
	if modelID == "" {
		modelID = e.Tag
	}
	return types.Model{
		ID:      modelID,
		Tag:     e.Tag,
		Version: e.Version,
		Path:    e.Path,
		Library: filepath.Base(lib),
		Device:  e.Manifest.Device,
	}
}

// Close stops serving and releases the serving context. It is safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	serving, id := m.serving, m.model.ID
	wasReady := m.state == StateReady
	m.state = StateStopped
	m.mu.Unlock()
	if serving == nil {
		return nil
	}
	err := serving.Close()
	if wasReady {
		m.pub.Publish(Event{Name: EventStopped, ModelID: id})
	}
	return err
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.model.ID == "" {
		return []types.Model{}
	}
	return []types.Model{m.model}
}

// DefaultModel is the id /generate is served from.
func (m *Manager) DefaultModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model.ID
}

// Engine returns the engine serving modelID; an empty id selects the
// default model.
func (m *Manager) Engine(modelID string) (engine.Engine, error) {
	m.mu.RLock()
	state, serving := m.state, m.serving
	if modelID == "" {
		modelID = m.model.ID
	}
	m.mu.RUnlock()
	if state != StateReady || serving == nil {
		return nil, ErrDependencyUnavailable("engine not ready: " + string(state))
	}
	eng, ok := serving.Engine(modelID)
	if !ok {
		return nil, ErrModelNotFound(modelID)
	}
	return eng, nil
}
