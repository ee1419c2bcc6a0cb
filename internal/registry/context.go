package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mlcserve/internal/engine"
)

// ServingContext maps model ids to the engines serving them. It is filled
// during startup, read concurrently by request handlers and released once
// at shutdown.
type ServingContext struct {
	mu       sync.RWMutex
	engines  map[string]engine.Engine
	closed   bool
	once     sync.Once
	releases int
}

// Acquire returns a fresh, empty serving context.
func Acquire() *ServingContext {
	return &ServingContext{engines: make(map[string]engine.Engine)}
}

// Add registers eng under modelID.
func (c *ServingContext) Add(modelID string, eng engine.Engine) error {
	if modelID == "" {
		return errors.New("model id is empty")
	}
	if eng == nil {
		return fmt.Errorf("nil engine for %s", modelID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("serving context released")
	}
	if _, ok := c.engines[modelID]; ok {
		return fmt.Errorf("model %s already registered", modelID)
	}
	c.engines[modelID] = eng
	return nil
}

// Engine looks up the engine serving modelID.
func (c *ServingContext) Engine(modelID string) (engine.Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eng, ok := c.engines[modelID]
	return eng, ok
}

// Models returns the registered model ids, sorted.
func (c *ServingContext) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.engines))
	for id := range c.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close releases the context and closes every registered engine. Only the
// first call does any work.
func (c *ServingContext) Close() error {
	var errs []error
	c.once.Do(func() {
		c.mu.Lock()
		engines := c.engines
		c.engines = map[string]engine.Engine{}
		c.closed = true
		c.releases++
		c.mu.Unlock()
		for id, eng := range engines {
			if err := eng.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
	})
	return errors.Join(errs...)
}

// Releases reports how many times the context was released (0 or 1).
func (c *ServingContext) Releases() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.releases
}
