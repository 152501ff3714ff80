package llm

import (
	"context"
	"log/slog"
	"sync"
)

type cacheKey struct {
	model       string
	temperature float64
}

// Cache hands out completer handles pinned to a (model, temperature) pair,
// creating each handle once.
type Cache struct {
	backend Completer

	mu      sync.RWMutex
	handles map[cacheKey]*Handle
}

// NewCache creates a Cache over backend.
func NewCache(backend Completer) *Cache {
	return &Cache{
		backend: backend,
		handles: make(map[cacheKey]*Handle),
	}
}

// Get returns the handle for (model, temperature), creating it on first use.
func (c *Cache) Get(model string, temperature float64) *Handle {
	key := cacheKey{model: model, temperature: temperature}

	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return h
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[key]; ok {
		return h
	}
	h = &Handle{backend: c.backend, model: model, temperature: temperature}
	c.handles[key] = h
	slog.Debug("completion handle created", "model", model, "temperature", temperature)
	return h
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// ClearCache drops every cached handle.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.handles)
	c.handles = make(map[cacheKey]*Handle)
	slog.Info("completion cache cleared", "handles", n)
}

// Handle is a Completer pinned to one model and temperature. The pinned
// values override whatever the caller passes in Params.
type Handle struct {
	backend     Completer
	model       string
	temperature float64
}

// Model returns the pinned model name.
func (h *Handle) Model() string { return h.model }

func (h *Handle) Complete(ctx context.Context, messages []Message, p Params) (string, error) {
	p.Model = h.model
	p.Temperature = h.temperature
	return h.backend.Complete(ctx, messages, p)
}
