// Package cache stores node outputs keyed by the content-sensitive cache
// key from ir.NodeState.ComputeCacheKey.
//
// Two implementations exist: Memory, private to one process, and Badger,
// which survives restarts so a re-run of an unchanged graph executes nothing.
package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/kiln/internal/ir"
)

// Entry is what a successful node execution leaves behind.
type Entry struct {
	Outputs  map[string]ir.DataHandle `json:"outputs"`
	Facets   []ir.Facet               `json:"facets"`
	StoredAt time.Time                `json:"stored_at"`
}

func (e Entry) clone() Entry {
	out := Entry{StoredAt: e.StoredAt}
	if e.Outputs != nil {
		out.Outputs = maps.Clone(e.Outputs)
	}
	if e.Facets != nil {
		out.Facets = slices.Clone(e.Facets)
	}
	return out
}

// Cache is the engine's memo table. Implementations must be safe for
// concurrent use. Only complete, successful results may be Put.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Len(ctx context.Context) (int, error)
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (m *Memory) Put(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e.clone()
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
