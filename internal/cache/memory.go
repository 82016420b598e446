// Package cache provides metadata cache implementations for the edge path.
package cache

import (
	"context"
	"sync"

	"github.com/discoverly/edgeschema/internal/schema"
)

// Memory is an in-process cache for development and testing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]schema.JSONLD
}

// NewMemory constructs an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]schema.JSONLD)}
}

// Get returns the cached document for key, if present.
func (m *Memory) Get(_ context.Context, key string) (schema.JSONLD, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneDoc(doc), true, nil
}

// Put stores doc under key, replacing any previous value.
func (m *Memory) Put(_ context.Context, key string, doc schema.JSONLD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cloneDoc(doc)
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneDoc(doc schema.JSONLD) schema.JSONLD {
	out := make(schema.JSONLD, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
