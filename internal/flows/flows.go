// Package flows is the minimal in-memory-cached registry for the
// declarative flow labels the core treats as opaque strings on a task.
package flows

import (
	"context"
	"sync"

	"github.com/fleetci/taskhub/internal/persistence"
)

// Registry caches the persistence flows table in memory.
type Registry struct {
	store *persistence.Store

	mu    sync.RWMutex
	flows map[string]persistence.Flow
}

func NewRegistry(store *persistence.Store) *Registry {
	return &Registry{store: store, flows: make(map[string]persistence.Flow)}
}

// Load populates the in-memory cache from the store.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.store.ListFlows(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = make(map[string]persistence.Flow, len(list))
	for _, f := range list {
		r.flows[f.Name] = f
	}
	return nil
}

// Register persists a flow label and updates the cache.
func (r *Registry) Register(ctx context.Context, flow persistence.Flow) error {
	if err := r.store.UpsertFlow(ctx, flow); err != nil {
		return err
	}
	r.mu.Lock()
	r.flows[flow.Name] = flow
	r.mu.Unlock()
	return nil
}

// List returns every registered flow label.
func (r *Registry) List() []persistence.Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persistence.Flow, 0, len(r.flows))
	for _, f := range r.flows {
		out = append(out, f)
	}
	return out
}
