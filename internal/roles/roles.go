// Package roles is the minimal in-memory-cached registry backing the
// core's role-known-set validation and the selector's claims_from hint
// lookup. It owns no workflow semantics of its own.
package roles

import (
	"context"
	"sync"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/persistence"
)

// Registry caches the persistence roles table in memory, refreshed on
// every write and available for cheap reads on the claim hot path.
type Registry struct {
	store *persistence.Store

	mu    sync.RWMutex
	roles map[string]persistence.Role
}

func NewRegistry(store *persistence.Store) *Registry {
	return &Registry{store: store, roles: make(map[string]persistence.Role)}
}

// Load populates the in-memory cache from the store. Call once at
// startup and after any config hot-reload that touches roles.yaml.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.store.ListRoles(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = make(map[string]persistence.Role, len(list))
	for _, role := range list {
		r.roles[role.Name] = role
	}
	return nil
}

// Register persists a role and updates the in-memory cache.
func (r *Registry) Register(ctx context.Context, role persistence.Role) error {
	if err := r.store.UpsertRole(ctx, role); err != nil {
		return err
	}
	r.mu.Lock()
	r.roles[role.Name] = role
	r.mu.Unlock()
	return nil
}

// List returns every registered role.
func (r *Registry) List() []persistence.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]persistence.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out
}

// Known reports whether any roles are registered at all, and if so,
// whether name is one of them — spec's "if role given and any roles are
// registered, it must be a known role" validation rule.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// HasAny reports whether the registry carries at least one role.
func (r *Registry) HasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles) > 0
}

// ValidateTaskRole applies the known-role validation rule at task
// creation time.
func (r *Registry) ValidateTaskRole(role string) error {
	if role == "" {
		return nil
	}
	if !r.HasAny() {
		return nil
	}
	if !r.Known(role) {
		return apierr.Validationf("unknown role %q", role)
	}
	return nil
}

// ClaimsFrom implements selector.RoleLookup.
func (r *Registry) ClaimsFrom(ctx context.Context, role string) (persistence.Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.roles[role]
	if !ok || rec.ClaimsFrom == "" {
		return "", false
	}
	return rec.ClaimsFrom, true
}
