// Package selector implements the claim request's queue resolution and
// candidate selection, handing the winning row to the engine's claim
// transition with the version observed at selection time.
package selector

import (
	"context"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/persistence"
)

const (
	DefaultLeaseDuration = 300 * time.Second
	MaxLeaseDuration      = 3600 * time.Second
)

// Selector resolves a claim request's target queue, picks the oldest
// highest-priority eligible task, and drives the engine's claim
// transition against it.
type Selector struct {
	store *persistence.Store
	roles RoleLookup
}

// RoleLookup resolves a role's claims_from hint. Satisfied by
// internal/roles.Registry; a minimal interface here keeps selector
// independent of that package's storage details.
type RoleLookup interface {
	ClaimsFrom(ctx context.Context, role string) (persistence.Queue, bool)
}

func New(store *persistence.Store, roles RoleLookup) *Selector {
	return &Selector{store: store, roles: roles}
}

// Request is the caller-supplied input to a claim attempt.
type Request struct {
	Scope          string
	Queue          persistence.Queue // optional override
	RoleFilter     []string
	TypeFilter     []string
	OrchestratorID string
	AgentName      string
	LeaseDuration  time.Duration
}

// resolveQueue implements spec's queue resolution algorithm: explicit
// queue wins; otherwise a single-role filter's claims_from hint;
// otherwise incoming.
func (s *Selector) resolveQueue(ctx context.Context, req Request) persistence.Queue {
	if req.Queue != "" {
		return req.Queue
	}
	if len(req.RoleFilter) == 1 && s.roles != nil {
		if hint, ok := s.roles.ClaimsFrom(ctx, req.RoleFilter[0]); ok && hint != "" {
			return hint
		}
	}
	return persistence.QueueIncoming
}

// Claim resolves the target queue, selects the best candidate, and
// attempts the engine's claim transition. A losing race surfaces as
// apierr.Conflict from the engine; the caller decides whether to retry
// the whole selection (a fresh SelectClaimable call) or give up.
func (s *Selector) Claim(ctx context.Context, eng *engine.Engine, req Request) (persistence.Task, engine.Effect, error) {
	if req.Scope == "" {
		return persistence.Task{}, nil, apierr.Validationf("scope is required")
	}

	leaseDuration := req.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	if leaseDuration > MaxLeaseDuration {
		leaseDuration = MaxLeaseDuration
	}

	resolvedQueue := s.resolveQueue(ctx, req)

	candidate, err := s.store.SelectClaimable(ctx, persistence.ClaimFilter{
		Scope:      req.Scope,
		Queue:      resolvedQueue,
		RoleFilter: req.RoleFilter,
		TypeFilter: req.TypeFilter,
	})
	if err != nil {
		return persistence.Task{}, nil, apierr.NotFoundf("No tasks available")
	}

	if resolvedQueue == persistence.QueueProvisional {
		t, effect, err := eng.ClaimForReview(ctx, candidate, engine.ClaimForReviewRequest{
			TaskID: candidate.ID, ExpectedVersion: candidate.Version,
			RequestScope: req.Scope, RoleFilter: req.RoleFilter,
			OrchestratorID: req.OrchestratorID, AgentName: req.AgentName,
			LeaseDuration: leaseDuration,
		})
		return t, effect, err
	}

	t, effect, err := eng.Claim(ctx, candidate, engine.ClaimRequest{
		TaskID: candidate.ID, ExpectedVersion: candidate.Version, FromQueue: resolvedQueue,
		RequestScope: req.Scope, RoleFilter: req.RoleFilter,
		OrchestratorID: req.OrchestratorID, AgentName: req.AgentName,
		LeaseDuration: leaseDuration,
	})
	return t, effect, err
}
