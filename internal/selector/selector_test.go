package selector_test

import (
	"context"
	"testing"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/selector"
)

type staticRoles map[string]persistence.Queue

func (r staticRoles) ClaimsFrom(ctx context.Context, role string) (persistence.Queue, bool) {
	q, ok := r[role]
	return q, ok
}

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSelectorClaimPicksOldestHighestPriority(t *testing.T) {
	store := newTestStore(t)
	eng := engine.New(store)
	sel := selector.New(store, nil)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, persistence.Task{ID: "low", Scope: "s", Branch: "b", FilePath: "f", Priority: persistence.PriorityP3}); err != nil {
		t.Fatalf("create low: %v", err)
	}
	if _, err := store.CreateTask(ctx, persistence.Task{ID: "high", Scope: "s", Branch: "b", FilePath: "f", Priority: persistence.PriorityP0}); err != nil {
		t.Fatalf("create high: %v", err)
	}

	claimed, _, err := sel.Claim(ctx, eng, selector.Request{
		Scope: "s", OrchestratorID: "orch-1", AgentName: "agent-1",
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != "high" {
		t.Fatalf("expected highest-priority task claimed, got %s", claimed.ID)
	}
}

func TestSelectorClaimNoTaskIsNotFound(t *testing.T) {
	store := newTestStore(t)
	eng := engine.New(store)
	sel := selector.New(store, nil)
	ctx := context.Background()

	_, _, err := sel.Claim(ctx, eng, selector.Request{Scope: "empty-scope", OrchestratorID: "o", AgentName: "a"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.NotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSelectorClaimRespectsScopeIsolation(t *testing.T) {
	store := newTestStore(t)
	eng := engine.New(store)
	sel := selector.New(store, nil)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, persistence.Task{ID: "t1", Scope: "scope-a", Branch: "b", FilePath: "f"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := sel.Claim(ctx, eng, selector.Request{Scope: "scope-b", OrchestratorID: "o", AgentName: "a"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.NotFound {
		t.Fatalf("expected not-found for cross-scope claim, got %v", err)
	}
}

func TestSelectorResolvesQueueFromRoleHint(t *testing.T) {
	store := newTestStore(t)
	eng := engine.New(store)
	roles := staticRoles{"reviewer": persistence.QueueProvisional}
	sel := selector.New(store, roles)
	ctx := context.Background()

	task, err := store.CreateTask(ctx, persistence.Task{ID: "t1", Scope: "s", Branch: "b", FilePath: "f", Role: "reviewer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimedOnce, _, err := eng.Claim(ctx, task, engine.ClaimRequest{
		TaskID: task.ID, ExpectedVersion: task.Version, FromQueue: persistence.QueueIncoming,
		RequestScope: "s", OrchestratorID: "o1", AgentName: "a1",
	})
	if err != nil {
		t.Fatalf("initial claim: %v", err)
	}
	if _, _, err := eng.Submit(ctx, claimedOnce, engine.SubmitRequest{
		TaskID: claimedOnce.ID, ExpectedVersion: claimedOnce.Version, CommitsCount: 1, TurnsUsed: 1,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	reviewed, _, err := sel.Claim(ctx, eng, selector.Request{
		Scope: "s", RoleFilter: []string{"reviewer"}, OrchestratorID: "o2", AgentName: "a2",
	})
	if err != nil {
		t.Fatalf("review claim: %v", err)
	}
	if reviewed.Queue != persistence.QueueProvisional {
		t.Fatalf("expected task to remain provisional after review claim, got %s", reviewed.Queue)
	}
	if reviewed.ClaimedBy != "a2" {
		t.Fatalf("expected reviewer to hold the lease, got %q", reviewed.ClaimedBy)
	}
}
