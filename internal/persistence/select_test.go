package persistence_test

import (
	"context"
	"testing"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/persistence"
)

func TestSelectClaimableOrdersByPriorityThenAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateTask(ctx, persistence.Task{ID: "old-p2", Scope: "s", Branch: "b", Priority: persistence.PriorityP2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateTask(ctx, persistence.Task{ID: "new-p0", Scope: "s", Branch: "b", Priority: persistence.PriorityP0}); err != nil {
		t.Fatalf("create: %v", err)
	}

	best, err := store.SelectClaimable(ctx, persistence.ClaimFilter{Scope: "s"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if best.ID != "new-p0" {
		t.Fatalf("expected highest priority task selected, got %s", best.ID)
	}
}

func TestSelectClaimableExcludesBlockedQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upstream, err := store.CreateTask(ctx, persistence.Task{ID: "up", Scope: "s", Branch: "b"})
	if err != nil {
		t.Fatalf("create upstream: %v", err)
	}
	if _, err := store.CreateTask(ctx, persistence.Task{ID: "down", Scope: "s", Branch: "b", Queue: persistence.QueueBlocked, BlockedBy: upstream.ID}); err != nil {
		t.Fatalf("create downstream: %v", err)
	}

	best, err := store.SelectClaimable(ctx, persistence.ClaimFilter{Scope: "s"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if best.ID != "up" {
		t.Fatalf("expected only the unblocked task selectable, got %s", best.ID)
	}
}

func TestSelectClaimableExcludesBlockedByEvenInIncomingQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	upstream, err := store.CreateTask(ctx, persistence.Task{ID: "up", Scope: "s", Branch: "b"})
	if err != nil {
		t.Fatalf("create upstream: %v", err)
	}
	blocked, err := store.CreateTask(ctx, persistence.Task{ID: "blocked-but-incoming", Scope: "s", Branch: "b", Priority: persistence.PriorityP0})
	if err != nil {
		t.Fatalf("create blocked task: %v", err)
	}
	// PatchTask can set blocked_by without moving the task out of
	// incoming; the selector must still skip it rather than hand it to
	// a claim that engine.Claim's BlockedByEmpty guard would then reject.
	if _, err := store.PatchTask(ctx, blocked.ID, map[string]any{"blocked_by": upstream.ID}); err != nil {
		t.Fatalf("patch blocked_by: %v", err)
	}

	best, err := store.SelectClaimable(ctx, persistence.ClaimFilter{Scope: "s"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if best.ID != "up" {
		t.Fatalf("expected selector to skip the blocked_by task despite higher priority, got %s", best.ID)
	}
}

func TestSelectClaimableNoRowIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SelectClaimable(context.Background(), persistence.ClaimFilter{Scope: "empty"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.NotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestOrchestratorRegisterHeartbeatAndStaleness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o, err := store.RegisterOrchestrator(ctx, persistence.Orchestrator{ID: "c-m1", Cluster: "c", MachineID: "m1", Scope: "s"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if o.Status != "active" {
		t.Fatalf("expected active status, got %s", o.Status)
	}

	if err := store.Heartbeat(ctx, "c-m1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestRoleAndFlowRegistries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertRole(ctx, persistence.Role{Name: "reviewer", ClaimsFrom: persistence.QueueProvisional}); err != nil {
		t.Fatalf("upsert role: %v", err)
	}
	role, err := store.GetRole(ctx, "reviewer")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.ClaimsFrom != persistence.QueueProvisional {
		t.Fatalf("expected claims_from provisional, got %s", role.ClaimsFrom)
	}

	if err := store.UpsertFlow(ctx, persistence.Flow{Name: "standard"}); err != nil {
		t.Fatalf("upsert flow: %v", err)
	}
	flows, err := store.ListFlows(ctx)
	if err != nil {
		t.Fatalf("list flows: %v", err)
	}
	if len(flows) != 1 || flows[0].Name != "standard" {
		t.Fatalf("expected one flow named standard, got %+v", flows)
	}
}
