package facade_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/facade"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/reconciler"
	"github.com/fleetci/taskhub/internal/roles"
	"github.com/fleetci/taskhub/internal/selector"
	"github.com/fleetci/taskhub/internal/validate"
)

func newHarness(t *testing.T) (*facade.Facade, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	roleRegistry := roles.NewRegistry(store)
	if err := roleRegistry.Load(context.Background()); err != nil {
		t.Fatalf("load roles: %v", err)
	}
	eng := engine.New(store)
	sel := selector.New(store, roleRegistry)
	f := facade.New(store, eng, sel, roleRegistry, validate.New())
	return f, store
}

// Scenario 1: happy path.
func TestScenarioHappyPath(t *testing.T) {
	f, _ := newHarness(t)
	ctx := context.Background()

	task, err := f.CreateTask(ctx, facade.CreateTaskRequest{
		ID: "T1", Scope: "S", Role: "implement", Branch: "main", Priority: persistence.PriorityP1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Queue != persistence.QueueIncoming {
		t.Fatalf("expected incoming, got %s", task.Queue)
	}

	before := time.Now()
	claimed, _, err := f.Claim(ctx, facade.ClaimRequest{
		Scope: "S", RoleFilter: []string{"implement"}, AgentName: "A1", OrchestratorID: "O1",
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Queue != persistence.QueueClaimed || claimed.ClaimedBy != "A1" {
		t.Fatalf("expected claimed by A1, got queue=%s claimed_by=%s", claimed.Queue, claimed.ClaimedBy)
	}
	if claimed.LeaseExpiresAt == nil || claimed.LeaseExpiresAt.Before(before.Add(250*time.Second)) {
		t.Fatalf("expected lease ~300s out, got %v", claimed.LeaseExpiresAt)
	}

	submitted, _, err := f.Submit(ctx, facade.SubmitRequest{
		TaskID: claimed.ID, ExpectedVersion: claimed.Version, CommitsCount: 3, TurnsUsed: 10,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Queue != persistence.QueueProvisional {
		t.Fatalf("expected provisional, got %s", submitted.Queue)
	}

	accepted, _, err := f.Accept(ctx, submitted.ID, submitted.Version, "reviewer-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Queue != persistence.QueueDone || accepted.CompletedAt == nil {
		t.Fatalf("expected done with completed_at set, got queue=%s completed_at=%v", accepted.Queue, accepted.CompletedAt)
	}
}

// Scenario 2: race under claim — exactly one winner, final version 2.
func TestScenarioRaceUnderClaim(t *testing.T) {
	f, store := newHarness(t)
	ctx := context.Background()

	if _, err := f.CreateTask(ctx, facade.CreateTaskRequest{ID: "T1", Scope: "S", Branch: "main"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.Claim(ctx, facade.ClaimRequest{Scope: "S", AgentName: "A", OrchestratorID: "O"})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if e, ok := apierr.As(err); !ok || (e.Kind != apierr.NotFound && e.Kind != apierr.Conflict) {
			t.Fatalf("expected not-found or conflict for losing race, got %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}

	final, err := store.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if final.Version != 2 {
		t.Fatalf("expected final version 2, got %d", final.Version)
	}
}

// Scenario 3: lease expiry.
func TestScenarioLeaseExpiry(t *testing.T) {
	f, store := newHarness(t)
	ctx := context.Background()

	if _, err := f.CreateTask(ctx, facade.CreateTaskRequest{ID: "T1", Scope: "S", Branch: "main"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, _, err := f.Claim(ctx, facade.ClaimRequest{
		Scope: "S", AgentName: "A1", OrchestratorID: "O1", LeaseDuration: time.Second,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Queue != persistence.QueueClaimed {
		t.Fatalf("expected claimed, got %s", claimed.Queue)
	}

	sched := reconciler.New(reconciler.Config{Store: store, Interval: time.Minute})
	future := time.Now().Add(2 * time.Second)
	requeued, err := store.RequeueExpiredLeases(ctx, future)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "T1" {
		t.Fatalf("expected T1 requeued, got %v", requeued)
	}
	_ = sched

	refetched, err := store.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if refetched.Queue != persistence.QueueIncoming || refetched.ClaimedBy != "" {
		t.Fatalf("expected back in incoming with no claimant, got queue=%s claimed_by=%q", refetched.Queue, refetched.ClaimedBy)
	}

	reclaimed, _, err := f.Claim(ctx, facade.ClaimRequest{Scope: "S", AgentName: "A2", OrchestratorID: "O2"})
	if err != nil {
		t.Fatalf("fresh claim after expiry: %v", err)
	}
	if reclaimed.ClaimedBy != "A2" {
		t.Fatalf("expected fresh agent to claim, got %q", reclaimed.ClaimedBy)
	}
}

// Scenario 4: burnout.
func TestScenarioBurnout(t *testing.T) {
	f, store := newHarness(t)
	ctx := context.Background()

	if _, err := f.CreateTask(ctx, facade.CreateTaskRequest{ID: "T2", Scope: "S", Branch: "main"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, _, err := f.Claim(ctx, facade.ClaimRequest{Scope: "S", AgentName: "A", OrchestratorID: "O"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	submitted, effect, err := f.Submit(ctx, facade.SubmitRequest{
		TaskID: claimed.ID, ExpectedVersion: claimed.Version, CommitsCount: 0, TurnsUsed: 85,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Queue != persistence.QueueNeedsContinuation {
		t.Fatalf("expected needs_continuation, got %s", submitted.Queue)
	}
	if sr, ok := effect.(engine.SubmissionRecorded); !ok || !sr.BurnoutRouted {
		t.Fatalf("expected burnout-routed effect, got %#v", effect)
	}

	history, err := store.ListHistory(ctx, "T2")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	found := false
	for _, h := range history {
		if h.Event == persistence.EventBurnoutDetected {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected burnout_detected history entry, got %+v", history)
	}
}

// Scenario 5: scope isolation.
func TestScenarioScopeIsolation(t *testing.T) {
	f, _ := newHarness(t)
	ctx := context.Background()

	if _, err := f.CreateTask(ctx, facade.CreateTaskRequest{ID: "T1", Scope: "A", Branch: "main"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := f.Claim(ctx, facade.ClaimRequest{Scope: "B", AgentName: "A1", OrchestratorID: "O1"})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.NotFound {
		t.Fatalf("expected not-found claiming across scopes, got %v", err)
	}

	tasks, _, err := f.ListTasks(ctx, "B", "", 50, 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.ID == "T1" {
			t.Fatalf("expected scope B listing to omit T1")
		}
	}
}

// Scenario 6: reject cycle.
func TestScenarioRejectCycle(t *testing.T) {
	f, _ := newHarness(t)
	ctx := context.Background()

	if _, err := f.CreateTask(ctx, facade.CreateTaskRequest{ID: "T1", Scope: "S", Branch: "main"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, _, err := f.Claim(ctx, facade.ClaimRequest{Scope: "S", AgentName: "A", OrchestratorID: "O"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitted, _, err := f.Submit(ctx, facade.SubmitRequest{
		TaskID: claimed.ID, ExpectedVersion: claimed.Version, CommitsCount: 1, TurnsUsed: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rejected, _, err := f.Reject(ctx, submitted.ID, submitted.Version, "needs more tests", "reviewer-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Queue != persistence.QueueIncoming {
		t.Fatalf("expected back in incoming, got %s", rejected.Queue)
	}
	if rejected.ClaimedBy != "" || rejected.LeaseExpiresAt != nil {
		t.Fatalf("expected lease fields cleared, got claimed_by=%q lease=%v", rejected.ClaimedBy, rejected.LeaseExpiresAt)
	}
	if rejected.RejectionCount != 1 {
		t.Fatalf("expected rejection_count 1, got %d", rejected.RejectionCount)
	}
}
