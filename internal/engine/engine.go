package engine

import (
	"context"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/bus"
	"github.com/fleetci/taskhub/internal/persistence"
)

// Engine is the sole entry point for mutating task state. It evaluates
// guards, delegates the single conditional write to the store, and
// reports the committed side effect alongside the task's new state.
// Every method either returns a non-nil Effect and a nil error, or a
// nil Effect and a non-nil error — never both.
type Engine struct {
	store *persistence.Store
	bus   *bus.Bus // optional; nil means no publication
}

func New(store *persistence.Store) *Engine {
	return &Engine{store: store}
}

// WithBus attaches an event bus that every successful transition
// publishes a lifecycle event to. Publication happens after the
// primary write has already committed, matching the history log's
// own after-the-fact, best-effort append.
func (e *Engine) WithBus(b *bus.Bus) *Engine {
	e.bus = b
	return e
}

func (e *Engine) publish(topic string, t persistence.Task, agent, details string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, bus.LifecycleEvent{TaskID: t.ID, Queue: string(t.Queue), Agent: agent, Details: details})
}

// ClaimRequest carries the caller-resolved inputs for a claim attempt.
// The selector is responsible for finding the candidate and its
// observed version; the engine only re-validates and writes.
type ClaimRequest struct {
	TaskID         string
	ExpectedVersion int64
	FromQueue      persistence.Queue
	RequestScope   string
	RoleFilter     []string
	OrchestratorID string
	AgentName      string
	LeaseDuration  time.Duration
}

// Claim evaluates blocked_by, role, and scope guards against the
// observed task, then issues the conditional write. A failing guard is
// reported as CONFLICT (the task did not qualify at observation time) or
// DEPENDENCY (blocked_by unresolved), matching spec §7's mapping; a
// guard pass never guarantees the subsequent write succeeds, since a
// concurrent writer may have already moved the row.
func (e *Engine) Claim(ctx context.Context, observed persistence.Task, req ClaimRequest) (persistence.Task, Effect, error) {
	if !(BlockedByEmpty{BlockedBy: observed.BlockedBy}).Holds() {
		return persistence.Task{}, nil, apierr.Dependencyf("task %q is blocked by %q", observed.ID, observed.BlockedBy)
	}
	if !(RoleMatches{Filter: req.RoleFilter, TaskRole: observed.Role}).Holds() {
		return persistence.Task{}, nil, apierr.Conflictf("task %q role %q does not match filter", observed.ID, observed.Role)
	}
	if !(ScopeMatches{Expected: req.RequestScope, Actual: observed.Scope}).Holds() {
		return persistence.Task{}, nil, apierr.Conflictf("task %q scope %q does not match request scope %q", observed.ID, observed.Scope, req.RequestScope)
	}

	if req.LeaseDuration <= 0 {
		req.LeaseDuration = 300 * time.Second
	}

	t, err := e.store.Claim(ctx, req.TaskID, req.ExpectedVersion, req.FromQueue, req.OrchestratorID, req.AgentName, req.LeaseDuration)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskClaimed, t, req.AgentName, "")
	return t, LeaseGranted{
		ClaimedBy:      t.ClaimedBy,
		OrchestratorID: t.OrchestratorID,
		LeaseExpiresAt: *t.LeaseExpiresAt,
	}, nil
}

// ClaimForReviewRequest carries the inputs for claiming a provisional
// task for review without disturbing its submission payload.
type ClaimForReviewRequest struct {
	TaskID          string
	ExpectedVersion int64
	RequestScope    string
	RoleFilter      []string
	OrchestratorID  string
	AgentName       string
	LeaseDuration   time.Duration
}

func (e *Engine) ClaimForReview(ctx context.Context, observed persistence.Task, req ClaimForReviewRequest) (persistence.Task, Effect, error) {
	if !(RoleMatches{Filter: req.RoleFilter, TaskRole: observed.Role}).Holds() {
		return persistence.Task{}, nil, apierr.Conflictf("task %q role %q does not match filter", observed.ID, observed.Role)
	}
	if !(ScopeMatches{Expected: req.RequestScope, Actual: observed.Scope}).Holds() {
		return persistence.Task{}, nil, apierr.Conflictf("task %q scope %q does not match request scope %q", observed.ID, observed.Scope, req.RequestScope)
	}
	if req.LeaseDuration <= 0 {
		req.LeaseDuration = 300 * time.Second
	}

	t, err := e.store.ClaimForReview(ctx, req.TaskID, req.ExpectedVersion, req.OrchestratorID, req.AgentName, req.LeaseDuration)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskClaimed, t, req.AgentName, "review")
	return t, LeaseGranted{
		ClaimedBy:      t.ClaimedBy,
		OrchestratorID: t.OrchestratorID,
		LeaseExpiresAt: *t.LeaseExpiresAt,
	}, nil
}

// SubmitRequest carries the evidence an orchestrator reports at submit
// time.
type SubmitRequest struct {
	TaskID          string
	ExpectedVersion int64
	CommitsCount    int
	TurnsUsed       int
	CheckResults    string
	ExecutionNotes  string
}

// Submit checks the lease is still live, then records the submission.
// Routing to needs_continuation versus provisional is decided inside
// the conditional write itself so the routing decision and the write
// commit atomically together. When the task was created with
// auto_accept and burnout didn't intervene, the provisional landing is
// immediately followed by a real Accept call — the only path to done,
// so auto_accept still gets its completed_at/accepted_by/EventAccepted
// side effects and the unblock cascade instead of a bypass.
func (e *Engine) Submit(ctx context.Context, observed persistence.Task, req SubmitRequest) (persistence.Task, Effect, error) {
	if !(LeaseValid{LeaseExpiresAt: observed.LeaseExpiresAt, Now: time.Now()}).Holds() {
		return persistence.Task{}, nil, apierr.Conflictf("task %q has no active lease", observed.ID)
	}

	t, err := e.store.Submit(ctx, req.TaskID, req.ExpectedVersion, req.CommitsCount, req.TurnsUsed, req.CheckResults, req.ExecutionNotes)
	if err != nil {
		return persistence.Task{}, nil, err
	}

	burnout := persistence.ShouldRouteToBurnout(req.CommitsCount, req.TurnsUsed)
	e.publish(bus.TopicTaskSubmitted, t, observed.ClaimedBy, "")
	if burnout {
		e.publish(bus.TopicTaskBurnoutDetected, t, observed.ClaimedBy, "")
	}

	if !burnout && observed.AutoAccept {
		t, _, err = e.Accept(ctx, t, t.Version, observed.ClaimedBy)
		if err != nil {
			return persistence.Task{}, nil, err
		}
	}

	return t, SubmissionRecorded{
		RoutedTo:      string(t.Queue),
		BurnoutRouted: burnout,
		CommitsCount:  req.CommitsCount,
		TurnsUsed:     req.TurnsUsed,
	}, nil
}

// Accept moves a provisional task to done and unblocks its dependents.
func (e *Engine) Accept(ctx context.Context, observed persistence.Task, expectedVersion int64, acceptedBy string) (persistence.Task, Effect, error) {
	t, err := e.store.Accept(ctx, observed.ID, expectedVersion, acceptedBy)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskAccepted, t, acceptedBy, "")
	return t, Completed{CompletedAt: *t.CompletedAt}, nil
}

// Reject moves a provisional task back to incoming, releasing its
// lease, and increments its rejection tally.
func (e *Engine) Reject(ctx context.Context, observed persistence.Task, expectedVersion int64, reason, rejectedBy string) (persistence.Task, Effect, error) {
	t, err := e.store.Reject(ctx, observed.ID, expectedVersion, reason, rejectedBy)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskRejected, t, rejectedBy, reason)
	return t, Rejected{Reason: reason, RejectionCount: t.RejectionCount}, nil
}

// Requeue releases a claimed task's lease and returns it to incoming.
func (e *Engine) Requeue(ctx context.Context, observed persistence.Task, expectedVersion int64) (persistence.Task, Effect, error) {
	t, err := e.store.Requeue(ctx, observed.ID, expectedVersion, observed.Queue)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskRequeued, t, observed.ClaimedBy, "requested")
	return t, LeaseReleased{Reason: "requested"}, nil
}

// Block checks the dependency guard up front as a fast-fail (the store
// does not validate blocked_by's existence itself) before writing.
func (e *Engine) Block(ctx context.Context, observed persistence.Task, expectedVersion int64, blockedBy string, dependencyExists bool) (persistence.Task, Effect, error) {
	if !dependencyExists {
		return persistence.Task{}, nil, apierr.Dependencyf("blocked_by task %q does not exist", blockedBy)
	}
	t, err := e.store.Block(ctx, observed.ID, expectedVersion, observed.Queue, blockedBy)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskBlocked, t, "", blockedBy)
	return t, BlockedSet{BlockedBy: blockedBy}, nil
}

// Unblock requires the dependency to already be resolved.
func (e *Engine) Unblock(ctx context.Context, observed persistence.Task, expectedVersion int64, dependencyResolved bool) (persistence.Task, Effect, error) {
	if !dependencyResolved {
		return persistence.Task{}, nil, apierr.Dependencyf("task %q's blocking task %q is not done", observed.ID, observed.BlockedBy)
	}
	t, err := e.store.Unblock(ctx, observed.ID, expectedVersion)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	e.publish(bus.TopicTaskUnblocked, t, "", "")
	return t, UnblockedSet{}, nil
}
