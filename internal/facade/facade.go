// Package facade is the engine-facing contract behind the HTTP shell: it
// parses nothing transport-specific, touches no http.Request or
// ResponseWriter, and never mutates task state except through the
// engine and selector. Every lifecycle operation in this package
// returns an Outcome, a tagged result the transport shell maps to a
// status code without inventing any mapping of its own.
package facade

import (
	"context"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/roles"
	"github.com/fleetci/taskhub/internal/selector"
	"github.com/fleetci/taskhub/internal/validate"
)

// Facade wires together the store, engine, selector, and registries
// behind one call surface per lifecycle operation.
type Facade struct {
	store     *persistence.Store
	engine    *engine.Engine
	selector  *selector.Selector
	roles     *roles.Registry
	validator *validate.Validator
}

func New(store *persistence.Store, eng *engine.Engine, sel *selector.Selector, roleRegistry *roles.Registry, validator *validate.Validator) *Facade {
	return &Facade{store: store, engine: eng, selector: sel, roles: roleRegistry, validator: validator}
}

// CreateTaskRequest mirrors POST /tasks's body.
type CreateTaskRequest struct {
	ID            string
	Queue         persistence.Queue
	Priority      persistence.Priority
	Role          string
	Type          string
	Scope         string
	Branch        string
	FilePath      string
	ProjectID     string
	BlockedBy     string
	Hooks         string
	Flow          string
	FlowOverrides string
	AutoAccept    bool
}

// CreateTask validates the role against the known set (if any roles are
// registered), validates hooks/flow_overrides shape, and creates the
// task.
func (f *Facade) CreateTask(ctx context.Context, req CreateTaskRequest) (persistence.Task, error) {
	if req.ID == "" || req.Scope == "" || req.Branch == "" {
		return persistence.Task{}, apierr.Validationf("id, scope, and branch are required")
	}
	if err := f.roles.ValidateTaskRole(req.Role); err != nil {
		return persistence.Task{}, err
	}
	if req.BlockedBy != "" {
		if _, err := f.store.GetTask(ctx, req.BlockedBy); err != nil {
			return persistence.Task{}, apierr.Dependencyf("blocked_by task %q does not exist", req.BlockedBy)
		}
	}
	if req.Hooks != "" {
		if err := f.validator.Hooks(req.Hooks); err != nil {
			return persistence.Task{}, err
		}
	}
	if req.FlowOverrides != "" {
		if err := f.validator.FlowOverrides(req.FlowOverrides); err != nil {
			return persistence.Task{}, err
		}
	}

	queue := req.Queue
	if queue == "" {
		queue = persistence.QueueIncoming
	}
	if req.BlockedBy != "" {
		queue = persistence.QueueBlocked
	}

	return f.store.CreateTask(ctx, persistence.Task{
		ID: req.ID, Queue: queue, Priority: req.Priority, Role: req.Role, Type: req.Type,
		Scope: req.Scope, Branch: req.Branch, FilePath: req.FilePath, ProjectID: req.ProjectID,
		BlockedBy: req.BlockedBy, Hooks: req.Hooks, Flow: req.Flow, FlowOverrides: req.FlowOverrides,
		AutoAccept: req.AutoAccept,
	})
}

// ClaimRequest mirrors POST /tasks/claim's body. Scope resolution — the
// caller's explicit scope wins; otherwise the orchestrator's registered
// scope — happens one layer up in httpapi, since it needs the
// orchestrator registry lookup; by the time it reaches here Scope is
// already resolved.
type ClaimRequest struct {
	Scope          string
	Queue          persistence.Queue
	RoleFilter     []string
	TypeFilter     []string
	OrchestratorID string
	AgentName      string
	LeaseDuration  time.Duration
}

// Claim attempts to find and claim the best eligible task in scope.
func (f *Facade) Claim(ctx context.Context, req ClaimRequest) (persistence.Task, engine.Effect, error) {
	if req.Scope == "" || req.OrchestratorID == "" || req.AgentName == "" {
		return persistence.Task{}, nil, apierr.Validationf("scope, orchestrator_id, and agent_name are required")
	}
	return f.selector.Claim(ctx, f.engine, selector.Request{
		Scope: req.Scope, Queue: req.Queue, RoleFilter: req.RoleFilter, TypeFilter: req.TypeFilter,
		OrchestratorID: req.OrchestratorID, AgentName: req.AgentName, LeaseDuration: req.LeaseDuration,
	})
}

// SubmitRequest mirrors POST /tasks/:id/submit's body.
type SubmitRequest struct {
	TaskID          string
	ExpectedVersion int64
	CommitsCount    int
	TurnsUsed       int
	CheckResults    string
	ExecutionNotes  string
}

// Submit records submission evidence on a claimed task.
func (f *Facade) Submit(ctx context.Context, req SubmitRequest) (persistence.Task, engine.Effect, error) {
	observed, err := f.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	return f.engine.Submit(ctx, observed, engine.SubmitRequest{
		TaskID: req.TaskID, ExpectedVersion: req.ExpectedVersion, CommitsCount: req.CommitsCount,
		TurnsUsed: req.TurnsUsed, CheckResults: req.CheckResults, ExecutionNotes: req.ExecutionNotes,
	})
}

// Accept moves a provisional task to done.
func (f *Facade) Accept(ctx context.Context, taskID string, expectedVersion int64, acceptedBy string) (persistence.Task, engine.Effect, error) {
	if acceptedBy == "" {
		return persistence.Task{}, nil, apierr.Validationf("accepted_by is required")
	}
	observed, err := f.store.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	return f.engine.Accept(ctx, observed, expectedVersion, acceptedBy)
}

// Reject moves a provisional task back to incoming, releasing its lease.
func (f *Facade) Reject(ctx context.Context, taskID string, expectedVersion int64, reason, rejectedBy string) (persistence.Task, engine.Effect, error) {
	if reason == "" || rejectedBy == "" {
		return persistence.Task{}, nil, apierr.Validationf("reason and rejected_by are required")
	}
	observed, err := f.store.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	return f.engine.Reject(ctx, observed, expectedVersion, reason, rejectedBy)
}

// Requeue releases a claimed task's lease back to incoming.
func (f *Facade) Requeue(ctx context.Context, taskID string, expectedVersion int64) (persistence.Task, engine.Effect, error) {
	observed, err := f.store.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	return f.engine.Requeue(ctx, observed, expectedVersion)
}

// Block marks a task as waiting on another task's completion.
func (f *Facade) Block(ctx context.Context, taskID string, expectedVersion int64, blockedBy string) (persistence.Task, engine.Effect, error) {
	observed, err := f.store.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	_, getErr := f.store.GetTask(ctx, blockedBy)
	exists := getErr == nil
	return f.engine.Block(ctx, observed, expectedVersion, blockedBy, exists)
}

// Unblock releases a blocked task back to incoming.
func (f *Facade) Unblock(ctx context.Context, taskID string, expectedVersion int64) (persistence.Task, engine.Effect, error) {
	observed, err := f.store.GetTask(ctx, taskID)
	if err != nil {
		return persistence.Task{}, nil, err
	}
	resolved := false
	if observed.BlockedBy != "" {
		if upstream, err := f.store.GetTask(ctx, observed.BlockedBy); err == nil {
			resolved = upstream.Queue == persistence.QueueDone
		}
	}
	return f.engine.Unblock(ctx, observed, expectedVersion, resolved)
}

// PatchTask applies a generic field update, rejecting queue=done.
func (f *Facade) PatchTask(ctx context.Context, taskID string, fields map[string]any) (persistence.Task, error) {
	return f.store.PatchTask(ctx, taskID, fields)
}

// CompleteHook updates a single hook's status.
func (f *Facade) CompleteHook(ctx context.Context, taskID, hookName, status, evidence string) (persistence.Task, error) {
	if status != "passed" && status != "failed" && status != "pending" {
		return persistence.Task{}, apierr.Validationf("status must be one of pending, passed, failed")
	}
	return f.store.CompleteHook(ctx, taskID, hookName, status, evidence)
}

// DeleteTask removes a task and cascades its history.
func (f *Facade) DeleteTask(ctx context.Context, taskID string) error {
	return f.store.DeleteTask(ctx, taskID)
}

// GetTask fetches a single task.
func (f *Facade) GetTask(ctx context.Context, taskID string) (persistence.Task, error) {
	return f.store.GetTask(ctx, taskID)
}

// ListTasks lists tasks in scope, optionally filtered by queue, paginated.
func (f *Facade) ListTasks(ctx context.Context, scope string, queue persistence.Queue, limit, offset int) ([]persistence.Task, int, error) {
	if scope == "" {
		return nil, 0, apierr.Validationf("scope is required")
	}
	return f.store.ListTasksPaginated(ctx, scope, queue, limit, offset)
}
