package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/fleetci/taskhub/internal/apierr"
)

const taskColumns = `
	id, queue, priority, role, type, scope, branch, file_path, project_id,
	COALESCE(blocked_by, ''), COALESCE(claimed_by, ''), COALESCE(orchestrator_id, ''),
	lease_expires_at, version, commits_count, turns_used, check_results,
	execution_notes, rejection_count, submitted_at, completed_at, hooks,
	flow, flow_overrides, auto_accept, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var blockedBy, claimedBy, orchestratorID string
	var leaseExpiresAt, submittedAt, completedAt sql.NullTime
	var autoAccept int

	err := row.Scan(
		&t.ID, &t.Queue, &t.Priority, &t.Role, &t.Type, &t.Scope, &t.Branch, &t.FilePath, &t.ProjectID,
		&blockedBy, &claimedBy, &orchestratorID,
		&leaseExpiresAt, &t.Version, &t.CommitsCount, &t.TurnsUsed, &t.CheckResults,
		&t.ExecutionNotes, &t.RejectionCount, &submittedAt, &completedAt, &t.Hooks,
		&t.Flow, &t.FlowOverrides, &autoAccept, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	t.BlockedBy = blockedBy
	t.ClaimedBy = claimedBy
	t.OrchestratorID = orchestratorID
	t.AutoAccept = autoAccept != 0
	if leaseExpiresAt.Valid {
		v := leaseExpiresAt.Time
		t.LeaseExpiresAt = &v
	}
	if submittedAt.Valid {
		v := submittedAt.Time
		t.SubmittedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return t, nil
}

// CreateTask inserts a new task in version 1, in the requested queue
// (incoming by default, or blocked when the caller asks for it up front).
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		return Task{}, apierr.Validationf("id is required")
	}
	if t.Scope == "" {
		return Task{}, apierr.Validationf("scope is required")
	}
	if t.Branch == "" {
		return Task{}, apierr.Validationf("branch is required")
	}
	if t.Queue == "" {
		t.Queue = QueueIncoming
	}
	if t.Priority == "" {
		t.Priority = PriorityP2
	}
	if t.Hooks == "" {
		t.Hooks = "[]"
	}
	if t.FlowOverrides == "" {
		t.FlowOverrides = "{}"
	}

	var blockedBy any
	if t.BlockedBy != "" {
		blockedBy = t.BlockedBy
	}

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				id, queue, priority, role, type, scope, branch, file_path, project_id,
				blocked_by, version, hooks, flow, flow_overrides, auto_accept,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, t.ID, t.Queue, t.Priority, t.Role, t.Type, t.Scope, t.Branch, t.FilePath, t.ProjectID,
			blockedBy, t.Hooks, t.Flow, t.FlowOverrides, boolToInt(t.AutoAccept))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Task{}, apierr.Conflictf("task %q already exists", t.ID)
		}
		return Task{}, apierr.Internalf(err, "create task")
	}

	if err := s.appendHistory(ctx, t.ID, EventCreated, "", ""); err != nil {
		// Best-effort: a missing history row is a bug but never invalidates
		// task state.
		_ = err
	}

	return s.GetTask(ctx, t.ID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint failed: tasks.id"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, apierr.NotFoundf("task %q not found", id)
		}
		return Task{}, apierr.Internalf(err, "get task")
	}
	return t, nil
}

// DeleteTask removes a task; task_history rows cascade via the foreign key.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return apierr.Internalf(err, "delete task")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Internalf(err, "delete task rows affected")
	}
	if n == 0 {
		return apierr.NotFoundf("task %q not found", id)
	}
	return nil
}

// ListTasksPaginated returns tasks in scope, optionally filtered by queue,
// ordered newest first, with a total count for pagination.
func (s *Store) ListTasksPaginated(ctx context.Context, scope string, queue Queue, limit, offset int) ([]Task, int, error) {
	if scope == "" {
		return nil, 0, apierr.Validationf("scope is required")
	}
	where := `WHERE scope = ?`
	args := []any{scope}
	if queue != "" {
		where += ` AND queue = ?`
		args = append(args, queue)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, apierr.Internalf(err, "count tasks")
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks `+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?;
	`, args...)
	if err != nil {
		return nil, 0, apierr.Internalf(err, "list tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, apierr.Internalf(err, "scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apierr.Internalf(err, "iterate tasks")
	}
	return tasks, total, nil
}

// patchableFields is the allow-list of generic-update targets. queue is
// intentionally excluded from free assignment of "done": the only path to
// done is Accept, which carries mandatory side effects (completed_at,
// dependent unblocking) a bare field update cannot provide.
var patchableFields = map[string]bool{
	"priority":        true,
	"role":            true,
	"type":            true,
	"branch":          true,
	"file_path":       true,
	"project_id":      true,
	"blocked_by":      true,
	"flow":            true,
	"flow_overrides":  true,
	"auto_accept":     true,
	"queue":           true, // validated separately below
}

// PatchTask applies a generic field update. Setting queue to "done" is
// forbidden; that transition only happens through Accept.
func (s *Store) PatchTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	if len(fields) == 0 {
		return s.GetTask(ctx, id)
	}
	if q, ok := fields["queue"]; ok {
		if qs, _ := q.(string); Queue(qs) == QueueDone {
			return Task{}, apierr.Validationf("queue=done may only be set via accept")
		}
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for k, v := range fields {
		if !patchableFields[k] {
			return Task{}, apierr.Validationf("field %q is not patchable", k)
		}
		setClauses = append(setClauses, k+" = ?")
		args = append(args, v)
	}
	setClauses = append(setClauses, "version = version + 1", "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := "UPDATE tasks SET " + joinClauses(setClauses) + " WHERE id = ?;"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Task{}, apierr.Internalf(err, "patch task")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Task{}, apierr.Internalf(err, "patch task rows affected")
	}
	if n == 0 {
		return Task{}, apierr.NotFoundf("task %q not found", id)
	}
	return s.GetTask(ctx, id)
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// hookEntry is one element of a task's opaque hooks JSON array.
type hookEntry struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Evidence string `json:"evidence,omitempty"`
}

// CompleteHook updates a single named hook's status independently of the
// rest of the task's fields.
func (s *Store) CompleteHook(ctx context.Context, id, hookName, status, evidence string) (Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}

	var hooks []hookEntry
	if t.Hooks != "" {
		if err := json.Unmarshal([]byte(t.Hooks), &hooks); err != nil {
			return Task{}, apierr.Internalf(err, "parse hooks")
		}
	}

	found := false
	for i := range hooks {
		if hooks[i].Name == hookName {
			hooks[i].Status = status
			hooks[i].Evidence = evidence
			found = true
			break
		}
	}
	if !found {
		hooks = append(hooks, hookEntry{Name: hookName, Status: status, Evidence: evidence})
	}

	encoded, err := json.Marshal(hooks)
	if err != nil {
		return Task{}, apierr.Internalf(err, "encode hooks")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET hooks = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?;
	`, string(encoded), id)
	if err != nil {
		return Task{}, apierr.Internalf(err, "update hooks")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, apierr.NotFoundf("task %q not found", id)
	}
	return s.GetTask(ctx, id)
}

// appendHistory is best-effort: a missing row is a bug, never a reason to
// fail the caller's already-committed task write.
func (s *Store) appendHistory(ctx context.Context, taskID string, event EventType, agent, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, event, agent, details, timestamp)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, taskID, event, agent, details)
	return err
}

// ListHistory returns a task's event journal oldest first.
func (s *Store) ListHistory(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, event, agent, details, timestamp
		FROM task_history WHERE task_id = ? ORDER BY id ASC;
	`, taskID)
	if err != nil {
		return nil, apierr.Internalf(err, "list history")
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Event, &e.Agent, &e.Details, &e.Timestamp); err != nil {
			return nil, apierr.Internalf(err, "scan history")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
