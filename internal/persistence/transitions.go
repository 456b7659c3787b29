package persistence

import (
	"context"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
)

// Burnout thresholds: a claimed task that has made no commits after 80
// turns, or any task that crosses 100 turns regardless of progress, is
// routed to needs_continuation instead of being accepted or rejected.
// Package-level so internal/config can override them at startup from
// burnoutTurnThreshold/maxTurnLimit without threading a config value
// through every Store method.
var (
	BurnoutZeroCommitTurns = 80
	BurnoutHardTurns       = 100
)

// ShouldRouteToBurnout reports whether a claimed task's usage counters
// cross the continuation threshold.
func ShouldRouteToBurnout(commitsCount, turnsUsed int) bool {
	if turnsUsed >= BurnoutHardTurns {
		return true
	}
	return commitsCount == 0 && turnsUsed >= BurnoutZeroCommitTurns
}

// transitionArgs carries the WHERE clause's version guard plus the SET
// clause's new column values for a single conditional update.
type transitionArgs struct {
	setClause string
	setArgs   []any
	fromQueue Queue
}

// applyTransition executes a single-statement conditional UPDATE of the
// shape `WHERE id = ? AND queue = ? AND version = ?` and reports a
// CONFLICT error when zero rows matched, distinguishing a vanished task
// (NOT_FOUND) from a concurrently-moved one (CONFLICT).
func (s *Store) applyTransition(ctx context.Context, id string, expectedVersion int64, t transitionArgs) error {
	query := `UPDATE tasks SET ` + t.setClause + `, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND queue = ? AND version = ?;`
	args := append(append([]any{}, t.setArgs...), id, t.fromQueue, expectedVersion)

	var rowsAffected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rowsAffected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return apierr.Internalf(err, "apply transition")
	}
	if rowsAffected == 0 {
		current, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return apierr.NotFoundf("task %q not found", id)
		}
		return apierr.Conflictf("task %q is in queue %q at version %d, expected queue %q at version %d", id, current.Queue, current.Version, t.fromQueue, expectedVersion)
	}
	return nil
}

// Claim moves a task from incoming (or an explicit source queue) to
// claimed, assigning it exclusively to the given agent for the lease
// duration.
func (s *Store) Claim(ctx context.Context, id string, expectedVersion int64, fromQueue Queue, orchestratorID, agentName string, leaseDuration time.Duration) (Task, error) {
	if fromQueue == "" {
		fromQueue = QueueIncoming
	}
	expires := time.Now().Add(leaseDuration)
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, claimed_by = ?, orchestrator_id = ?, lease_expires_at = ?`,
		setArgs:   []any{QueueClaimed, agentName, orchestratorID, expires},
		fromQueue: fromQueue,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventClaimed, agentName, "")
	return s.GetTask(ctx, id)
}

// ClaimForReview moves a submitted (provisional) task under an exclusive
// reviewer lease without altering its submission payload.
func (s *Store) ClaimForReview(ctx context.Context, id string, expectedVersion int64, orchestratorID, agentName string, leaseDuration time.Duration) (Task, error) {
	expires := time.Now().Add(leaseDuration)
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `claimed_by = ?, orchestrator_id = ?, lease_expires_at = ?`,
		setArgs:   []any{agentName, orchestratorID, expires},
		fromQueue: QueueProvisional,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventReviewClaimed, agentName, "")
	return s.GetTask(ctx, id)
}

// Submit records execution results on a claimed task and moves it to
// provisional for review. Burnout usage routes to needs_continuation
// instead. auto_accept never short-circuits this: the only path to
// done is Accept, so a caller wanting an auto-accepting task calls
// Accept immediately after Submit lands it in provisional.
func (s *Store) Submit(ctx context.Context, id string, expectedVersion int64, commitsCount, turnsUsed int, checkResults, executionNotes string) (Task, error) {
	nextQueue := QueueProvisional
	event := EventSubmitted
	if ShouldRouteToBurnout(commitsCount, turnsUsed) {
		nextQueue = QueueNeedsContinuation
		event = EventBurnoutDetected
	}

	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, commits_count = ?, turns_used = ?, check_results = ?, execution_notes = ?, submitted_at = CURRENT_TIMESTAMP`,
		setArgs:   []any{nextQueue, commitsCount, turnsUsed, checkResults, executionNotes},
		fromQueue: QueueClaimed,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, event, "", "")
	return s.GetTask(ctx, id)
}

// Accept moves a provisional task to done, stamping completed_at and
// unblocking every task whose blocked_by pointed at it. acceptedBy is
// recorded on the history entry only — it does not gate the transition.
func (s *Store) Accept(ctx context.Context, id string, expectedVersion int64, acceptedBy string) (Task, error) {
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, completed_at = CURRENT_TIMESTAMP`,
		setArgs:   []any{QueueDone},
		fromQueue: QueueProvisional,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventAccepted, acceptedBy, "")

	if cascadeErr := s.unblockDependents(ctx, id); cascadeErr != nil {
		return Task{}, cascadeErr
	}
	return s.GetTask(ctx, id)
}

// Reject moves a provisional task back to incoming, releasing its
// lease entirely (the next claim may land on any eligible agent, not
// necessarily the one who was just rejected), and bumps rejection_count
// so repeated churn is observable.
func (s *Store) Reject(ctx context.Context, id string, expectedVersion int64, reason, rejectedBy string) (Task, error) {
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, claimed_by = '', orchestrator_id = '', lease_expires_at = NULL, rejection_count = rejection_count + 1`,
		setArgs:   []any{QueueIncoming},
		fromQueue: QueueProvisional,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventRejected, rejectedBy, reason)
	return s.GetTask(ctx, id)
}

// Requeue releases a claimed task's lease and returns it to incoming,
// clearing ownership. Used both by explicit caller request and by the
// lease reconciler on expiry.
func (s *Store) Requeue(ctx context.Context, id string, expectedVersion int64, fromQueue Queue) (Task, error) {
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, claimed_by = '', orchestrator_id = '', lease_expires_at = NULL`,
		setArgs:   []any{QueueIncoming},
		fromQueue: fromQueue,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventRequeued, "", "")
	return s.GetTask(ctx, id)
}

// Block marks a task as waiting on another task's completion. blockedBy
// must reference an existing task; the caller is expected to have
// checked that upstream.
func (s *Store) Block(ctx context.Context, id string, expectedVersion int64, fromQueue Queue, blockedBy string) (Task, error) {
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, blocked_by = ?`,
		setArgs:   []any{QueueBlocked, blockedBy},
		fromQueue: fromQueue,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventBlocked, "", blockedBy)
	return s.GetTask(ctx, id)
}

// Unblock moves a blocked task back to incoming and clears blocked_by.
func (s *Store) Unblock(ctx context.Context, id string, expectedVersion int64) (Task, error) {
	err := s.applyTransition(ctx, id, expectedVersion, transitionArgs{
		setClause: `queue = ?, blocked_by = ''`,
		setArgs:   []any{QueueIncoming},
		fromQueue: QueueBlocked,
	})
	if err != nil {
		return Task{}, err
	}
	_ = s.appendHistory(ctx, id, EventUnblocked, "", "")
	return s.GetTask(ctx, id)
}

// unblockDependents moves every task blocked on id back to incoming.
// Best-effort per row: one dependent's unexpected version never aborts
// the whole cascade, since the upstream task's own completion has
// already committed.
func (s *Store) unblockDependents(ctx context.Context, completedID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version FROM tasks WHERE queue = ? AND blocked_by = ?;
	`, QueueBlocked, completedID)
	if err != nil {
		return apierr.Internalf(err, "find dependents")
	}
	type pending struct {
		id      string
		version int64
	}
	var dependents []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.version); err != nil {
			rows.Close()
			return apierr.Internalf(err, "scan dependent")
		}
		dependents = append(dependents, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apierr.Internalf(err, "iterate dependents")
	}

	for _, p := range dependents {
		if _, err := s.Unblock(ctx, p.id, p.version); err != nil {
			if e, ok := apierr.As(err); ok && (e.Kind == apierr.Conflict || e.Kind == apierr.NotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// RequeueExpiredLeases releases every claimed task whose
// lease has expired, returning the ids it moved. This is a single
// conditional bulk write guarded by queue and lease_expires_at only —
// deliberately not by version, and it does not bump version either: a
// stale Submit from the dispossessed holder still targets the old
// queue, so the version mismatch is unnecessary for safety, and
// skipping it lets the reconciler release many rows in one statement
// instead of one version-checked UPDATE per row.
func (s *Store) RequeueExpiredLeases(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE queue = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?;
	`, QueueClaimed, now)
	if err != nil {
		return nil, apierr.Internalf(err, "find expired leases")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apierr.Internalf(err, "scan expired lease")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apierr.Internalf(err, "iterate expired leases")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET queue = ?, claimed_by = '', orchestrator_id = '', lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE queue = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?;
	`, QueueIncoming, QueueClaimed, now)
	if err != nil {
		return nil, apierr.Internalf(err, "release expired leases")
	}

	for _, id := range ids {
		_ = s.appendHistory(ctx, id, EventRequeued, "", "Lease expired")
	}
	return ids, nil
}
