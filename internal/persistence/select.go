package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/fleetci/taskhub/internal/apierr"
)

// SelectClaimable finds the single best candidate task for a claim
// request: oldest-first within the highest-priority class, restricted
// to the requested scope, queue, and optional role/type filters. It
// does not itself claim the task — the caller retries Claim with the
// returned version, so a losing race simply falls through to
// apierr.Conflict and the selector tries again.
func (s *Store) SelectClaimable(ctx context.Context, filter ClaimFilter) (Task, error) {
	queue := filter.Queue
	if queue == "" {
		queue = QueueIncoming
	}
	if filter.Scope == "" {
		return Task{}, apierr.Validationf("scope is required")
	}

	where := []string{"queue = ?", "scope = ?", "(blocked_by IS NULL OR blocked_by = '')"}
	args := []any{queue, filter.Scope}

	if len(filter.RoleFilter) > 0 {
		where = append(where, "role IN ("+placeholders(len(filter.RoleFilter))+")")
		for _, r := range filter.RoleFilter {
			args = append(args, r)
		}
	}
	if len(filter.TypeFilter) > 0 {
		where = append(where, "type IN ("+placeholders(len(filter.TypeFilter))+")")
		for _, t := range filter.TypeFilter {
			args = append(args, t)
		}
	}

	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY
			CASE priority WHEN 'P0' THEN 0 WHEN 'P1' THEN 1 WHEN 'P2' THEN 2 WHEN 'P3' THEN 3 ELSE 4 END ASC,
			created_at ASC
		LIMIT 1;
	`
	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTask(row)
	if err != nil {
		return Task{}, apierr.NotFoundf("no claimable task for scope %q", filter.Scope)
	}
	return t, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

// RegisterOrchestrator upserts a fleet member's identity and stamps its
// heartbeat, marking it active regardless of its prior status.
func (s *Store) RegisterOrchestrator(ctx context.Context, o Orchestrator) (Orchestrator, error) {
	if o.ID == "" {
		return Orchestrator{}, apierr.Validationf("id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrators (id, cluster, machine_id, scope, status, last_heartbeat, created_at)
		VALUES (?, ?, ?, ?, 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			cluster = excluded.cluster,
			machine_id = excluded.machine_id,
			scope = excluded.scope,
			status = 'active',
			last_heartbeat = CURRENT_TIMESTAMP;
	`, o.ID, o.Cluster, o.MachineID, o.Scope)
	if err != nil {
		return Orchestrator{}, apierr.Internalf(err, "register orchestrator")
	}
	return s.GetOrchestrator(ctx, o.ID)
}

// Heartbeat refreshes an orchestrator's last_heartbeat and flips it back
// to active if a prior reconciler pass had marked it offline.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrators SET last_heartbeat = CURRENT_TIMESTAMP, status = 'active' WHERE id = ?;
	`, id)
	if err != nil {
		return apierr.Internalf(err, "heartbeat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.NotFoundf("orchestrator %q not found", id)
	}
	return nil
}

// GetOrchestrator fetches a single registered orchestrator.
func (s *Store) GetOrchestrator(ctx context.Context, id string) (Orchestrator, error) {
	var o Orchestrator
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cluster, machine_id, scope, status, last_heartbeat, created_at
		FROM orchestrators WHERE id = ?;
	`, id).Scan(&o.ID, &o.Cluster, &o.MachineID, &o.Scope, &o.Status, &o.LastHeartbeat, &o.CreatedAt)
	if err != nil {
		return Orchestrator{}, apierr.NotFoundf("orchestrator %q not found", id)
	}
	return o, nil
}

// ListOrchestrators returns every registered fleet member.
func (s *Store) ListOrchestrators(ctx context.Context) ([]Orchestrator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cluster, machine_id, scope, status, last_heartbeat, created_at
		FROM orchestrators ORDER BY last_heartbeat DESC;
	`)
	if err != nil {
		return nil, apierr.Internalf(err, "list orchestrators")
	}
	defer rows.Close()

	var orchestrators []Orchestrator
	for rows.Next() {
		var o Orchestrator
		if err := rows.Scan(&o.ID, &o.Cluster, &o.MachineID, &o.Scope, &o.Status, &o.LastHeartbeat, &o.CreatedAt); err != nil {
			return nil, apierr.Internalf(err, "scan orchestrator")
		}
		orchestrators = append(orchestrators, o)
	}
	return orchestrators, rows.Err()
}

// MarkStaleOrchestratorsOffline flips any orchestrator whose heartbeat
// is older than staleAfter to offline, returning the ids it flipped.
func (s *Store) MarkStaleOrchestratorsOffline(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	cutoff := now.Add(-staleAfter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orchestrators WHERE status = 'active' AND last_heartbeat < ?;
	`, cutoff)
	if err != nil {
		return nil, apierr.Internalf(err, "find stale orchestrators")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apierr.Internalf(err, "scan stale orchestrator")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE orchestrators SET status = 'offline' WHERE status = 'active' AND last_heartbeat < ?;
	`, cutoff); err != nil {
		return nil, apierr.Internalf(err, "mark stale orchestrators offline")
	}
	return ids, nil
}

// UpsertRole registers or updates a role's claims_from hint.
func (s *Store) UpsertRole(ctx context.Context, r Role) error {
	if r.Name == "" {
		return apierr.Validationf("name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (name, claims_from) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET claims_from = excluded.claims_from;
	`, r.Name, r.ClaimsFrom)
	if err != nil {
		return apierr.Internalf(err, "upsert role")
	}
	return nil
}

// GetRole fetches a single role definition.
func (s *Store) GetRole(ctx context.Context, name string) (Role, error) {
	var r Role
	var claimsFrom string
	err := s.db.QueryRowContext(ctx, `SELECT name, claims_from FROM roles WHERE name = ?;`, name).Scan(&r.Name, &claimsFrom)
	if err != nil {
		return Role{}, apierr.NotFoundf("role %q not found", name)
	}
	r.ClaimsFrom = Queue(claimsFrom)
	return r, nil
}

// ListRoles returns every registered role.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, claims_from FROM roles ORDER BY name;`)
	if err != nil {
		return nil, apierr.Internalf(err, "list roles")
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var claimsFrom string
		if err := rows.Scan(&r.Name, &claimsFrom); err != nil {
			return nil, apierr.Internalf(err, "scan role")
		}
		r.ClaimsFrom = Queue(claimsFrom)
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UpsertFlow registers a declarative flow label.
func (s *Store) UpsertFlow(ctx context.Context, f Flow) error {
	if f.Name == "" {
		return apierr.Validationf("name is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO flows (name) VALUES (?) ON CONFLICT(name) DO NOTHING;`, f.Name)
	if err != nil {
		return apierr.Internalf(err, "upsert flow")
	}
	return nil
}

// ListFlows returns every registered flow label.
func (s *Store) ListFlows(ctx context.Context) ([]Flow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM flows ORDER BY name;`)
	if err != nil {
		return nil, apierr.Internalf(err, "list flows")
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		var f Flow
		if err := rows.Scan(&f.Name); err != nil {
			return nil, apierr.Internalf(err, "scan flow")
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
