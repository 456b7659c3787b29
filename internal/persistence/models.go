// Package persistence is the sole mutator of task state: durable,
// relational storage with single-statement conditional updates.
package persistence

import "time"

// Queue is the lifecycle state label on a task. Only a handful of names
// carry engine semantics (see IsEngineQueue); every other value is a
// free-form label the core never inspects.
type Queue string

const (
	QueueIncoming           Queue = "incoming"
	QueueClaimed            Queue = "claimed"
	QueueProvisional        Queue = "provisional"
	QueueDone               Queue = "done"
	QueueNeedsContinuation  Queue = "needs_continuation"
	QueueBlocked            Queue = "blocked"
)

// Priority is one of four ordered priority classes, P0 highest.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// EventType enumerates the append-only history log's event taxonomy.
type EventType string

const (
	EventCreated          EventType = "created"
	EventClaimed          EventType = "claimed"
	EventSubmitted        EventType = "submitted"
	EventAccepted         EventType = "accepted"
	EventRejected         EventType = "rejected"
	EventRequeued         EventType = "requeued"
	EventBurnoutDetected  EventType = "burnout_detected"
	EventReviewClaimed    EventType = "review_claimed"
	EventBlocked          EventType = "blocked"
	EventUnblocked        EventType = "unblocked"
)

// Task is the unit of work coordinated by the server.
type Task struct {
	ID             string    `json:"id"`
	Queue          Queue     `json:"queue"`
	Priority       Priority  `json:"priority"`
	Role           string    `json:"role,omitempty"`
	Type           string    `json:"type,omitempty"`
	Scope          string    `json:"scope"`
	Branch         string    `json:"branch"`
	FilePath       string    `json:"file_path"`
	ProjectID      string    `json:"project_id,omitempty"`
	BlockedBy      string    `json:"blocked_by,omitempty"`
	ClaimedBy      string    `json:"claimed_by,omitempty"`
	OrchestratorID string    `json:"orchestrator_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	Version        int64     `json:"version"`

	CommitsCount   int    `json:"commits_count"`
	TurnsUsed      int    `json:"turns_used"`
	CheckResults   string `json:"check_results,omitempty"`
	ExecutionNotes string `json:"execution_notes,omitempty"`

	RejectionCount int `json:"rejection_count"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Hooks         string `json:"hooks,omitempty"`          // opaque JSON array
	Flow          string `json:"flow,omitempty"`
	FlowOverrides string `json:"flow_overrides,omitempty"` // opaque JSON object

	AutoAccept bool `json:"auto_accept,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEngineQueue reports whether q is one of the six queue names the
// transition engine understands. Every other value is a free-form label
// (spec §9: "polymorphism over queue labels") that generic field updates
// may still set.
func IsEngineQueue(q Queue) bool {
	switch q {
	case QueueIncoming, QueueClaimed, QueueProvisional, QueueDone, QueueNeedsContinuation, QueueBlocked:
		return true
	default:
		return false
	}
}

// HistoryEntry is one append-only row in the task event journal.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Event     EventType `json:"event"`
	Agent     string    `json:"agent,omitempty"`
	Details   string    `json:"details,omitempty"` // opaque JSON
	Timestamp time.Time `json:"timestamp"`
}

// Orchestrator is a registered fleet member.
type Orchestrator struct {
	ID            string    `json:"id"`
	Cluster       string    `json:"cluster"`
	MachineID     string    `json:"machine_id"`
	Scope         string    `json:"scope"`
	Status        string    `json:"status"` // active | offline
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

// Role gates role-filter validation and contributes a claims_from hint to
// the selector's queue-resolution algorithm.
type Role struct {
	Name       string `json:"name"`
	ClaimsFrom Queue  `json:"claims_from,omitempty"`
}

// Flow is a declarative pipeline label; the core never inspects it beyond
// recording it on a task.
type Flow struct {
	Name string `json:"name"`
}

// ClaimFilter is the selector's input for a claim request.
type ClaimFilter struct {
	Scope          string
	Queue          Queue    // optional override
	RoleFilter     []string // optional
	TypeFilter     []string // optional
	OrchestratorID string
	AgentName      string
	LeaseDuration  time.Duration
}
