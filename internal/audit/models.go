package audit

import "time"

// Event is an immutable, append-only record of an operator action.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block failover flows on audit failures.
//
// Storage (Postgres): table audit_events, INSERT only.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	// ActorID is the operator subject from the bearer token, or "cli:<user>" for failoverctl.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	AccountID       string `json:"account_id,omitempty" db:"account_id"`
	FailoverEventID string `json:"failover_event_id,omitempty" db:"failover_event_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeHealthCheck   EventType = "health_check"
	EventTypeEvaluation    EventType = "failover_evaluation"
	EventTypeManualTrigger EventType = "failover_manual_trigger"
	EventTypeApprove       EventType = "failover_approve"
	EventTypeCancel        EventType = "failover_cancel"
	EventTypeRollback      EventType = "failover_rollback"
)

// Actor identifies who performed an action.
type Actor struct {
	ID   string
	Role string
	IP   string
}
