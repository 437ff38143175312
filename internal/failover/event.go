package failover

import (
	"time"
)

type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusExecuting       Status = "EXECUTING"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no further status change is possible.
// A completed event can still be rolled back; that does not change its status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusApproved, StatusExecuting, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveStatuses are the statuses of which at most one event per source account may exist.
var ActiveStatuses = []Status{StatusPendingApproval, StatusApproved, StatusExecuting}

type TriggerType string

const (
	TriggerCritical TriggerType = "CRITICAL"
	TriggerDegraded TriggerType = "DEGRADED"
	TriggerManual   TriggerType = "MANUAL"
)

// AutoApprover is recorded as approver when the system approves on its own.
const AutoApprover = "system:auto"

// TestResult is one re-test taken during an approval window.
type TestResult struct {
	TestedAt           time.Time `json:"tested_at"`
	AccountCheckPassed bool      `json:"account_check_passed"`
	Critical           bool      `json:"critical,omitempty"`
	Total              int       `json:"total"`
	Healthy            int       `json:"healthy"`
	Degraded           int       `json:"degraded"`
	Failed             int       `json:"failed"`
	FailureRate        float64   `json:"failure_rate"`
	Recovered          bool      `json:"recovered"`
	Error              string    `json:"error,omitempty"`
}

// Event is one failover decision from detection to execution and optional rollback.
// Events are never deleted.
type Event struct {
	ID              string      `json:"id"`
	TriggerType     TriggerType `json:"trigger_type"`
	Status          Status      `json:"status"`
	SourceAccountID string      `json:"source_account_id"`
	TargetAccountID string      `json:"target_account_id"`

	AffectedAgents int `json:"affected_agents"`
	TotalAgents    int `json:"total_agents"`

	Reason    string `json:"reason,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`

	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	WindowStartedAt *time.Time   `json:"window_started_at,omitempty"`
	WindowEndsAt    *time.Time   `json:"window_ends_at,omitempty"`
	TestResults     []TestResult `json:"test_results"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	RolledBackBy string     `json:"rolled_back_by,omitempty"`

	Notes string `json:"notes,omitempty"`
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RolledBack reports whether a completed event has been rolled back.
func (e Event) RolledBack() bool { return e.RolledBackAt != nil }

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Status          Status
	SourceAccountID string
	Limit           int
}
