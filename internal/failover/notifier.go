package failover

import "context"

// Notification is what operators are told about a failover event.
type Notification struct {
	EventID        string      `json:"event_id"`
	TriggerType    TriggerType `json:"trigger_type"`
	SourceAccount  string      `json:"source_account"`
	TargetAccount  string      `json:"target_account"`
	AffectedAgents int         `json:"affected_agents"`
	Status         string      `json:"status"`
	Reason         string      `json:"reason,omitempty"`
}

// Notifier delivers operator notifications.
type Notifier interface {
	// NotifyFailoverState is sent on creation, approval, cancellation and rollback.
	NotifyFailoverState(ctx context.Context, n Notification) error
	// NotifyFailoverCompleted is sent only when an event completes.
	NotifyFailoverCompleted(ctx context.Context, n Notification) error
}

// StatusRolledBack is the notification status sent after a rollback. It is not a stored status.
const StatusRolledBack = "ROLLED_BACK"

type nopNotifier struct{}

func (nopNotifier) NotifyFailoverState(context.Context, Notification) error     { return nil }
func (nopNotifier) NotifyFailoverCompleted(context.Context, Notification) error { return nil }
