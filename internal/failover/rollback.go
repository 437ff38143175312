package failover

import (
	"context"
	"fmt"
)

type RestoredAgent struct {
	AgentID     string `json:"agent_id"`
	PhoneNumber string `json:"phone_number"`
	AccountID   string `json:"account_id"`
}

type RollbackReport struct {
	Event    Event           `json:"event"`
	Restored []RestoredAgent `json:"restored"`
}

// Rollback returns every agent moved by a completed event to its original
// account and number and releases the backup numbers they held.
//
// External configuration (platform registration, provider webhooks) is not
// reverted; the next health cycle surfaces any mismatch.
//
// A rollback interrupted by a store error can be retried: agents already
// restored no longer match and are skipped.
func (o *Orchestrator) Rollback(ctx context.Context, eventID, actor string) (RollbackReport, error) {
	report := RollbackReport{Restored: []RestoredAgent{}}

	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return report, err
	}
	report.Event = ev
	if ev.Status != StatusCompleted {
		return report, fmt.Errorf("%w: only completed events can be rolled back, event is %s", ErrInvalidTransition, ev.Status)
	}
	if ev.RolledBack() {
		return report, ErrAlreadyRolledBack
	}

	agents, err := o.store.ListFailedOverAgents(ctx, ev.TargetAccountID, ev.SourceAccountID)
	if err != nil {
		return report, fmt.Errorf("failover: list failed over agents: %w", err)
	}
	for _, a := range agents {
		restored, err := o.store.RestoreAgent(ctx, a.ID)
		if err != nil {
			return report, fmt.Errorf("failover: restore agent %s: %w", a.ID, err)
		}
		report.Restored = append(report.Restored, RestoredAgent{
			AgentID:     restored.ID,
			PhoneNumber: restored.PhoneNumber,
			AccountID:   restored.TelephonyAccountID,
		})
	}

	now := o.Now()
	note := fmt.Sprintf("Rolled back by %s; %d agents restored.", actor, len(report.Restored))
	updated, err := o.transition(ctx, ev.ID, StatusCompleted, func(e *Event) error {
		if e.RolledBackAt != nil {
			return ErrAlreadyRolledBack
		}
		e.RolledBackAt = &now
		e.RolledBackBy = actor
		if e.Notes != "" {
			e.Notes += " "
		}
		e.Notes += note
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Event = updated

	o.log.Info("failover event rolled back", "event_id", ev.ID, "actor", actor, "restored", len(report.Restored))
	o.notify(ctx, updated, StatusRolledBack, note)
	return report, nil
}
