package failover

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"
	"telephony-failover/internal/telephony"
	"telephony-failover/internal/voiceplatform"
)

type MoveOutcome string

const (
	// OutcomeReconfigured means the agent was rebound and both external systems accepted the change.
	OutcomeReconfigured MoveOutcome = "RECONFIGURED"
	// OutcomePartial means the agent was rebound but at least one external call failed.
	OutcomePartial MoveOutcome = "PARTIAL"
)

type AgentOutcome struct {
	AgentID   string      `json:"agent_id"`
	OldNumber string      `json:"old_number"`
	NewNumber string      `json:"new_number"`
	Outcome   MoveOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
}

// ExecutionReport lists every agent moved by one execution, in processing order.
type ExecutionReport struct {
	EventID  string         `json:"event_id"`
	Outcomes []AgentOutcome `json:"outcomes"`
}

func (r ExecutionReport) Moved() int { return len(r.Outcomes) }

// Partial returns the outcomes that need operator attention.
func (r ExecutionReport) Partial() []AgentOutcome {
	var out []AgentOutcome
	for _, o := range r.Outcomes {
		if o.Outcome == OutcomePartial {
			out = append(out, o)
		}
	}
	return out
}

func (r ExecutionReport) Summary() string {
	partial := r.Partial()
	if len(partial) == 0 {
		return fmt.Sprintf("Moved %d agents; all reconfigured.", r.Moved())
	}
	ids := make([]string, 0, len(partial))
	for _, p := range partial {
		ids = append(ids, p.AgentID)
	}
	return fmt.Sprintf("Moved %d agents; %d need reconfiguration: %s.", r.Moved(), len(partial), strings.Join(ids, ", "))
}

// Execute runs the cutover of an APPROVED event. It is normally started in
// the background on approval; callers may invoke it directly for an approved
// event that has not started.
//
// Configuration errors abort before any agent is touched. Per-agent platform
// and webhook failures do not abort; they are reported as PARTIAL.
func (o *Orchestrator) Execute(ctx context.Context, eventID string) (ExecutionReport, error) {
	report := ExecutionReport{EventID: eventID, Outcomes: []AgentOutcome{}}

	ev, err := o.transition(ctx, eventID, StatusApproved, func(e *Event) error {
		e.Status = StatusExecuting
		return nil
	})
	if err != nil {
		return report, err
	}
	log := o.log.With("event_id", ev.ID, "source_account_id", ev.SourceAccountID, "target_account_id", ev.TargetAccountID)
	log.Info("failover execution started")

	if err := o.cutover(ctx, ev, &report); err != nil {
		msg := err.Error()
		cancelled, terr := o.transition(ctx, ev.ID, StatusExecuting, func(e *Event) error {
			e.Status = StatusCancelled
			e.Error = msg
			if report.Moved() > 0 {
				e.Notes = report.Summary()
			}
			return nil
		})
		if terr != nil {
			log.Error("could not record failed execution", "err", terr)
			return report, err
		}
		log.Error("failover execution aborted", "err", err, "moved", report.Moved())
		o.notify(ctx, cancelled, string(cancelled.Status), msg)
		return report, err
	}

	now := o.Now()
	done, err := o.transition(ctx, ev.ID, StatusExecuting, func(e *Event) error {
		e.Status = StatusCompleted
		e.ExecutedAt = &now
		e.Notes = report.Summary()
		return nil
	})
	if err != nil {
		return report, err
	}
	log.Info("failover execution completed", "moved", report.Moved(), "partial", len(report.Partial()))
	o.notifyCompleted(ctx, done, report.Summary())
	return report, nil
}

func (o *Orchestrator) cutover(ctx context.Context, ev Event, report *ExecutionReport) error {
	target, err := o.store.GetAccount(ctx, ev.TargetAccountID)
	if err != nil {
		return fmt.Errorf("failover: load target account: %w", err)
	}
	agents, err := o.store.ListMovableAgents(ctx, ev.SourceAccountID)
	if err != nil {
		return fmt.Errorf("failover: list agents: %w", err)
	}
	have, err := o.store.CountUnassignedBackupNumbers(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("failover: count backup numbers: %w", err)
	}
	if have < len(agents) {
		return &InsufficientBackupNumbersError{Need: len(agents), Have: have}
	}

	for _, agent := range agents {
		move, err := o.store.ClaimBackupNumber(ctx, agent.ID, target.ID, o.Now())
		if err != nil {
			return fmt.Errorf("failover: claim backup number for agent %s: %w", agent.ID, err)
		}
		outcome := o.reconfigure(ctx, target, move)
		report.Outcomes = append(report.Outcomes, outcome)
		o.metrics.IncAgentMove(string(outcome.Outcome))
	}
	return nil
}

// reconfigure points the platform registration and the provider webhook at
// the agent's new number. Both calls are attempted independently.
func (o *Orchestrator) reconfigure(ctx context.Context, target fleet.TelephonyAccount, move fleet.Move) AgentOutcome {
	out := AgentOutcome{
		AgentID:   move.Agent.ID,
		OldNumber: move.OldNumber,
		NewNumber: move.Agent.PhoneNumber,
		Outcome:   OutcomeReconfigured,
	}

	var problems []string
	if err := o.assignOnPlatform(ctx, target, move.Agent); err != nil {
		problems = append(problems, "voice platform: "+err.Error())
	}
	if err := o.pointWebhook(ctx, target, move.Agent.PhoneNumber); err != nil {
		problems = append(problems, "webhook: "+err.Error())
	}
	if len(problems) > 0 {
		out.Outcome = OutcomePartial
		out.Error = strings.Join(problems, "; ")
		o.log.Warn("agent moved but not fully reconfigured", "agent_id", move.Agent.ID, "number", out.NewNumber, "err", out.Error)
	}
	return out
}

func (o *Orchestrator) assignOnPlatform(ctx context.Context, target fleet.TelephonyAccount, agent fleet.VoiceAgent) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	imported, err := o.platform.ImportPhoneNumber(callCtx, voiceplatform.ImportPhoneNumberRequest{
		PhoneNumber:       agent.PhoneNumber,
		Provider:          o.cfg.ProviderName,
		ProviderAccountID: target.AccountSID,
		ProviderAuthToken: target.AuthToken,
		Label:             agent.Name,
	})
	if err != nil {
		return err
	}
	return o.platform.AssignPhoneNumber(callCtx, agent.PlatformAgentID, imported.ID)
}

func (o *Orchestrator) pointWebhook(ctx context.Context, target fleet.TelephonyAccount, number string) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	base := strings.TrimRight(o.cfg.PublicBaseURL, "/")
	return o.provider.UpdateVoiceWebhook(callCtx, health.CredentialsFor(target), number, telephony.VoiceWebhook{
		VoiceURL:             base + "/webhooks/telephony/voice",
		VoiceMethod:          http.MethodPost,
		StatusCallback:       base + "/webhooks/telephony/status",
		StatusCallbackMethod: http.MethodPost,
	})
}
