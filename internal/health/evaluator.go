package health

import (
	"context"
	"fmt"
	"time"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/voiceplatform"
)

// AgentEvaluation is the verdict for one agent.
type AgentEvaluation struct {
	AgentID      string             `json:"agent_id"`
	Status       fleet.HealthStatus `json:"status"`
	Issues       []string           `json:"issues,omitempty"`
	PhoneCheck   *CheckResult       `json:"phone_check,omitempty"`
	ResponseTime time.Duration      `json:"response_time"`
}

// escalate only ever worsens the status.
func (e *AgentEvaluation) escalate(to fleet.HealthStatus, issue string) {
	e.Status = e.Status.Worse(to)
	e.Issues = append(e.Issues, issue)
}

// Evaluator combines an agent's platform registration and phone number health.
type Evaluator struct {
	platform voiceplatform.Platform
	probe    *Probe
	timeout  time.Duration
	now      func() time.Time
}

func NewEvaluator(platform voiceplatform.Platform, probe *Probe, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Evaluator{platform: platform, probe: probe, timeout: timeout, now: time.Now}
}

// Evaluate never fails: lookup errors and panics both end up as FAILED with an issue.
func (e *Evaluator) Evaluate(ctx context.Context, agent fleet.VoiceAgent, account fleet.TelephonyAccount) (ev AgentEvaluation) {
	start := e.now()
	ev = AgentEvaluation{AgentID: agent.ID, Status: fleet.HealthHealthy}
	defer func() {
		if p := recover(); p != nil {
			ev.escalate(fleet.HealthFailed, fmt.Sprintf("evaluation error: %v", p))
		}
		ev.ResponseTime = e.now().Sub(start)
	}()

	if agent.PlatformAgentID == "" {
		ev.escalate(fleet.HealthFailed, "agent has no voice platform registration")
	} else {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		reg, err := e.platform.GetAgent(callCtx, agent.PlatformAgentID)
		cancel()
		switch {
		case err != nil:
			ev.escalate(fleet.HealthFailed, "voice platform lookup failed: "+err.Error())
		case !reg.HasPhoneNumber():
			ev.escalate(fleet.HealthDegraded, "no phone number bound on voice platform")
		}
	}

	if agent.PhoneNumber == "" {
		ev.escalate(fleet.HealthDegraded, "agent has no phone number")
		return ev
	}

	check := e.probe.CheckPhoneNumber(ctx, CredentialsFor(account), agent.PhoneNumber)
	ev.PhoneCheck = &check
	if !check.Passed() {
		next := fleet.HealthDegraded
		if ev.Status == fleet.HealthDegraded {
			next = fleet.HealthFailed
		}
		ev.escalate(next, fmt.Sprintf("phone number check failed: %v", check.Details["error"]))
	}
	return ev
}
