package failover

import "telephony-failover/internal/health"

type Decision string

const (
	DecisionNone     Decision = "NONE"
	DecisionDegraded Decision = "DEGRADED"
	DecisionCritical Decision = "CRITICAL"
)

// Trigger maps a failover decision to the event trigger it opens.
func (d Decision) Trigger() (TriggerType, bool) {
	switch d {
	case DecisionCritical:
		return TriggerCritical, true
	case DecisionDegraded:
		return TriggerDegraded, true
	default:
		return "", false
	}
}

const (
	degradedMinAgents   = 2
	degradedMinAffected = 2
	degradedMinRate     = 0.5

	// recoveredMaxRate is the failure rate below which a window re-test counts as recovered.
	recoveredMaxRate = 0.3
)

// Classify decides what a fleet summary warrants. It is a pure function of s.
//
// A critical account failure wins regardless of fleet size. Otherwise a single
// affected agent is treated as an isolated incident and never escalates.
func Classify(s health.Summary) Decision {
	if !s.AccountCheck.Passed() && s.AccountCheck.Critical {
		return DecisionCritical
	}
	affected := s.Affected()
	if s.Total < degradedMinAgents || affected <= 1 {
		return DecisionNone
	}
	rate := float64(affected) / float64(s.Total)
	if rate >= degradedMinRate || affected >= degradedMinAffected {
		return DecisionDegraded
	}
	return DecisionNone
}

// Recovered reports whether a re-test shows the source account healthy enough
// to drop a pending failover.
func Recovered(s health.Summary) bool {
	return s.AccountCheck.Passed() && s.FailureRate < recoveredMaxRate
}
