package health

import "time"

type TargetType string

const (
	TargetAccountCheck TargetType = "ACCOUNT_CHECK"
	TargetAgent        TargetType = "AGENT"
)

// Record is one append-only health history row. Records are never updated or deleted.
type Record struct {
	ID             string         `json:"id"`
	TargetType     TargetType     `json:"target_type"`
	TargetID       string         `json:"target_id"`
	AccountID      string         `json:"account_id"`
	Status         string         `json:"status"`
	Details        map[string]any `json:"details,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	CheckedAt      time.Time      `json:"checked_at"`
}

func accountDetails(r CheckResult) map[string]any {
	out := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		out[k] = v
	}
	out["critical"] = r.Critical
	return out
}

func agentDetails(ev AgentEvaluation) map[string]any {
	out := map[string]any{"issues": ev.Issues}
	if ev.PhoneCheck != nil {
		out["phone_check"] = map[string]any{
			"verdict":          ev.PhoneCheck.Verdict,
			"details":          ev.PhoneCheck.Details,
			"response_time_ms": ev.PhoneCheck.ResponseTime.Milliseconds(),
		}
	}
	return out
}
