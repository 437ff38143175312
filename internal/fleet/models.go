package fleet

import "time"

// HealthStatus is the last-known health of an account or an agent.
// The zero value means the target has never been checked.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = ""
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthFailed   HealthStatus = "FAILED"
)

// Severity orders statuses so callers can escalate without a switch.
// Unknown ranks with healthy.
func (s HealthStatus) Severity() int {
	switch s {
	case HealthFailed:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

// Worse returns whichever of s and other is more severe.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.Severity() > s.Severity() {
		return other
	}
	return s
}

// TelephonyAccount is one credentialed account at the telephony provider.
//
// Health fields are written only by the fleet health monitor.
// AuthToken must never be logged.
type TelephonyAccount struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	AccountSID string `json:"account_sid" db:"account_sid"`
	AuthToken  string `json:"-" db:"auth_token"`
	Active     bool   `json:"active" db:"active"`

	HealthStatus    HealthStatus `json:"health_status,omitempty" db:"health_status"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty" db:"last_health_check"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AgentStatus string

const (
	AgentStatusActive       AgentStatus = "ACTIVE"
	AgentStatusInactive     AgentStatus = "INACTIVE"
	AgentStatusProvisioning AgentStatus = "PROVISIONING"
	AgentStatusArchived     AgentStatus = "ARCHIVED"
)

// VoiceAgent is one autonomous calling agent bound to a phone number
// and a registration on the voice hosting platform.
//
// The Original* fields are non-empty only while the agent is failed over and
// hold what rollback restores.
type VoiceAgent struct {
	ID                 string      `json:"id" db:"id"`
	Name               string      `json:"name" db:"name"`
	Status             AgentStatus `json:"status" db:"status"`
	PlatformAgentID    string      `json:"platform_agent_id,omitempty" db:"platform_agent_id"`
	PhoneNumber        string      `json:"phone_number,omitempty" db:"phone_number"`
	TelephonyAccountID string      `json:"telephony_account_id" db:"telephony_account_id"`

	OriginalPhoneNumber        string `json:"original_phone_number,omitempty" db:"original_phone_number"`
	OriginalTelephonyAccountID string `json:"original_telephony_account_id,omitempty" db:"original_telephony_account_id"`

	HealthStatus    HealthStatus `json:"health_status,omitempty" db:"health_status"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty" db:"last_health_check"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Monitorable reports whether the agent carries everything needed to be
// part of a fleet: active, registered on the platform, and numbered.
// Platform-side verification happens separately.
func (a VoiceAgent) Monitorable() bool {
	return a.Status == AgentStatusActive && a.PlatformAgentID != "" && a.PhoneNumber != ""
}

// FailedOver reports whether the agent currently holds a backup number.
func (a VoiceAgent) FailedOver() bool {
	return a.OriginalPhoneNumber != ""
}

// BackupPhoneNumber is a pooled number reserved for failover.
//
// Invariant: at most one agent holds a given number; numbers return to the
// pool only through rollback.
type BackupPhoneNumber struct {
	ID                 string     `json:"id" db:"id"`
	PhoneNumber        string     `json:"phone_number" db:"phone_number"`
	TelephonyAccountID string     `json:"telephony_account_id" db:"telephony_account_id"`
	Assigned           bool       `json:"assigned" db:"assigned"`
	AssignedAgentID    string     `json:"assigned_agent_id,omitempty" db:"assigned_agent_id"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Move is the result of rebinding one agent onto a claimed backup number.
// Agent is the state after the move.
type Move struct {
	Agent        VoiceAgent        `json:"agent"`
	Backup       BackupPhoneNumber `json:"backup"`
	OldNumber    string            `json:"old_number"`
	OldAccountID string            `json:"old_account_id"`
}
