package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Provider is the slice of the telephony provider API the failover core needs.
//
// Rules:
// - No provider SDK calls outside this package.
// - Every call is scoped by the account credentials passed in; clients hold no account state.
// - Errors from the remote API are returned as *APIError so callers can tell auth failures apart.
type Provider interface {
	FetchAccount(ctx context.Context, creds Credentials) (Account, error)

	// LookupPhoneNumber returns found=false when the number is not in the
	// account's inventory.
	LookupPhoneNumber(ctx context.Context, creds Credentials, number string) (PhoneNumber, bool, error)

	UpdateVoiceWebhook(ctx context.Context, creds Credentials, number string, hook VoiceWebhook) error
}

// Credentials authenticate against one provider account. AuthToken must not be logged.
type Credentials struct {
	AccountSID string
	AuthToken  string
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

type Account struct {
	SID          string        `json:"sid"`
	FriendlyName string        `json:"friendly_name"`
	Status       AccountStatus `json:"status"`
}

// Usable reports whether the provider still lets the account place and receive calls.
func (a Account) Usable() bool {
	return a.Status != AccountStatusSuspended && a.Status != AccountStatusClosed
}

type NumberStatus string

const (
	NumberStatusInUse    NumberStatus = "in-use"
	NumberStatusReleased NumberStatus = "released"
	NumberStatusDeleted  NumberStatus = "deleted"
)

type PhoneNumber struct {
	SID         string       `json:"sid"`
	PhoneNumber string       `json:"phone_number"`
	Status      NumberStatus `json:"status"`
	VoiceURL    string       `json:"voice_url,omitempty"`
}

// Usable reports whether the number can still carry calls.
func (n PhoneNumber) Usable() bool {
	return n.Status != NumberStatusReleased && n.Status != NumberStatusDeleted
}

// VoiceWebhook is the inbound-call configuration of one number.
type VoiceWebhook struct {
	VoiceURL             string
	VoiceMethod          string
	StatusCallback       string
	StatusCallbackMethod string
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telephony: provider returned %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("telephony: provider returned %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an authorization or suspension class
// rejection (401/403) from the provider.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
