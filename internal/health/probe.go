package health

import (
	"context"
	"time"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/metrics"
	"telephony-failover/internal/telephony"
)

type CheckKind string

const (
	KindAccount     CheckKind = "ACCOUNT_CHECK"
	KindPhoneNumber CheckKind = "PHONE_NUMBER_CHECK"
)

type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// CheckResult is one point-in-time probe verdict.
//
// Critical is only ever set on a failed account check caused by an
// authorization or suspension class rejection.
type CheckResult struct {
	Kind         CheckKind      `json:"kind"`
	Verdict      Verdict        `json:"verdict"`
	Critical     bool           `json:"critical,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	ResponseTime time.Duration  `json:"response_time"`
	CheckedAt    time.Time      `json:"checked_at"`
}

func (r CheckResult) Passed() bool { return r.Verdict == VerdictPass }

// Probe runs read-only checks against the telephony provider. It never
// returns errors: every failure becomes a FAIL verdict with the message in Details.
type Probe struct {
	provider telephony.Provider
	timeout  time.Duration
	metrics  *metrics.Collector
	now      func() time.Time
}

func NewProbe(provider telephony.Provider, timeout time.Duration, m *metrics.Collector) *Probe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Probe{provider: provider, timeout: timeout, metrics: m, now: time.Now}
}

func (p *Probe) CheckAccount(ctx context.Context, creds telephony.Credentials) CheckResult {
	start := p.now()
	res := CheckResult{Kind: KindAccount, CheckedAt: start, Details: map[string]any{}}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	acc, err := p.provider.FetchAccount(callCtx, creds)
	cancel()
	res.ResponseTime = p.now().Sub(start)

	switch {
	case err != nil:
		res.Verdict = VerdictFail
		res.Critical = telephony.IsAuthError(err)
		res.Details["error"] = err.Error()
	case !acc.Usable():
		res.Verdict = VerdictFail
		res.Details["error"] = "account status is " + string(acc.Status)
		res.Details["account_status"] = string(acc.Status)
	default:
		res.Verdict = VerdictPass
		res.Details["account_status"] = string(acc.Status)
		res.Details["friendly_name"] = acc.FriendlyName
	}

	p.metrics.ObserveProbe(string(res.Kind), string(res.Verdict), res.ResponseTime)
	return res
}

func (p *Probe) CheckPhoneNumber(ctx context.Context, creds telephony.Credentials, number string) CheckResult {
	start := p.now()
	res := CheckResult{Kind: KindPhoneNumber, CheckedAt: start, Details: map[string]any{"phone_number": number}}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	n, found, err := p.provider.LookupPhoneNumber(callCtx, creds, number)
	cancel()
	res.ResponseTime = p.now().Sub(start)

	switch {
	case err != nil:
		res.Verdict = VerdictFail
		res.Details["error"] = err.Error()
	case !found:
		res.Verdict = VerdictFail
		res.Details["error"] = "phone number not found on account"
	case !n.Usable():
		res.Verdict = VerdictFail
		res.Details["error"] = "phone number is " + string(n.Status)
		res.Details["number_status"] = string(n.Status)
	default:
		res.Verdict = VerdictPass
		res.Details["number_status"] = string(n.Status)
	}

	p.metrics.ObserveProbe(string(res.Kind), string(res.Verdict), res.ResponseTime)
	return res
}

// CredentialsFor returns the provider credentials of acc.
func CredentialsFor(acc fleet.TelephonyAccount) telephony.Credentials {
	return telephony.Credentials{AccountSID: acc.AccountSID, AuthToken: acc.AuthToken}
}
