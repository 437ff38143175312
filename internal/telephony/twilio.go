package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	twilioAPIVersion     = "2010-04-01"
)

// TwilioConfig controls the REST client. Zero values get safe defaults.
type TwilioConfig struct {
	BaseURL string
	Timeout time.Duration

	// RatePerSecond caps outbound requests across all accounts.
	RatePerSecond float64
	Burst         int
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	out := c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = defaultTwilioBaseURL
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.RatePerSecond <= 0 {
		out.RatePerSecond = 20
	}
	if out.Burst <= 0 {
		out.Burst = 10
	}
	return out
}

// TwilioProvider talks to a Twilio-compatible REST API with basic auth.
type TwilioProvider struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ Provider = (*TwilioProvider)(nil)

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	cfg = cfg.withDefaults()
	return &TwilioProvider{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

func (p *TwilioProvider) FetchAccount(ctx context.Context, creds Credentials) (Account, error) {
	var out Account
	path := fmt.Sprintf("/%s/Accounts/%s.json", twilioAPIVersion, url.PathEscape(creds.AccountSID))
	if err := p.do(ctx, creds, http.MethodGet, path, nil, &out); err != nil {
		return Account{}, err
	}
	return out, nil
}

func (p *TwilioProvider) LookupPhoneNumber(ctx context.Context, creds Credentials, number string) (PhoneNumber, bool, error) {
	var page struct {
		IncomingPhoneNumbers []PhoneNumber `json:"incoming_phone_numbers"`
	}
	q := url.Values{"PhoneNumber": {number}}
	path := fmt.Sprintf("/%s/Accounts/%s/IncomingPhoneNumbers.json?%s", twilioAPIVersion, url.PathEscape(creds.AccountSID), q.Encode())
	if err := p.do(ctx, creds, http.MethodGet, path, nil, &page); err != nil {
		return PhoneNumber{}, false, err
	}
	for _, n := range page.IncomingPhoneNumbers {
		if n.PhoneNumber == number {
			return n, true, nil
		}
	}
	return PhoneNumber{}, false, nil
}

func (p *TwilioProvider) UpdateVoiceWebhook(ctx context.Context, creds Credentials, number string, hook VoiceWebhook) error {
	n, found, err := p.LookupPhoneNumber(ctx, creds, number)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("telephony: number %s not found on account %s", number, creds.AccountSID)
	}

	form := url.Values{}
	form.Set("VoiceUrl", hook.VoiceURL)
	form.Set("VoiceMethod", defaultMethod(hook.VoiceMethod))
	if hook.StatusCallback != "" {
		form.Set("StatusCallback", hook.StatusCallback)
		form.Set("StatusCallbackMethod", defaultMethod(hook.StatusCallbackMethod))
	}

	path := fmt.Sprintf("/%s/Accounts/%s/IncomingPhoneNumbers/%s.json", twilioAPIVersion, url.PathEscape(creds.AccountSID), url.PathEscape(n.SID))
	return p.do(ctx, creds, http.MethodPost, path, form, nil)
}

func (p *TwilioProvider) do(ctx context.Context, creds Credentials, method, path string, form url.Values, out any) error {
	if creds.AccountSID == "" {
		return errors.New("telephony: account sid is required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telephony: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}

func defaultMethod(m string) string {
	if m == "" {
		return http.MethodPost
	}
	return m
}
