package voiceplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Platform is the slice of the voice-agent hosting platform API the failover core needs.
type Platform interface {
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	ImportPhoneNumber(ctx context.Context, req ImportPhoneNumberRequest) (ImportedNumber, error)
	AssignPhoneNumber(ctx context.Context, agentID, phoneNumberID string) error
}

// Agent is the platform-side registration of a voice agent.
type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
}

// HasPhoneNumber reports whether a number is bound to the registration.
func (a Agent) HasPhoneNumber() bool {
	return a.PhoneNumberID != ""
}

// ImportPhoneNumberRequest registers a provider number with the platform.
// The provider credentials scope the import to one telephony account.
type ImportPhoneNumberRequest struct {
	PhoneNumber       string `json:"number"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	ProviderAuthToken string `json:"provider_auth_token"`
	Label             string `json:"label,omitempty"`
}

type ImportedNumber struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"number"`
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voiceplatform: platform returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Breaker trips after this many consecutive server-side failures.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	if out.BreakerFailures == 0 {
		out.BreakerFailures = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}

// Client is the REST client for the hosting platform. Every call goes through
// a circuit breaker so a platform outage fails fast instead of stalling the
// health monitor.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

var _ Platform = (*Client)(nil)

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("voiceplatform: base url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("voiceplatform: api key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:    "voiceplatform",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// 4xx answers mean the platform is up.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      gobreaker.NewCircuitBreaker(settings),
	}, nil
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	if agentID == "" {
		return Agent{}, errors.New("voiceplatform: agent id is required")
	}
	var out Agent
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil, &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

func (c *Client) ImportPhoneNumber(ctx context.Context, req ImportPhoneNumberRequest) (ImportedNumber, error) {
	if req.PhoneNumber == "" {
		return ImportedNumber{}, errors.New("voiceplatform: phone number is required")
	}
	var out ImportedNumber
	if err := c.do(ctx, http.MethodPost, "/phone-numbers", req, &out); err != nil {
		return ImportedNumber{}, err
	}
	if out.ID == "" {
		return ImportedNumber{}, errors.New("voiceplatform: import returned no phone number id")
	}
	return out, nil
}

func (c *Client) AssignPhoneNumber(ctx context.Context, agentID, phoneNumberID string) error {
	if agentID == "" || phoneNumberID == "" {
		return errors.New("voiceplatform: agent id and phone number id are required")
	}
	body := map[string]string{"phone_number_id": phoneNumberID}
	return c.do(ctx, http.MethodPatch, "/agents/"+url.PathEscape(agentID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("voiceplatform: %s %s: %w", method, path, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("voiceplatform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("voiceplatform: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &payload)
		msg := payload.Message
		if msg == "" {
			msg = payload.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("voiceplatform: decode response: %w", err)
	}
	return nil
}
