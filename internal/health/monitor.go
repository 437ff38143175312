package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/lock"
	"telephony-failover/internal/metrics"
	"telephony-failover/internal/voiceplatform"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress means another fleet run holds the account's run lock.
var ErrRunInProgress = errors.New("health: a fleet run for this account is already in progress")

// Store is the persistence the monitor needs.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (fleet.TelephonyAccount, error)
	ListAgentsByAccount(ctx context.Context, accountID string) ([]fleet.VoiceAgent, error)

	AppendHealthRecords(ctx context.Context, records ...Record) error
	UpdateAccountHealth(ctx context.Context, accountID string, status fleet.HealthStatus, checkedAt time.Time) error
	UpdateAgentHealth(ctx context.Context, agentID string, status fleet.HealthStatus, checkedAt time.Time) error
}

// Locker hands out expiring exclusive locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Release, bool, error)
}

// Summary is the fleet-level outcome of one run.
type Summary struct {
	AccountID    string            `json:"account_id"`
	AccountCheck CheckResult       `json:"account_check"`
	Total        int               `json:"total"`
	Healthy      int               `json:"healthy"`
	Degraded     int               `json:"degraded"`
	Failed       int               `json:"failed"`
	FailureRate  float64           `json:"failure_rate"`
	Agents       []AgentEvaluation `json:"agents,omitempty"`
	Excluded     []string          `json:"excluded,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Affected is the number of degraded or failed agents.
func (s Summary) Affected() int { return s.Degraded + s.Failed }

// AccountStatus is the status written back to the account for this summary.
func (s Summary) AccountStatus() fleet.HealthStatus {
	switch {
	case !s.AccountCheck.Passed():
		return fleet.HealthFailed
	case s.FailureRate > 0.5:
		return fleet.HealthDegraded
	default:
		return fleet.HealthHealthy
	}
}

func (s *Summary) add(ev AgentEvaluation) {
	s.Agents = append(s.Agents, ev)
	s.Total++
	switch ev.Status {
	case fleet.HealthFailed:
		s.Failed++
	case fleet.HealthDegraded:
		s.Degraded++
	default:
		s.Healthy++
	}
}

func (s *Summary) finish() {
	if s.Total == 0 {
		s.FailureRate = 0
		return
	}
	s.FailureRate = float64(s.Affected()) / float64(s.Total)
}

type MonitorConfig struct {
	ProbeTimeout time.Duration
	// Concurrency bounds parallel per-agent checks within one run.
	Concurrency int
	LockTTL     time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	out := c
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 10 * time.Second
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 8
	}
	if out.LockTTL <= 0 {
		out.LockTTL = 5 * time.Minute
	}
	return out
}

// Monitor runs fleet health checks for one account at a time. Runs for
// different accounts share nothing but the injected clients.
type Monitor struct {
	store     Store
	locker    Locker
	platform  voiceplatform.Platform
	probe     *Probe
	evaluator *Evaluator
	metrics   *metrics.Collector
	log       *slog.Logger
	cfg       MonitorConfig

	Now func() time.Time
}

type MonitorDeps struct {
	Store    Store
	Locker   Locker
	Probe    *Probe
	Platform voiceplatform.Platform
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

func NewMonitor(deps MonitorDeps, cfg MonitorConfig) *Monitor {
	cfg = cfg.withDefaults()
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Monitor{
		store:     deps.Store,
		locker:    deps.Locker,
		platform:  deps.Platform,
		probe:     deps.Probe,
		evaluator: NewEvaluator(deps.Platform, deps.Probe, cfg.ProbeTimeout),
		metrics:   deps.Metrics,
		log:       deps.Logger,
		cfg:       cfg,
		Now:       time.Now,
	}
}

func runLockKey(accountID string) string { return "health-run:" + accountID }

// Run checks one account and its fleet, persists the history and health fields,
// and returns the summary. Only lock and account lookup failures are returned;
// probe failures end up in the summary and write-back failures are logged.
func (m *Monitor) Run(ctx context.Context, accountID string) (Summary, error) {
	release, ok, err := m.locker.TryLock(ctx, runLockKey(accountID), m.cfg.LockTTL)
	if err != nil {
		return Summary{}, fmt.Errorf("health: acquire run lock: %w", err)
	}
	if !ok {
		return Summary{}, ErrRunInProgress
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(relCtx); err != nil {
			m.log.Warn("release run lock failed", "account_id", accountID, "err", err)
		}
	}()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}

	log := m.log.With("account_id", accountID)
	summary := Summary{AccountID: accountID}
	summary.AccountCheck = m.probe.CheckAccount(ctx, CredentialsFor(account))

	agents, err := m.store.ListAgentsByAccount(ctx, accountID)
	if err != nil {
		return Summary{}, fmt.Errorf("health: list agents: %w", err)
	}

	evals, excluded := m.evaluateFleet(ctx, account, agents)
	for _, ev := range evals {
		summary.add(ev)
	}
	summary.Excluded = excluded
	summary.finish()
	summary.CheckedAt = m.Now()

	m.persist(ctx, log, summary)
	m.metrics.SetFleet(accountID, summary.Healthy, summary.Degraded, summary.Failed, summary.FailureRate)

	log.Info("fleet health checked",
		"account_check", summary.AccountCheck.Verdict,
		"critical", summary.AccountCheck.Critical,
		"total", summary.Total,
		"degraded", summary.Degraded,
		"failed", summary.Failed,
		"failure_rate", summary.FailureRate,
		"excluded", len(excluded),
	)
	return summary, nil
}

// evaluateFleet verifies and evaluates agents in parallel. Results keep the
// input order so aggregation is deterministic. Excluded lists only monitorable
// agents that failed platform verification.
func (m *Monitor) evaluateFleet(ctx context.Context, account fleet.TelephonyAccount, agents []fleet.VoiceAgent) ([]AgentEvaluation, []string) {
	type slot struct {
		checked  bool
		verified bool
		eval     AgentEvaluation
	}
	slots := make([]slot, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, agent := range agents {
		if !agent.Monitorable() || agent.TelephonyAccountID != account.ID {
			continue
		}
		slots[i].checked = true
		i, agent := i, agent
		g.Go(func() error {
			if !m.verified(gctx, agent) {
				return nil
			}
			slots[i].verified = true
			slots[i].eval = m.evaluator.Evaluate(gctx, agent, account)
			return nil
		})
	}
	_ = g.Wait()

	var (
		evals    []AgentEvaluation
		excluded []string
	)
	for i, s := range slots {
		switch {
		case !s.checked:
		case s.verified:
			evals = append(evals, s.eval)
		default:
			excluded = append(excluded, agents[i].ID)
		}
	}
	return evals, excluded
}

// verified reports whether the platform knows the agent and has a number bound.
// A panicking platform client counts as unverified.
func (m *Monitor) verified(ctx context.Context, agent fleet.VoiceAgent) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("agent verification panicked", "agent_id", agent.ID, "panic", p)
			ok = false
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	reg, err := m.platform.GetAgent(callCtx, agent.PlatformAgentID)
	if err != nil {
		m.log.Debug("agent not verified on voice platform", "agent_id", agent.ID, "err", err)
		return false
	}
	return reg.HasPhoneNumber()
}

func (m *Monitor) persist(ctx context.Context, log *slog.Logger, s Summary) {
	records := make([]Record, 0, len(s.Agents)+1)
	records = append(records, Record{
		ID:             uuid.NewString(),
		TargetType:     TargetAccountCheck,
		TargetID:       s.AccountID,
		AccountID:      s.AccountID,
		Status:         string(s.AccountCheck.Verdict),
		Details:        accountDetails(s.AccountCheck),
		ResponseTimeMs: s.AccountCheck.ResponseTime.Milliseconds(),
		CheckedAt:      s.CheckedAt,
	})
	for _, ev := range s.Agents {
		records = append(records, Record{
			ID:             uuid.NewString(),
			TargetType:     TargetAgent,
			TargetID:       ev.AgentID,
			AccountID:      s.AccountID,
			Status:         string(ev.Status),
			Details:        agentDetails(ev),
			ResponseTimeMs: ev.ResponseTime.Milliseconds(),
			CheckedAt:      s.CheckedAt,
		})
	}
	if err := m.store.AppendHealthRecords(ctx, records...); err != nil {
		log.Error("append health records failed", "err", err)
	}

	if err := m.store.UpdateAccountHealth(ctx, s.AccountID, s.AccountStatus(), s.CheckedAt); err != nil {
		log.Error("update account health failed", "err", err)
	}
	for _, ev := range s.Agents {
		if err := m.store.UpdateAgentHealth(ctx, ev.AgentID, ev.Status, s.CheckedAt); err != nil {
			log.Error("update agent health failed", "agent_id", ev.AgentID, "err", err)
		}
	}
}
