// Package scheduler runs the periodic failover evaluation of every active
// telephony account.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"

	"golang.org/x/sync/errgroup"
)

type AccountLister interface {
	ListActiveAccounts(ctx context.Context) ([]fleet.TelephonyAccount, error)
}

// Evaluator is satisfied by *failover.Orchestrator.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string) (failover.Evaluation, error)
}

// WindowAdopter is satisfied by *failover.Orchestrator. Evaluators that
// implement it pick up approval windows orphaned by exited processes on every tick.
type WindowAdopter interface {
	AdoptWindows(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	// Concurrency bounds how many accounts are evaluated at once.
	Concurrency int
}

func (c Config) withDefaults() Config {
	out := c
	if out.Interval <= 0 {
		out.Interval = 5 * time.Minute
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	return out
}

// TickResult counts what one pass over the accounts did.
type TickResult struct {
	Accounts int
	Opened   int
	Skipped  int
	Failed   int
}

type Scheduler struct {
	accounts  AccountLister
	evaluator Evaluator
	adopter   WindowAdopter
	log       *slog.Logger
	cfg       Config
}

func New(accounts AccountLister, evaluator Evaluator, log *slog.Logger, cfg Config) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{accounts: accounts, evaluator: evaluator, log: log, cfg: cfg.withDefaults()}
	if a, ok := evaluator.(WindowAdopter); ok {
		s.adopter = a
	}
	return s
}

// Start evaluates immediately and then on every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.cfg.Interval.String(), "concurrency", s.cfg.Concurrency)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every active account once. Per-account failures are logged
// and never stop the pass.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if s.adopter != nil {
		if n, err := s.adopter.AdoptWindows(ctx); err != nil {
			s.log.Error("adopt approval windows failed", "err", err)
		} else if n > 0 {
			s.log.Info("adopted approval windows", "count", n)
		}
	}

	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("list active accounts failed", "err", err)
		return TickResult{}
	}

	results := make([]outcome, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			results[i] = s.evaluate(gctx, acc.ID)
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{Accounts: len(accounts)}
	for _, o := range results {
		switch o {
		case outcomeOpened:
			res.Opened++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}
	s.log.Info("evaluation pass finished",
		"accounts", res.Accounts,
		"opened", res.Opened,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeOpened
	outcomeSkipped
	outcomeFailed
)

func (s *Scheduler) evaluate(ctx context.Context, accountID string) outcome {
	log := s.log.With("account_id", accountID)

	ev, err := s.evaluator.Evaluate(ctx, accountID)
	switch {
	case errors.Is(err, health.ErrRunInProgress), errors.Is(err, failover.ErrActiveEventExists):
		log.Info("evaluation skipped", "reason", err.Error())
		return outcomeSkipped
	case err != nil:
		log.Error("evaluation failed", "decision", ev.Decision, "err", err)
		return outcomeFailed
	case ev.Event != nil:
		log.Warn("failover event opened", "event_id", ev.Event.ID, "decision", ev.Decision, "status", ev.Event.Status)
		return outcomeOpened
	default:
		log.Debug("evaluation finished", "decision", ev.Decision)
		return outcomeNone
	}
}
