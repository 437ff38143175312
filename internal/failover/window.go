package failover

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type WindowOutcome string

const (
	// WindowRunning is reported until the loop exits.
	WindowRunning      WindowOutcome = ""
	WindowRecovered    WindowOutcome = "RECOVERED"
	WindowAutoApproved WindowOutcome = "AUTO_APPROVED"
	// WindowEscalated means a re-test found the account critical and the event was approved at once.
	WindowEscalated WindowOutcome = "ESCALATED"
	// WindowSuperseded means the event left PENDING_APPROVAL through another path.
	WindowSuperseded WindowOutcome = "SUPERSEDED"
	WindowStopped    WindowOutcome = "STOPPED"
)

// Window is a running approval window: a loop that re-tests the source
// account every poll interval until the event recovers, is approved or
// cancelled elsewhere, or the deadline passes. A critical re-test approves
// the event without waiting for the deadline.
type Window struct {
	EventID  string
	Deadline time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	outcome WindowOutcome
	tests   []TestResult
}

func newWindow(eventID string, deadline time.Time) *Window {
	return &Window{
		EventID:  eventID,
		Deadline: deadline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed when the loop has exited.
func (w *Window) Done() <-chan struct{} { return w.done }

// Stop ends the loop at its next suspension point without touching the event.
func (w *Window) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Window) Outcome() WindowOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Tests returns the re-tests this loop has taken so far.
func (w *Window) Tests() []TestResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TestResult, len(w.tests))
	copy(out, w.tests)
	return out
}

func (w *Window) record(tr TestResult) {
	w.mu.Lock()
	w.tests = append(w.tests, tr)
	w.mu.Unlock()
}

func (w *Window) finish(outcome WindowOutcome) {
	w.mu.Lock()
	w.outcome = outcome
	w.mu.Unlock()
}

// startWindow registers and launches a window for ev. It reports false if
// one is already running for the event or the orchestrator is closed.
func (o *Orchestrator) startWindow(ev Event, deadline time.Time) bool {
	w := newWindow(ev.ID, deadline)

	o.mu.Lock()
	if _, exists := o.windows[ev.ID]; exists {
		o.mu.Unlock()
		return false
	}
	o.windows[ev.ID] = w
	o.mu.Unlock()

	if !o.spawn(func(ctx context.Context) { o.runWindow(ctx, w) }) {
		o.forgetWindow(w)
		return false
	}
	return true
}

func (o *Orchestrator) stopWindow(eventID string) {
	if w, ok := o.Window(eventID); ok {
		w.Stop()
	}
}

func (o *Orchestrator) forgetWindow(w *Window) {
	o.mu.Lock()
	if cur, ok := o.windows[w.EventID]; ok && cur == w {
		delete(o.windows, w.EventID)
	}
	o.mu.Unlock()
}

// runWindow holds no lock across the sleep. Each tick re-reads the event and
// exits as soon as it is no longer pending, so at most one terminal
// transition leaves the loop.
func (o *Orchestrator) runWindow(ctx context.Context, w *Window) {
	defer close(w.done)
	defer o.forgetWindow(w)

	log := o.log.With("event_id", w.EventID)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finish(WindowStopped)
			return
		case <-w.stop:
			w.finish(WindowStopped)
			return
		case <-ticker.C:
		}

		ev, err := o.store.GetEvent(ctx, w.EventID)
		if errors.Is(err, ErrEventNotFound) {
			log.Error("approval window event disappeared")
			w.finish(WindowStopped)
			return
		}
		if err != nil {
			log.Warn("approval window could not load event", "err", err)
			continue
		}
		if ev.Status != StatusPendingApproval {
			log.Info("approval window superseded", "status", ev.Status)
			w.finish(WindowSuperseded)
			return
		}

		if !o.Now().Before(w.Deadline) {
			if o.autoApprove(ctx, log, w, ev.ID, WindowAutoApproved) {
				return
			}
			continue
		}

		tr := o.retest(ctx, ev.SourceAccountID)
		w.record(tr)
		if err := o.store.AppendTestResult(ctx, ev.ID, tr); err != nil {
			log.Warn("append test result failed", "err", err)
		}

		if tr.Critical {
			log.Warn("account check critical during approval window; approving now")
			if o.autoApprove(ctx, log, w, ev.ID, WindowEscalated) {
				return
			}
			continue
		}

		if tr.Recovered && ev.TriggerType != TriggerManual {
			cancelled, err := o.transition(ctx, ev.ID, StatusPendingApproval, func(e *Event) error {
				e.Status = StatusCancelled
				e.Notes = noteResolvedInWindow
				return nil
			})
			if err != nil {
				if errors.Is(err, ErrStatusConflict) {
					w.finish(WindowSuperseded)
					return
				}
				log.Error("cancel on recovery failed", "err", err)
				continue
			}
			log.Info("failover event resolved during approval window")
			o.notify(ctx, cancelled, string(cancelled.Status), cancelled.Notes)
			w.finish(WindowRecovered)
			return
		}
	}
}

// autoApprove approves the event as the system and executes it inline. It
// reports whether the window is finished.
func (o *Orchestrator) autoApprove(ctx context.Context, log *slog.Logger, w *Window, eventID string, outcome WindowOutcome) bool {
	if _, err := o.approve(ctx, eventID, AutoApprover); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			w.finish(WindowSuperseded)
			return true
		}
		log.Error("auto-approval failed", "err", err)
		return false
	}
	w.finish(outcome)
	if _, err := o.Execute(context.WithoutCancel(ctx), eventID); err != nil {
		log.Error("failover execution failed", "err", err)
	}
	return true
}

func (o *Orchestrator) retest(ctx context.Context, accountID string) TestResult {
	s, err := o.monitor.Run(ctx, accountID)
	if err != nil {
		return TestResult{TestedAt: o.Now(), Error: err.Error()}
	}
	return TestResult{
		TestedAt:           s.CheckedAt,
		AccountCheckPassed: s.AccountCheck.Passed(),
		Critical:           s.AccountCheck.Critical,
		Total:              s.Total,
		Healthy:            s.Healthy,
		Degraded:           s.Degraded,
		Failed:             s.Failed,
		FailureRate:        s.FailureRate,
		Recovered:          Recovered(s),
	}
}
