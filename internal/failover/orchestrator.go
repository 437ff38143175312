package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"
	"telephony-failover/internal/metrics"
	"telephony-failover/internal/telephony"
	"telephony-failover/internal/voiceplatform"

	"github.com/google/uuid"
)

const (
	noteResolvedInWindow   = "Issue resolved during approval window"
	noteResolvedOnApproval = "Issue resolved - no longer needs failover"
)

// Runner runs one fleet health check. *health.Monitor satisfies it.
type Runner interface {
	Run(ctx context.Context, accountID string) (health.Summary, error)
}

type Config struct {
	// PollInterval is the pause between re-tests inside an approval window.
	PollInterval time.Duration
	// WindowDuration is how long a degraded event waits for approval before auto-approving.
	WindowDuration time.Duration
	// CallTimeout bounds each platform or provider call during execution.
	CallTimeout time.Duration
	// VerifyWait bounds how long an operator action waits for a fleet run
	// already in progress before giving up with health.ErrRunInProgress.
	VerifyWait time.Duration

	// PublicBaseURL is where the provider reaches this system's webhooks.
	PublicBaseURL string
	// ProviderName is reported to the voice platform when importing numbers.
	ProviderName string
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = 30 * time.Second
	}
	if out.WindowDuration <= 0 {
		out.WindowDuration = 10 * time.Minute
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 15 * time.Second
	}
	if out.VerifyWait <= 0 {
		out.VerifyWait = 90 * time.Second
	}
	if out.ProviderName == "" {
		out.ProviderName = "twilio"
	}
	return out
}

type Deps struct {
	Store    Store
	Monitor  Runner
	Platform voiceplatform.Platform
	Provider telephony.Provider
	Notifier Notifier
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Orchestrator drives failover events through their state machine. It owns
// the background approval windows and executions it starts; Close stops the
// windows and waits for running executions to finish.
type Orchestrator struct {
	store    Store
	monitor  Runner
	platform voiceplatform.Platform
	provider telephony.Provider
	notifier Notifier
	metrics  *metrics.Collector
	log      *slog.Logger
	cfg      Config

	Now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	windows map[string]*Window
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    deps.Store,
		monitor:  deps.Monitor,
		platform: deps.Platform,
		provider: deps.Provider,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		cfg:      cfg.withDefaults(),
		Now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		windows:  map[string]*Window{},
	}
}

// Evaluation is the outcome of one monitor-and-classify pass.
type Evaluation struct {
	Summary  health.Summary `json:"summary"`
	Decision Decision       `json:"decision"`
	Event    *Event         `json:"event,omitempty"`
}

// Evaluate runs the fleet monitor for the account, classifies the result and
// opens a failover event when warranted.
func (o *Orchestrator) Evaluate(ctx context.Context, accountID string) (Evaluation, error) {
	s, err := o.monitor.Run(ctx, accountID)
	if err != nil {
		return Evaluation{}, err
	}
	d := Classify(s)
	o.metrics.IncClassification(string(d))

	out := Evaluation{Summary: s, Decision: d}
	trigger, ok := d.Trigger()
	if !ok {
		return out, nil
	}
	ev, err := o.open(ctx, trigger, s, "", reasonFor(d, s))
	if err != nil {
		return out, err
	}
	out.Event = &ev
	return out, nil
}

// TriggerManual opens a MANUAL event for the account on operator request.
func (o *Orchestrator) TriggerManual(ctx context.Context, accountID, actor, reason string) (Event, error) {
	s, err := o.runWaiting(ctx, accountID)
	if err != nil {
		return Event{}, err
	}
	if reason == "" {
		reason = "Manual failover requested by " + actor
	}
	return o.open(ctx, TriggerManual, s, actor, reason)
}

// Open creates an event from an already classified summary.
func (o *Orchestrator) Open(ctx context.Context, s health.Summary, d Decision) (Event, error) {
	trigger, ok := d.Trigger()
	if !ok {
		return Event{}, ErrNoFailover
	}
	return o.open(ctx, trigger, s, "", reasonFor(d, s))
}

func (o *Orchestrator) open(ctx context.Context, trigger TriggerType, s health.Summary, createdBy, reason string) (Event, error) {
	source, err := o.store.GetAccount(ctx, s.AccountID)
	if err != nil {
		return Event{}, err
	}
	target, err := o.selectBackup(ctx, source.ID)
	if err != nil {
		return Event{}, err
	}

	now := o.Now()
	ev := Event{
		ID:              uuid.NewString(),
		TriggerType:     trigger,
		SourceAccountID: source.ID,
		TargetAccountID: target.ID,
		AffectedAgents:  s.Affected(),
		TotalAgents:     s.Total,
		Reason:          reason,
		CreatedBy:       createdBy,
		TestResults:     []TestResult{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if trigger == TriggerCritical {
		ev.Status = StatusApproved
		ev.ApprovedBy = AutoApprover
		ev.ApprovedAt = &now
	} else {
		ends := now.Add(o.cfg.WindowDuration)
		ev.Status = StatusPendingApproval
		ev.WindowStartedAt = &now
		ev.WindowEndsAt = &ends
	}

	if err := o.store.CreateEvent(ctx, ev); err != nil {
		return Event{}, err
	}
	o.metrics.IncTransition(string(ev.TriggerType), string(ev.Status))
	o.log.Info("failover event created",
		"event_id", ev.ID,
		"trigger", ev.TriggerType,
		"status", ev.Status,
		"source_account_id", ev.SourceAccountID,
		"target_account_id", ev.TargetAccountID,
		"affected", ev.AffectedAgents,
		"total", ev.TotalAgents,
	)
	o.notify(ctx, ev, string(ev.Status), ev.Reason)

	if ev.Status == StatusApproved {
		o.spawnExecute(ev.ID)
	} else {
		o.startWindow(ev, *ev.WindowEndsAt)
	}
	return ev, nil
}

// selectBackup picks the oldest active account other than the source whose
// last known health is not FAILED.
func (o *Orchestrator) selectBackup(ctx context.Context, sourceID string) (fleet.TelephonyAccount, error) {
	accounts, err := o.store.ListActiveAccounts(ctx)
	if err != nil {
		return fleet.TelephonyAccount{}, err
	}
	for _, a := range accounts {
		if a.ID == sourceID || !a.Active || a.HealthStatus == fleet.HealthFailed {
			continue
		}
		return a, nil
	}
	return fleet.TelephonyAccount{}, ErrNoBackupAccount
}

// Approve moves a pending event to APPROVED and starts execution. Automatic
// events are re-verified first; if the failure no longer holds the event is
// cancelled instead and returned without error.
func (o *Orchestrator) Approve(ctx context.Context, eventID, actor string) (Event, error) {
	ev, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	if ev.Status != StatusPendingApproval {
		return ev, fmt.Errorf("%w: event is %s", ErrInvalidTransition, ev.Status)
	}

	if ev.TriggerType != TriggerManual {
		s, err := o.runWaiting(ctx, ev.SourceAccountID)
		if err != nil {
			return ev, fmt.Errorf("failover: re-verify before approval: %w", err)
		}
		if Classify(s) == DecisionNone {
			cancelled, err := o.transition(ctx, ev.ID, StatusPendingApproval, func(e *Event) error {
				e.Status = StatusCancelled
				e.Notes = noteResolvedOnApproval
				return nil
			})
			if err != nil {
				return ev, err
			}
			o.stopWindow(ev.ID)
			o.notify(ctx, cancelled, string(cancelled.Status), cancelled.Notes)
			return cancelled, nil
		}
	}

	approved, err := o.approve(ctx, ev.ID, actor)
	if err != nil {
		return ev, err
	}
	o.stopWindow(ev.ID)
	o.spawnExecute(approved.ID)
	return approved, nil
}

// runWaiting runs the fleet check for an operator action. A run already in
// progress, such as a window re-test, is waited out with backoff for up to
// VerifyWait.
func (o *Orchestrator) runWaiting(ctx context.Context, accountID string) (health.Summary, error) {
	giveUp := time.NewTimer(o.cfg.VerifyWait)
	defer giveUp.Stop()

	backoff := 50 * time.Millisecond
	for {
		s, err := o.monitor.Run(ctx, accountID)
		if !errors.Is(err, health.ErrRunInProgress) {
			return s, err
		}
		retry := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			retry.Stop()
			return health.Summary{}, ctx.Err()
		case <-giveUp.C:
			retry.Stop()
			return health.Summary{}, err
		case <-retry.C:
		}
		backoff = min(backoff*2, 2*time.Second)
	}
}

func (o *Orchestrator) approve(ctx context.Context, eventID, actor string) (Event, error) {
	now := o.Now()
	approved, err := o.transition(ctx, eventID, StatusPendingApproval, func(e *Event) error {
		e.Status = StatusApproved
		e.ApprovedBy = actor
		e.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	o.log.Info("failover event approved", "event_id", eventID, "approved_by", actor)
	o.notify(ctx, approved, string(approved.Status), "Approved by "+actor)
	return approved, nil
}

// Cancel cancels a pending event.
func (o *Orchestrator) Cancel(ctx context.Context, eventID, actor, reason string) (Event, error) {
	if reason == "" {
		reason = "Cancelled by " + actor
	}
	cancelled, err := o.transition(ctx, eventID, StatusPendingApproval, func(e *Event) error {
		e.Status = StatusCancelled
		e.Notes = reason
		return nil
	})
	if errors.Is(err, ErrStatusConflict) {
		return Event{}, fmt.Errorf("%w: only pending events can be cancelled", ErrInvalidTransition)
	}
	if err != nil {
		return Event{}, err
	}
	o.stopWindow(eventID)
	o.log.Info("failover event cancelled", "event_id", eventID, "actor", actor)
	o.notify(ctx, cancelled, string(cancelled.Status), reason)
	return cancelled, nil
}

// Window returns the approval window running in this process for the event.
func (o *Orchestrator) Window(eventID string) (*Window, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.windows[eventID]
	return w, ok
}

// ResumePending restarts approval windows for stored pending events and
// executions for approved ones. Events found EXECUTING are only reported: a
// cutover interrupted mid-way needs an operator.
func (o *Orchestrator) ResumePending(ctx context.Context) (int, error) {
	resumed, err := o.AdoptWindows(ctx)
	if err != nil {
		return resumed, err
	}

	approved, err := o.store.ListEvents(ctx, EventFilter{Status: StatusApproved})
	if err != nil {
		return resumed, err
	}
	for _, ev := range approved {
		o.spawnExecute(ev.ID)
		resumed++
	}

	executing, err := o.store.ListEvents(ctx, EventFilter{Status: StatusExecuting})
	if err != nil {
		return resumed, err
	}
	for _, ev := range executing {
		o.log.Error("failover event interrupted during execution; operator intervention required",
			"event_id", ev.ID,
			"source_account_id", ev.SourceAccountID,
			"target_account_id", ev.TargetAccountID,
		)
	}
	return resumed, nil
}

// AdoptWindows starts a local approval window for every pending event that has
// none in this process. Windows for the same event in several processes are
// safe: the first transition wins and the others end SUPERSEDED.
func (o *Orchestrator) AdoptWindows(ctx context.Context) (int, error) {
	pending, err := o.store.ListEvents(ctx, EventFilter{Status: StatusPendingApproval})
	if err != nil {
		return 0, err
	}
	adopted := 0
	for _, ev := range pending {
		deadline := o.Now()
		if ev.WindowEndsAt != nil {
			deadline = *ev.WindowEndsAt
		}
		if o.startWindow(ev, deadline) {
			adopted++
		}
	}
	return adopted, nil
}

// Wait blocks until every background window and execution has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops all approval windows and waits for executions to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// spawn runs fn in the background unless the orchestrator is closed.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
	return true
}

// spawnExecute starts execution detached from Close: a cutover runs to completion once begun.
func (o *Orchestrator) spawnExecute(eventID string) {
	o.spawn(func(ctx context.Context) {
		if _, err := o.Execute(context.WithoutCancel(ctx), eventID); err != nil {
			o.log.Error("failover execution failed", "event_id", eventID, "err", err)
		}
	})
}

func (o *Orchestrator) transition(ctx context.Context, eventID string, from Status, mutate func(*Event) error) (Event, error) {
	now := o.Now()
	ev, err := o.store.TransitionEvent(ctx, eventID, from, func(e *Event) error {
		if err := mutate(e); err != nil {
			return err
		}
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	if ev.Status != from {
		o.metrics.IncTransition(string(ev.TriggerType), string(ev.Status))
	}
	return ev, nil
}

func (o *Orchestrator) notify(ctx context.Context, ev Event, status, reason string) {
	o.send(ctx, ev, status, reason, false)
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, ev Event, reason string) {
	o.send(ctx, ev, string(ev.Status), reason, true)
}

func (o *Orchestrator) send(ctx context.Context, ev Event, status, reason string, completed bool) {
	n := Notification{
		EventID:        ev.ID,
		TriggerType:    ev.TriggerType,
		SourceAccount:  o.accountName(ctx, ev.SourceAccountID),
		TargetAccount:  o.accountName(ctx, ev.TargetAccountID),
		AffectedAgents: ev.AffectedAgents,
		Status:         status,
		Reason:         reason,
	}

	kind := "state"
	var err error
	if completed {
		kind = "completed"
		err = o.notifier.NotifyFailoverCompleted(ctx, n)
	} else {
		err = o.notifier.NotifyFailoverState(ctx, n)
	}
	o.metrics.IncNotification(kind, err)
	if err != nil {
		o.log.Warn("failover notification failed", "event_id", ev.ID, "kind", kind, "err", err)
	}
}

func (o *Orchestrator) accountName(ctx context.Context, accountID string) string {
	acc, err := o.store.GetAccount(ctx, accountID)
	if err != nil || acc.Name == "" {
		return accountID
	}
	return acc.Name
}

func reasonFor(d Decision, s health.Summary) string {
	switch d {
	case DecisionCritical:
		return fmt.Sprintf("Account check failed critically: %v", s.AccountCheck.Details["error"])
	case DecisionDegraded:
		return fmt.Sprintf("%d of %d agents degraded or failed (failure rate %.0f%%)", s.Affected(), s.Total, s.FailureRate*100)
	default:
		return ""
	}
}
