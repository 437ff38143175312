package failover_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"
	"telephony-failover/internal/lock"
	"telephony-failover/internal/storage/memory"
	"telephony-failover/internal/telephony"
	"telephony-failover/internal/voiceplatform"

	"github.com/stretchr/testify/require"
)

// scriptedRunner returns summaries from fn; call n starts at 0.
type scriptedRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(n int, accountID string) (health.Summary, error)
}

func (r *scriptedRunner) Run(_ context.Context, accountID string) (health.Summary, error) {
	r.mu.Lock()
	n := r.calls
	r.calls++
	fn := r.fn
	r.mu.Unlock()
	return fn(n, accountID)
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *scriptedRunner) set(fn func(n int, accountID string) (health.Summary, error)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

func always(s health.Summary) func(int, string) (health.Summary, error) {
	return func(int, string) (health.Summary, error) { return s, nil }
}

func summary(accountID string, passed, critical bool, healthy, degraded, failed int) health.Summary {
	s := health.Summary{
		AccountID: accountID,
		Total:     healthy + degraded + failed,
		Healthy:   healthy,
		Degraded:  degraded,
		Failed:    failed,
		CheckedAt: time.Now(),
	}
	s.AccountCheck = health.CheckResult{Kind: health.KindAccount, Verdict: health.VerdictPass}
	if !passed {
		s.AccountCheck.Verdict = health.VerdictFail
		s.AccountCheck.Critical = critical
	}
	if s.Total > 0 {
		s.FailureRate = float64(degraded+failed) / float64(s.Total)
	}
	return s
}

type platformCall struct {
	AgentID string
	Number  string
}

type fakePlatform struct {
	mu        sync.Mutex
	imports   []voiceplatform.ImportPhoneNumberRequest
	assigns   []platformCall
	importErr map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{importErr: map[string]error{}}
}

func (p *fakePlatform) GetAgent(_ context.Context, id string) (voiceplatform.Agent, error) {
	return voiceplatform.Agent{ID: id, PhoneNumberID: "pn"}, nil
}

func (p *fakePlatform) ImportPhoneNumber(_ context.Context, req voiceplatform.ImportPhoneNumberRequest) (voiceplatform.ImportedNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.importErr[req.PhoneNumber]; err != nil {
		return voiceplatform.ImportedNumber{}, err
	}
	p.imports = append(p.imports, req)
	return voiceplatform.ImportedNumber{ID: "pn-" + req.PhoneNumber, PhoneNumber: req.PhoneNumber}, nil
}

func (p *fakePlatform) AssignPhoneNumber(_ context.Context, agentID, phoneNumberID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigns = append(p.assigns, platformCall{AgentID: agentID, Number: phoneNumberID})
	return nil
}

func (p *fakePlatform) Assigns() []platformCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platformCall(nil), p.assigns...)
}

type webhookCall struct {
	AccountSID string
	Number     string
	Hook       telephony.VoiceWebhook
}

type fakeProvider struct {
	mu       sync.Mutex
	webhooks []webhookCall
}

func (p *fakeProvider) FetchAccount(context.Context, telephony.Credentials) (telephony.Account, error) {
	return telephony.Account{Status: telephony.AccountStatusActive}, nil
}

func (p *fakeProvider) LookupPhoneNumber(context.Context, telephony.Credentials, string) (telephony.PhoneNumber, bool, error) {
	return telephony.PhoneNumber{}, false, errors.New("not used")
}

func (p *fakeProvider) UpdateVoiceWebhook(_ context.Context, creds telephony.Credentials, number string, hook telephony.VoiceWebhook) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.webhooks = append(p.webhooks, webhookCall{AccountSID: creds.AccountSID, Number: number, Hook: hook})
	return nil
}

func (p *fakeProvider) Webhooks() []webhookCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webhookCall(nil), p.webhooks...)
}

// gatedProvider holds the first account fetch until release is called.
type gatedProvider struct {
	*fakeProvider

	first    sync.Once
	entered  chan struct{}
	gate     chan struct{}
	openGate sync.Once
}

func newGatedProvider(p *fakeProvider) *gatedProvider {
	return &gatedProvider{fakeProvider: p, entered: make(chan struct{}), gate: make(chan struct{})}
}

func (p *gatedProvider) FetchAccount(ctx context.Context, creds telephony.Credentials) (telephony.Account, error) {
	held := false
	p.first.Do(func() { held = true })
	if held {
		close(p.entered)
		select {
		case <-p.gate:
		case <-ctx.Done():
			return telephony.Account{}, ctx.Err()
		}
	}
	return p.fakeProvider.FetchAccount(ctx, creds)
}

func (p *gatedProvider) release() {
	p.openGate.Do(func() { close(p.gate) })
}

type sentNotification struct {
	Completed bool
	failover.Notification
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) NotifyFailoverState(_ context.Context, note failover.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Notification: note})
	return nil
}

func (n *recordingNotifier) NotifyFailoverCompleted(_ context.Context, note failover.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Completed: true, Notification: note})
	return nil
}

func (n *recordingNotifier) Statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Status)
	}
	return out
}

func (n *recordingNotifier) Completed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Completed {
			c++
		}
	}
	return c
}

type harness struct {
	store    *memory.Store
	runner   *scriptedRunner
	platform *fakePlatform
	provider *fakeProvider
	notifier *recordingNotifier
	orch     *failover.Orchestrator
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newHarness seeds a source account "primary" plus two candidate backups,
// "backup" (older) and "spare".
func newHarness(t *testing.T, cfg failover.Config) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		runner:   &scriptedRunner{fn: always(summary("primary", true, false, 1, 0, 0))},
		platform: newFakePlatform(),
		provider: &fakeProvider{},
		notifier: &recordingNotifier{},
	}
	h.store.PutAccount(fleet.TelephonyAccount{ID: "primary", Name: "Primary", AccountSID: "AC-primary", Active: true, CreatedAt: epoch})
	h.store.PutAccount(fleet.TelephonyAccount{ID: "backup", Name: "Backup", AccountSID: "AC-backup", AuthToken: "tok", Active: true, CreatedAt: epoch.Add(time.Hour)})
	h.store.PutAccount(fleet.TelephonyAccount{ID: "spare", Name: "Spare", AccountSID: "AC-spare", Active: true, CreatedAt: epoch.Add(2 * time.Hour)})

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://failover.example.com/"
	}
	h.orch = failover.New(failover.Deps{
		Store:    h.store,
		Monitor:  h.runner,
		Platform: h.platform,
		Provider: h.provider,
		Notifier: h.notifier,
	}, cfg)
	t.Cleanup(h.orch.Close)
	return h
}

// monitored builds a second orchestrator over the harness store whose runs go
// through a real health.Monitor guarded by locker.
func (h *harness) monitored(t *testing.T, provider telephony.Provider, locker *lock.Local, cfg failover.Config) *failover.Orchestrator {
	t.Helper()
	monitor := health.NewMonitor(health.MonitorDeps{
		Store:    h.store,
		Locker:   locker,
		Probe:    health.NewProbe(provider, time.Second, nil),
		Platform: h.platform,
	}, health.MonitorConfig{})
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://failover.example.com/"
	}
	orch := failover.New(failover.Deps{
		Store:    h.store,
		Monitor:  monitor,
		Platform: h.platform,
		Provider: provider,
		Notifier: h.notifier,
	}, cfg)
	t.Cleanup(orch.Close)
	return orch
}

func (h *harness) addAgents(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		h.store.PutAgent(fleet.VoiceAgent{
			ID: id, Name: "Agent " + id, Status: fleet.AgentStatusActive,
			PlatformAgentID: "pa-" + id, PhoneNumber: "+1555000" + id,
			TelephonyAccountID: "primary", CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
		ids = append(ids, id)
	}
	return ids
}

func (h *harness) addBackups(accountID string, n int) {
	for i := 0; i < n; i++ {
		h.store.PutBackupNumber(fleet.BackupPhoneNumber{
			ID: accountID + "-bk-" + string(rune('0'+i)), PhoneNumber: "+1666" + accountID + string(rune('0'+i)),
			TelephonyAccountID: accountID, CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (h *harness) waitStatus(t *testing.T, eventID string, want failover.Status) failover.Event {
	t.Helper()
	var ev failover.Event
	require.Eventually(t, func() bool {
		var err error
		ev, err = h.store.GetEvent(context.Background(), eventID)
		return err == nil && ev.Status == want
	}, 2*time.Second, 5*time.Millisecond, "event %s never reached %s", eventID, want)
	return ev
}
