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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestEvaluate_CriticalExecutesImmediately(t *testing.T) {
	h := newHarness(t, failover.Config{})
	ids := h.addAgents(3)
	h.addBackups("backup", 3)
	h.runner.set(always(summary("primary", false, true, 3, 0, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, failover.DecisionCritical, out.Decision)
	require.NotNil(t, out.Event)
	assert.Equal(t, failover.TriggerCritical, out.Event.TriggerType)
	assert.Equal(t, failover.StatusApproved, out.Event.Status)
	assert.Equal(t, failover.AutoApprover, out.Event.ApprovedBy)
	assert.Equal(t, "backup", out.Event.TargetAccountID)
	assert.Nil(t, out.Event.WindowEndsAt, "critical events skip the approval window")

	ev := h.waitStatus(t, out.Event.ID, failover.StatusCompleted)
	h.orch.Wait()
	require.NotNil(t, ev.ExecutedAt)
	assert.Equal(t, "Moved 3 agents; all reconfigured.", ev.Notes)

	for _, id := range ids {
		a, err := h.store.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "backup", a.TelephonyAccountID)
		assert.Equal(t, "primary", a.OriginalTelephonyAccountID)
		assert.Equal(t, "+1555000"+id, a.OriginalPhoneNumber)
		assert.Contains(t, a.PhoneNumber, "+1666backup")
	}
	for _, b := range h.store.BackupNumbers("backup") {
		assert.True(t, b.Assigned)
	}

	assert.Len(t, h.platform.Assigns(), 3)
	hooks := h.provider.Webhooks()
	require.Len(t, hooks, 3)
	assert.Equal(t, "AC-backup", hooks[0].AccountSID)
	assert.Equal(t, "https://failover.example.com/webhooks/telephony/voice", hooks[0].Hook.VoiceURL)
	assert.Equal(t, "https://failover.example.com/webhooks/telephony/status", hooks[0].Hook.StatusCallback)

	assert.Equal(t, []string{"APPROVED", "COMPLETED"}, h.notifier.Statuses())
	assert.Equal(t, 1, h.notifier.Completed())
}

func TestEvaluate_DegradedOpensPendingEvent(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 1, 0, 3)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, failover.DecisionDegraded, out.Decision)
	require.NotNil(t, out.Event)

	ev := *out.Event
	assert.Equal(t, failover.StatusPendingApproval, ev.Status)
	assert.Equal(t, failover.TriggerDegraded, ev.TriggerType)
	assert.Equal(t, "primary", ev.SourceAccountID)
	assert.Equal(t, "backup", ev.TargetAccountID, "oldest other active account")
	assert.Equal(t, 3, ev.AffectedAgents)
	assert.Equal(t, 4, ev.TotalAgents)
	require.NotNil(t, ev.WindowStartedAt)
	require.NotNil(t, ev.WindowEndsAt)
	assert.Equal(t, 10*time.Minute, ev.WindowEndsAt.Sub(*ev.WindowStartedAt))
	assert.Empty(t, ev.ApprovedBy)

	_, running := h.orch.Window(ev.ID)
	assert.True(t, running)
	assert.Equal(t, []string{"PENDING_APPROVAL"}, h.notifier.Statuses())
}

func TestEvaluate_SkipsFailedBackupAccount(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.store.PutAccount(fleet.TelephonyAccount{ID: "backup", Name: "Backup", Active: true, HealthStatus: fleet.HealthFailed, CreatedAt: epoch.Add(time.Hour)})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	assert.Equal(t, "spare", out.Event.TargetAccountID)
}

func TestEvaluate_NoFailover(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.runner.set(always(summary("primary", true, false, 9, 0, 1)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, failover.DecisionNone, out.Decision)
	assert.Nil(t, out.Event)

	events, err := h.store.ListEvents(ctx, failover.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, h.notifier.Statuses())
}

func TestEvaluate_NoBackupAccount(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.store.PutAccount(fleet.TelephonyAccount{ID: "backup", Active: false, CreatedAt: epoch})
	h.store.PutAccount(fleet.TelephonyAccount{ID: "spare", Active: false, CreatedAt: epoch})
	h.runner.set(always(summary("primary", false, true, 0, 0, 0)))

	_, err := h.orch.Evaluate(ctx, "primary")
	assert.ErrorIs(t, err, failover.ErrNoBackupAccount)

	events, _ := h.store.ListEvents(ctx, failover.EventFilter{})
	assert.Empty(t, events)
}

func TestEvaluate_OneActiveEventPerSource(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 3, 0)))

	_, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	_, err = h.orch.Evaluate(ctx, "primary")
	assert.ErrorIs(t, err, failover.ErrActiveEventExists)

	_, err = h.orch.TriggerManual(ctx, "primary", "alice", "")
	assert.ErrorIs(t, err, failover.ErrActiveEventExists)
}

func TestOpen_RejectsNone(t *testing.T) {
	h := newHarness(t, failover.Config{})
	_, err := h.orch.Open(ctx, summary("primary", true, false, 3, 0, 0), failover.DecisionNone)
	assert.ErrorIs(t, err, failover.ErrNoFailover)
}

func TestWindow_RecoveryCancelsEvent(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: 5 * time.Millisecond, WindowDuration: time.Hour})
	h.runner.set(func(n int, accountID string) (health.Summary, error) {
		if n <= 1 {
			return summary(accountID, true, false, 1, 0, 3), nil
		}
		return summary(accountID, true, false, 4, 0, 0), nil
	})

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	require.NotNil(t, out.Event)

	ev := h.waitStatus(t, out.Event.ID, failover.StatusCancelled)
	assert.Equal(t, "Issue resolved during approval window", ev.Notes)
	require.Len(t, ev.TestResults, 2)
	assert.False(t, ev.TestResults[0].Recovered)
	assert.True(t, ev.TestResults[1].Recovered)
	assert.Empty(t, ev.ApprovedBy)

	h.orch.Wait()
	calls := h.runner.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, h.runner.Calls(), "no re-tests after the window closes")
	assert.Equal(t, []string{"PENDING_APPROVAL", "CANCELLED"}, h.notifier.Statuses())
}

func TestWindow_AutoApprovesAtDeadline(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: 5 * time.Millisecond, WindowDuration: 25 * time.Millisecond})
	h.addAgents(4)
	h.addBackups("backup", 4)
	h.runner.set(always(summary("primary", true, false, 1, 0, 3)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	ev := h.waitStatus(t, out.Event.ID, failover.StatusCompleted)
	h.orch.Wait()
	assert.Equal(t, failover.AutoApprover, ev.ApprovedBy)
	require.NotNil(t, ev.ApprovedAt)
	assert.False(t, ev.ApprovedAt.Before(*ev.WindowEndsAt))
	for _, tr := range ev.TestResults {
		assert.False(t, tr.Recovered)
	}
	assert.Equal(t, 1, h.notifier.Completed())
}

func TestWindow_ManualEventIgnoresRecovery(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: 5 * time.Millisecond, WindowDuration: time.Hour})
	h.addAgents(2)
	h.addBackups("backup", 2)
	h.runner.set(always(summary("primary", true, false, 2, 0, 0)))

	ev, err := h.orch.TriggerManual(ctx, "primary", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, failover.TriggerManual, ev.TriggerType)
	assert.Equal(t, failover.StatusPendingApproval, ev.Status)
	assert.Equal(t, "alice", ev.CreatedBy)
	assert.Equal(t, "Manual failover requested by alice", ev.Reason)

	require.Eventually(t, func() bool {
		cur, _ := h.store.GetEvent(ctx, ev.ID)
		return len(cur.TestResults) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cur, err := h.store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, failover.StatusPendingApproval, cur.Status)
	assert.True(t, cur.TestResults[0].Recovered)

	approved, err := h.orch.Approve(ctx, ev.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, failover.StatusApproved, approved.Status)
	assert.Equal(t, "alice", approved.ApprovedBy)

	h.waitStatus(t, ev.ID, failover.StatusCompleted)
}

func TestApprove_ReverifiesAndCancelsWhenResolved(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(func(n int, accountID string) (health.Summary, error) {
		if n == 0 {
			return summary(accountID, true, false, 1, 0, 3), nil
		}
		return summary(accountID, true, false, 4, 0, 0), nil
	})

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	w, ok := h.orch.Window(out.Event.ID)
	require.True(t, ok)

	ev, err := h.orch.Approve(ctx, out.Event.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, failover.StatusCancelled, ev.Status)
	assert.Equal(t, "Issue resolved - no longer needs failover", ev.Notes)
	assert.Empty(t, ev.ApprovedBy)

	<-w.Done()
	assert.Equal(t, failover.WindowStopped, w.Outcome())
}

func TestApprove_StillFailingExecutes(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.addAgents(4)
	h.addBackups("backup", 4)
	h.runner.set(always(summary("primary", true, false, 1, 0, 3)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	w, ok := h.orch.Window(out.Event.ID)
	require.True(t, ok)

	ev, err := h.orch.Approve(ctx, out.Event.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, failover.StatusApproved, ev.Status)
	assert.Equal(t, "bob", ev.ApprovedBy)

	<-w.Done()
	assert.Equal(t, failover.WindowStopped, w.Outcome())
	h.waitStatus(t, ev.ID, failover.StatusCompleted)

	_, err = h.orch.Approve(ctx, ev.ID, "bob")
	assert.ErrorIs(t, err, failover.ErrInvalidTransition)
}

func TestCancel_OnlyFromPending(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	w, ok := h.orch.Window(out.Event.ID)
	require.True(t, ok)

	ev, err := h.orch.Cancel(ctx, out.Event.ID, "carol", "false alarm")
	require.NoError(t, err)
	assert.Equal(t, failover.StatusCancelled, ev.Status)
	assert.Equal(t, "false alarm", ev.Notes)

	<-w.Done()
	assert.Equal(t, failover.WindowStopped, w.Outcome())

	_, err = h.orch.Cancel(ctx, out.Event.ID, "carol", "")
	assert.ErrorIs(t, err, failover.ErrInvalidTransition)

	_, err = h.orch.Cancel(ctx, "missing", "carol", "")
	assert.ErrorIs(t, err, failover.ErrEventNotFound)
}

func TestApproveAndCancelRace(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.addAgents(2)
	h.addBackups("backup", 2)
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var approveErr, cancelErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, approveErr = h.orch.Approve(ctx, out.Event.ID, "bob") }()
	go func() { defer wg.Done(); _, cancelErr = h.orch.Cancel(ctx, out.Event.ID, "carol", "") }()
	wg.Wait()
	h.orch.Wait()

	assert.True(t, (approveErr == nil) != (cancelErr == nil), "exactly one of approve and cancel wins: approve=%v cancel=%v", approveErr, cancelErr)
	ev, err := h.store.GetEvent(ctx, out.Event.ID)
	require.NoError(t, err)
	assert.True(t, ev.Status.Terminal())
}

func TestExecute_InsufficientBackupNumbers(t *testing.T) {
	h := newHarness(t, failover.Config{})
	ids := h.addAgents(5)
	h.addBackups("backup", 3)
	h.runner.set(always(summary("primary", false, true, 5, 0, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	ev := h.waitStatus(t, out.Event.ID, failover.StatusCancelled)
	h.orch.Wait()
	assert.Equal(t, "Not enough backup phone numbers. Need 5, have 3.", ev.Error)
	assert.Nil(t, ev.ExecutedAt)

	for _, id := range ids {
		a, _ := h.store.GetAgent(ctx, id)
		assert.Equal(t, "primary", a.TelephonyAccountID)
		assert.Equal(t, "+1555000"+id, a.PhoneNumber)
		assert.False(t, a.FailedOver())
	}
	for _, b := range h.store.BackupNumbers("backup") {
		assert.False(t, b.Assigned)
	}
	assert.Empty(t, h.platform.Assigns())
	assert.Empty(t, h.provider.Webhooks())
	assert.Equal(t, []string{"APPROVED", "CANCELLED"}, h.notifier.Statuses())
	assert.Zero(t, h.notifier.Completed())
}

func seedApproved(t *testing.T, h *harness, id, source, target string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, h.store.CreateEvent(ctx, failover.Event{
		ID: id, TriggerType: failover.TriggerCritical, Status: failover.StatusApproved,
		SourceAccountID: source, TargetAccountID: target,
		ApprovedBy: failover.AutoApprover, ApprovedAt: &now, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestExecute_PartialReconfiguration(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.addAgents(2)
	h.addBackups("backup", 2)
	h.platform.importErr["+1666backup0"] = errors.New("platform down")
	seedApproved(t, h, "ev-1", "primary", "backup")

	report, err := h.orch.Execute(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Moved())

	partial := report.Partial()
	require.Len(t, partial, 1)
	assert.Equal(t, "a", partial[0].AgentID)
	assert.Equal(t, "+1555000a", partial[0].OldNumber)
	assert.Equal(t, "+1666backup0", partial[0].NewNumber)
	assert.Contains(t, partial[0].Error, "voice platform: platform down")
	assert.Equal(t, failover.OutcomeReconfigured, report.Outcomes[1].Outcome)

	// The webhook is still attempted for the agent the platform rejected.
	assert.Len(t, h.provider.Webhooks(), 2)

	ev, _ := h.store.GetEvent(ctx, "ev-1")
	assert.Equal(t, failover.StatusCompleted, ev.Status)
	assert.Equal(t, "Moved 2 agents; 1 need reconfiguration: a.", ev.Notes)

	a, _ := h.store.GetAgent(ctx, "a")
	assert.Equal(t, "backup", a.TelephonyAccountID, "partial agents are still moved")
}

func TestExecute_RequiresApproved(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))
	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	_, err = h.orch.Execute(ctx, out.Event.ID)
	assert.ErrorIs(t, err, failover.ErrStatusConflict)
}

func TestExecute_ConcurrentCallsMoveOnce(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.addAgents(3)
	h.addBackups("backup", 5)
	seedApproved(t, h, "ev-1", "primary", "backup")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.orch.Execute(ctx, "ev-1")
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, failover.ErrStatusConflict)
		}
	}
	assert.Equal(t, 1, won)

	assigned := map[string]string{}
	for _, b := range h.store.BackupNumbers("backup") {
		if b.Assigned {
			_, dup := assigned[b.AssignedAgentID]
			assert.False(t, dup, "agent %s holds two backup numbers", b.AssignedAgentID)
			assigned[b.AssignedAgentID] = b.PhoneNumber
		}
	}
	assert.Len(t, assigned, 3)
}

func TestRollback_RestoresAgentsAndReleasesNumbers(t *testing.T) {
	h := newHarness(t, failover.Config{})
	ids := h.addAgents(3)
	h.addBackups("backup", 4)
	// Moved to backup by an earlier, unrelated failover of another account.
	h.store.PutAgent(fleet.VoiceAgent{
		ID: "z", Status: fleet.AgentStatusActive, PlatformAgentID: "pa-z",
		PhoneNumber: "+1777", TelephonyAccountID: "backup",
		OriginalPhoneNumber: "+1999", OriginalTelephonyAccountID: "spare",
	})
	h.runner.set(always(summary("primary", false, true, 3, 0, 0)))

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	h.waitStatus(t, out.Event.ID, failover.StatusCompleted)
	h.orch.Wait()

	report, err := h.orch.Rollback(ctx, out.Event.ID, "dave")
	require.NoError(t, err)
	assert.Len(t, report.Restored, 3)
	assert.Equal(t, "dave", report.Event.RolledBackBy)
	require.NotNil(t, report.Event.RolledBackAt)
	assert.Equal(t, failover.StatusCompleted, report.Event.Status)
	assert.Contains(t, report.Event.Notes, "Rolled back by dave; 3 agents restored.")

	for _, id := range ids {
		a, _ := h.store.GetAgent(ctx, id)
		assert.Equal(t, "primary", a.TelephonyAccountID)
		assert.Equal(t, "+1555000"+id, a.PhoneNumber)
		assert.False(t, a.FailedOver())
	}
	for _, b := range h.store.BackupNumbers("backup") {
		assert.False(t, b.Assigned)
		assert.Empty(t, b.AssignedAgentID)
	}
	z, _ := h.store.GetAgent(ctx, "z")
	assert.Equal(t, "backup", z.TelephonyAccountID, "agents from other failovers are untouched")

	assert.Contains(t, h.notifier.Statuses(), failover.StatusRolledBack)

	_, err = h.orch.Rollback(ctx, out.Event.ID, "dave")
	assert.ErrorIs(t, err, failover.ErrAlreadyRolledBack)
}

func TestRollback_OnlyCompleted(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))
	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	_, err = h.orch.Rollback(ctx, out.Event.ID, "dave")
	assert.ErrorIs(t, err, failover.ErrInvalidTransition)

	_, err = h.orch.Rollback(ctx, "missing", "dave")
	assert.ErrorIs(t, err, failover.ErrEventNotFound)
}

func TestResumePending(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: 5 * time.Millisecond})
	h.addAgents(2)
	h.addBackups("backup", 2)
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))

	started := time.Now().Add(-11 * time.Minute)
	ends := started.Add(10 * time.Minute)
	require.NoError(t, h.store.CreateEvent(ctx, failover.Event{
		ID: "pending", TriggerType: failover.TriggerDegraded, Status: failover.StatusPendingApproval,
		SourceAccountID: "primary", TargetAccountID: "backup",
		WindowStartedAt: &started, WindowEndsAt: &ends, CreatedAt: started, UpdatedAt: started,
	}))
	seedApproved(t, h, "approved", "spare", "backup")
	require.NoError(t, h.store.CreateEvent(ctx, failover.Event{
		ID: "stuck", TriggerType: failover.TriggerCritical, Status: failover.StatusExecuting,
		SourceAccountID: "backup", TargetAccountID: "spare", CreatedAt: started,
	}))

	n, err := h.orch.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ev := h.waitStatus(t, "pending", failover.StatusCompleted)
	assert.Equal(t, failover.AutoApprover, ev.ApprovedBy)
	h.waitStatus(t, "approved", failover.StatusCompleted)
	h.orch.Wait()

	stuck, _ := h.store.GetEvent(ctx, "stuck")
	assert.Equal(t, failover.StatusExecuting, stuck.Status)
}

func TestClose_StopsWindows(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))
	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	w, ok := h.orch.Window(out.Event.ID)
	require.True(t, ok)

	h.orch.Close()
	<-w.Done()
	assert.Equal(t, failover.WindowStopped, w.Outcome())

	ev, _ := h.store.GetEvent(ctx, out.Event.ID)
	assert.Equal(t, failover.StatusPendingApproval, ev.Status, "closing leaves the event for the next process to resume")
}

func TestAdoptWindows_SkipsEventsWithLocalWindow(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: time.Hour})
	h.runner.set(always(summary("primary", true, false, 0, 2, 0)))
	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)

	started := time.Now()
	ends := started.Add(10 * time.Minute)
	require.NoError(t, h.store.CreateEvent(ctx, failover.Event{
		ID: "orphan", TriggerType: failover.TriggerManual, Status: failover.StatusPendingApproval,
		SourceAccountID: "spare", TargetAccountID: "backup",
		WindowStartedAt: &started, WindowEndsAt: &ends, CreatedAt: started, UpdatedAt: started,
	}))

	n, err := h.orch.AdoptWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the event without a local window is adopted")

	_, ok := h.orch.Window("orphan")
	assert.True(t, ok)
	_, ok = h.orch.Window(out.Event.ID)
	assert.True(t, ok)

	n, err = h.orch.AdoptWindows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWindow_CriticalRetestApprovesImmediately(t *testing.T) {
	h := newHarness(t, failover.Config{PollInterval: 5 * time.Millisecond, WindowDuration: time.Hour})
	h.addAgents(4)
	h.addBackups("backup", 4)
	h.runner.set(func(n int, accountID string) (health.Summary, error) {
		if n == 0 {
			return summary(accountID, true, false, 1, 0, 3), nil
		}
		return summary(accountID, false, true, 1, 0, 3), nil
	})

	out, err := h.orch.Evaluate(ctx, "primary")
	require.NoError(t, err)
	require.NotNil(t, out.Event)
	assert.Equal(t, failover.TriggerDegraded, out.Event.TriggerType)

	ev := h.waitStatus(t, out.Event.ID, failover.StatusCompleted)
	h.orch.Wait()
	assert.Equal(t, failover.AutoApprover, ev.ApprovedBy)
	require.NotNil(t, ev.ApprovedAt)
	assert.True(t, ev.ApprovedAt.Before(*ev.WindowEndsAt), "approved long before the deadline")
	require.NotEmpty(t, ev.TestResults)
	assert.True(t, ev.TestResults[len(ev.TestResults)-1].Critical)
	assert.Equal(t, []string{"PENDING_APPROVAL", "APPROVED", "COMPLETED"}, h.notifier.Statuses())
}

func TestApprove_WaitsForRunInProgress(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.addAgents(3)
	h.addBackups("backup", 3)

	provider := newGatedProvider(h.provider)
	orch := h.monitored(t, provider, lock.NewLocal(), failover.Config{PollInterval: 10 * time.Millisecond, WindowDuration: time.Hour})
	t.Cleanup(provider.release)

	opened, err := orch.Open(ctx, summary("primary", true, false, 0, 3, 0), failover.DecisionDegraded)
	require.NoError(t, err)

	select {
	case <-provider.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("window re-test never reached the provider")
	}

	type result struct {
		ev  failover.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := orch.Approve(ctx, opened.ID, "alice")
		done <- result{ev: ev, err: err}
	}()

	select {
	case r := <-done:
		t.Fatalf("approval returned while the re-test held the run lock: status=%s err=%v", r.ev.Status, r.err)
	case <-time.After(150 * time.Millisecond):
	}

	provider.release()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, failover.StatusApproved, r.ev.Status)
		assert.Equal(t, "alice", r.ev.ApprovedBy)
	case <-time.After(5 * time.Second):
		t.Fatal("approval did not finish after the run lock was released")
	}
	h.waitStatus(t, opened.ID, failover.StatusCompleted)
}

func TestApprove_GivesUpAfterVerifyWait(t *testing.T) {
	h := newHarness(t, failover.Config{})
	h.addAgents(2)

	locker := lock.NewLocal()
	orch := h.monitored(t, h.provider, locker, failover.Config{PollInterval: time.Hour, VerifyWait: 100 * time.Millisecond})

	opened, err := orch.Open(ctx, summary("primary", true, false, 0, 2, 0), failover.DecisionDegraded)
	require.NoError(t, err)

	release, ok, err := locker.TryLock(ctx, "health-run:primary", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { require.NoError(t, release(ctx)) }()

	_, err = orch.Approve(ctx, opened.ID, "alice")
	assert.ErrorIs(t, err, health.ErrRunInProgress)

	ev, err := h.store.GetEvent(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, failover.StatusPendingApproval, ev.Status)
}
