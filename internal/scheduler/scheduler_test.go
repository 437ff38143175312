package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAccounts struct {
	accounts []fleet.TelephonyAccount
	err      error
}

func (a staticAccounts) ListActiveAccounts(context.Context) ([]fleet.TelephonyAccount, error) {
	return a.accounts, a.err
}

type fakeEvaluator struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	results  map[string]error
	opens    map[string]bool
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, accountID string) (failover.Evaluation, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.calls = append(e.calls, accountID)
	e.mu.Unlock()

	if err := e.results[accountID]; err != nil {
		return failover.Evaluation{Decision: failover.DecisionDegraded}, err
	}
	if e.opens[accountID] {
		return failover.Evaluation{
			Decision: failover.DecisionCritical,
			Event:    &failover.Event{ID: "ev-" + accountID, Status: failover.StatusApproved},
		}, nil
	}
	return failover.Evaluation{Decision: failover.DecisionNone}, nil
}

func accounts(ids ...string) []fleet.TelephonyAccount {
	out := make([]fleet.TelephonyAccount, 0, len(ids))
	for _, id := range ids {
		out = append(out, fleet.TelephonyAccount{ID: id, Active: true})
	}
	return out
}

func TestTick_CountsOutcomes(t *testing.T) {
	ev := &fakeEvaluator{
		results: map[string]error{
			"busy":   health.ErrRunInProgress,
			"active": failover.ErrActiveEventExists,
			"broken": errors.New("boom"),
		},
		opens: map[string]bool{"down": true},
	}
	s := New(staticAccounts{accounts: accounts("ok", "busy", "active", "broken", "down")}, ev, nil, Config{})

	res := s.Tick(context.Background())
	assert.Equal(t, TickResult{Accounts: 5, Opened: 1, Skipped: 2, Failed: 1}, res)
	assert.ElementsMatch(t, []string{"ok", "busy", "active", "broken", "down"}, ev.calls)
}

func TestTick_ListFailure(t *testing.T) {
	ev := &fakeEvaluator{}
	s := New(staticAccounts{err: errors.New("db down")}, ev, nil, Config{})

	assert.Equal(t, TickResult{}, s.Tick(context.Background()))
	assert.Empty(t, ev.calls)
}

func TestTick_BoundsConcurrency(t *testing.T) {
	ev := &fakeEvaluator{delay: 20 * time.Millisecond}
	s := New(staticAccounts{accounts: accounts("a", "b", "c", "d", "e", "f")}, ev, nil, Config{Concurrency: 2})

	res := s.Tick(context.Background())
	assert.Equal(t, 6, res.Accounts)
	assert.LessOrEqual(t, ev.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, ev.peak.Load(), int32(1))
}

func TestStart_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ev := &fakeEvaluator{}
	s := New(staticAccounts{accounts: accounts("a")}, ev, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.calls) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type adoptingEvaluator struct {
	fakeEvaluator
	adopted atomic.Int32
}

func (e *adoptingEvaluator) AdoptWindows(context.Context) (int, error) {
	e.adopted.Add(1)
	return 1, nil
}

func TestTick_AdoptsWindowsFirst(t *testing.T) {
	ev := &adoptingEvaluator{}
	s := New(staticAccounts{accounts: accounts("a")}, ev, nil, Config{})

	s.Tick(context.Background())
	s.Tick(context.Background())
	assert.Equal(t, int32(2), ev.adopted.Load())
	assert.Len(t, ev.calls, 2)
}
