// Package memory is an in-process implementation of every store contract,
// used by tests and single-binary local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"telephony-failover/internal/failover"
	"telephony-failover/internal/fleet"
	"telephony-failover/internal/health"
)

type Store struct {
	mu sync.Mutex

	accounts map[string]fleet.TelephonyAccount
	agents   map[string]fleet.VoiceAgent
	backups  map[string]fleet.BackupPhoneNumber
	events   map[string]failover.Event
	records  []health.Record
}

var (
	_ health.Store   = (*Store)(nil)
	_ failover.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{
		accounts: map[string]fleet.TelephonyAccount{},
		agents:   map[string]fleet.VoiceAgent{},
		backups:  map[string]fleet.BackupPhoneNumber{},
		events:   map[string]failover.Event{},
	}
}

func (s *Store) PutAccount(a fleet.TelephonyAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) PutAgent(a fleet.VoiceAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *Store) PutBackupNumber(b fleet.BackupPhoneNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[b.ID] = b
}

func (s *Store) GetAccount(_ context.Context, accountID string) (fleet.TelephonyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fleet.TelephonyAccount{}, fleet.ErrAccountNotFound
	}
	return a, nil
}

// AccountBySID returns the oldest account with the provider SID.
func (s *Store) AccountBySID(_ context.Context, accountSID string) (fleet.TelephonyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found fleet.TelephonyAccount
		ok    bool
	)
	for _, a := range s.accounts {
		if a.AccountSID != accountSID || accountSID == "" {
			continue
		}
		if !ok || a.CreatedAt.Before(found.CreatedAt) || (a.CreatedAt.Equal(found.CreatedAt) && a.ID < found.ID) {
			found, ok = a, true
		}
	}
	if !ok {
		return fleet.TelephonyAccount{}, fleet.ErrAccountNotFound
	}
	return found, nil
}

func (s *Store) ListActiveAccounts(_ context.Context) ([]fleet.TelephonyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.TelephonyAccount
	for _, a := range s.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, agentID string) (fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	return a, nil
}

func (s *Store) ListAgentsByAccount(_ context.Context, accountID string) ([]fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentsWhere(func(a fleet.VoiceAgent) bool { return a.TelephonyAccountID == accountID }), nil
}

func (s *Store) AgentByPhoneNumber(_ context.Context, number string) (fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.agentsWhere(func(a fleet.VoiceAgent) bool { return a.PhoneNumber == number })
	if len(found) == 0 {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	return found[0], nil
}

func (s *Store) ListMovableAgents(_ context.Context, accountID string) ([]fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentsWhere(func(a fleet.VoiceAgent) bool {
		return a.TelephonyAccountID == accountID && a.Monitorable()
	}), nil
}

func (s *Store) ListFailedOverAgents(_ context.Context, accountID, originalAccountID string) ([]fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentsWhere(func(a fleet.VoiceAgent) bool {
		return a.TelephonyAccountID == accountID && a.FailedOver() && a.OriginalTelephonyAccountID == originalAccountID
	}), nil
}

// agentsWhere returns matching agents ordered by creation time then id. Callers hold mu.
func (s *Store) agentsWhere(match func(fleet.VoiceAgent) bool) []fleet.VoiceAgent {
	var out []fleet.VoiceAgent
	for _, a := range s.agents {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) AppendHealthRecords(_ context.Context, records ...health.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// HealthRecords returns a copy of the history in append order.
func (s *Store) HealthRecords() []health.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]health.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) UpdateAccountHealth(_ context.Context, accountID string, status fleet.HealthStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return fleet.ErrAccountNotFound
	}
	a.HealthStatus = status
	a.LastHealthCheck = &checkedAt
	s.accounts[accountID] = a
	return nil
}

func (s *Store) UpdateAgentHealth(_ context.Context, agentID string, status fleet.HealthStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return fleet.ErrAgentNotFound
	}
	a.HealthStatus = status
	a.LastHealthCheck = &checkedAt
	s.agents[agentID] = a
	return nil
}

func (s *Store) CountUnassignedBackupNumbers(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unassigned(accountID)), nil
}

// BackupNumbers returns the pool of an account ordered by creation time then id.
func (s *Store) BackupNumbers(accountID string) []fleet.BackupPhoneNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.BackupPhoneNumber
	for _, b := range s.backups {
		if b.TelephonyAccountID == accountID {
			out = append(out, b)
		}
	}
	sortBackups(out)
	return out
}

func (s *Store) unassigned(accountID string) []fleet.BackupPhoneNumber {
	var out []fleet.BackupPhoneNumber
	for _, b := range s.backups {
		if b.TelephonyAccountID == accountID && !b.Assigned {
			out = append(out, b)
		}
	}
	sortBackups(out)
	return out
}

func sortBackups(b []fleet.BackupPhoneNumber) {
	sort.Slice(b, func(i, j int) bool {
		if !b[i].CreatedAt.Equal(b[j].CreatedAt) {
			return b[i].CreatedAt.Before(b[j].CreatedAt)
		}
		return b[i].ID < b[j].ID
	})
}

func (s *Store) ClaimBackupNumber(_ context.Context, agentID, targetAccountID string, at time.Time) (fleet.Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return fleet.Move{}, fleet.ErrAgentNotFound
	}
	free := s.unassigned(targetAccountID)
	if len(free) == 0 {
		return fleet.Move{}, fleet.ErrNoBackupNumber
	}
	b := free[0]
	b.Assigned = true
	b.AssignedAgentID = agentID
	b.AssignedAt = &at
	s.backups[b.ID] = b

	move := fleet.Move{Backup: b, OldNumber: agent.PhoneNumber, OldAccountID: agent.TelephonyAccountID}
	agent.OriginalPhoneNumber = agent.PhoneNumber
	agent.OriginalTelephonyAccountID = agent.TelephonyAccountID
	agent.PhoneNumber = b.PhoneNumber
	agent.TelephonyAccountID = targetAccountID
	s.agents[agentID] = agent
	move.Agent = agent
	return move, nil
}

func (s *Store) RestoreAgent(_ context.Context, agentID string) (fleet.VoiceAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[agentID]
	if !ok {
		return fleet.VoiceAgent{}, fleet.ErrAgentNotFound
	}
	if !agent.FailedOver() {
		return agent, nil
	}

	for id, b := range s.backups {
		if b.AssignedAgentID == agentID && b.PhoneNumber == agent.PhoneNumber {
			b.Assigned = false
			b.AssignedAgentID = ""
			b.AssignedAt = nil
			s.backups[id] = b
		}
	}

	agent.PhoneNumber = agent.OriginalPhoneNumber
	agent.TelephonyAccountID = agent.OriginalTelephonyAccountID
	agent.OriginalPhoneNumber = ""
	agent.OriginalTelephonyAccountID = ""
	s.agents[agentID] = agent
	return agent, nil
}

func (s *Store) CreateEvent(_ context.Context, ev failover.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.events {
		if cur.SourceAccountID == ev.SourceAccountID && !cur.Status.Terminal() {
			return failover.ErrActiveEventExists
		}
	}
	s.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (failover.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return failover.Event{}, failover.ErrEventNotFound
	}
	return cloneEvent(ev), nil
}

// ListEvents returns matching events newest first.
func (s *Store) ListEvents(_ context.Context, f failover.EventFilter) ([]failover.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []failover.Event
	for _, ev := range s.events {
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if f.SourceAccountID != "" && ev.SourceAccountID != f.SourceAccountID {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) TransitionEvent(_ context.Context, eventID string, from failover.Status, mutate func(*failover.Event) error) (failover.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[eventID]
	if !ok {
		return failover.Event{}, failover.ErrEventNotFound
	}
	if cur.Status != from {
		return failover.Event{}, failover.ErrStatusConflict
	}
	next := cloneEvent(cur)
	if err := mutate(&next); err != nil {
		return failover.Event{}, err
	}
	s.events[eventID] = cloneEvent(next)
	return next, nil
}

func (s *Store) AppendTestResult(_ context.Context, eventID string, result failover.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return failover.ErrEventNotFound
	}
	ev.TestResults = append(append([]failover.TestResult(nil), ev.TestResults...), result)
	s.events[eventID] = ev
	return nil
}

func cloneEvent(ev failover.Event) failover.Event {
	out := ev
	out.TestResults = append([]failover.TestResult{}, ev.TestResults...)
	return out
}
