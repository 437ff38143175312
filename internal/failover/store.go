package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telephony-failover/internal/fleet"
)

var (
	ErrEventNotFound = errors.New("failover: event not found")

	// ErrActiveEventExists means the source account already has a pending,
	// approved or executing event.
	ErrActiveEventExists = errors.New("failover: source account already has an active failover event")

	// ErrStatusConflict means the event was not in the expected status when a
	// transition was attempted; another actor moved it first.
	ErrStatusConflict = errors.New("failover: event status changed concurrently")

	ErrNoBackupAccount           = errors.New("failover: no backup telephony account available")
	ErrInvalidTransition         = errors.New("failover: transition not allowed from current status")
	ErrAlreadyRolledBack         = errors.New("failover: event already rolled back")
	ErrNoFailover                = errors.New("failover: fleet health does not warrant failover")
	ErrInsufficientBackupNumbers = errors.New("failover: not enough backup phone numbers")
)

// InsufficientBackupNumbersError is returned when the backup pool cannot cover
// every agent to be moved. Its message is recorded on the event verbatim.
type InsufficientBackupNumbersError struct {
	Need int
	Have int
}

func (e *InsufficientBackupNumbersError) Error() string {
	return fmt.Sprintf("Not enough backup phone numbers. Need %d, have %d.", e.Need, e.Have)
}

func (e *InsufficientBackupNumbersError) Is(target error) bool {
	return target == ErrInsufficientBackupNumbers
}

// Store is the persistence the orchestrator needs. Implementations must make
// each method atomic on its own.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (fleet.TelephonyAccount, error)
	// ListActiveAccounts returns active accounts oldest first, ties broken by id.
	ListActiveAccounts(ctx context.Context) ([]fleet.TelephonyAccount, error)

	// CreateEvent fails with ErrActiveEventExists if the source account already
	// has an event in one of ActiveStatuses.
	CreateEvent(ctx context.Context, ev Event) error
	GetEvent(ctx context.Context, eventID string) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// TransitionEvent applies mutate to the stored event only if its status is
	// still from, returning ErrStatusConflict otherwise. An error from mutate
	// aborts the update and is returned as is.
	TransitionEvent(ctx context.Context, eventID string, from Status, mutate func(*Event) error) (Event, error)
	AppendTestResult(ctx context.Context, eventID string, result TestResult) error

	// ListMovableAgents returns ACTIVE agents on the account that have both a
	// platform id and a phone number, ordered by creation time then id.
	ListMovableAgents(ctx context.Context, accountID string) ([]fleet.VoiceAgent, error)
	CountUnassignedBackupNumbers(ctx context.Context, accountID string) (int, error)

	// ClaimBackupNumber atomically takes one unassigned backup number owned by
	// targetAccountID, assigns it to the agent and rebinds the agent to it,
	// recording the agent's previous number and account as originals.
	// Returns fleet.ErrNoBackupNumber when the pool is empty.
	ClaimBackupNumber(ctx context.Context, agentID, targetAccountID string, at time.Time) (fleet.Move, error)

	// ListFailedOverAgents returns agents bound to accountID whose original
	// account is originalAccountID.
	ListFailedOverAgents(ctx context.Context, accountID, originalAccountID string) ([]fleet.VoiceAgent, error)

	// RestoreAgent atomically returns the agent to its original account and
	// number, clears the originals and releases the backup number it held.
	RestoreAgent(ctx context.Context, agentID string) (fleet.VoiceAgent, error)
}
