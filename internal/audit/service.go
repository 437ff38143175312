package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List returns the newest events first, at most limit of them.
	List(ctx context.Context, limit int) ([]Event, error)
}

// Service records operator actions on the failover system.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorID == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAccountAction records an action taken against a telephony account
// (health check, evaluation, manual trigger).
func (s *Service) LogAccountAction(ctx context.Context, typ EventType, actor Actor, accountID, failoverEventID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:            typ,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		IPAddress:       actor.IP,
		AccountID:       accountID,
		FailoverEventID: failoverEventID,
		Message:         message,
		Metadata:        metadata,
	})
}

// LogEventAction records an action taken on an existing failover event
// (approve, cancel, rollback).
func (s *Service) LogEventAction(ctx context.Context, typ EventType, actor Actor, failoverEventID, accountID, message string) error {
	return s.Append(ctx, Event{
		Type:            typ,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		IPAddress:       actor.IP,
		AccountID:       accountID,
		FailoverEventID: failoverEventID,
		Message:         message,
	})
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}
