package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_AppendRequiresActorAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeApprove}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{ActorID: "ops-1"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("x", 3600)) }

	actor := Actor{ID: "ops-1", Role: "operator", IP: "1.2.3.4"}
	if err := svc.LogEventAction(context.Background(), EventTypeApprove, actor, "ev-1", "acc-1", "approved"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	e := evs[0]
	if e.IPAddress != "1.2.3.4" || e.ActorRole != "operator" {
		t.Fatalf("expected actor captured, got %+v", e)
	}
	if e.Type != EventTypeApprove || e.FailoverEventID != "ev-1" || e.AccountID != "acc-1" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.ID == "" {
		t.Fatalf("expected generated id")
	}
	if e.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp")
	}
}

func TestService_RecentNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	actor := Actor{ID: "ops-1"}

	for _, typ := range []EventType{EventTypeEvaluation, EventTypeManualTrigger, EventTypeCancel} {
		if err := svc.LogAccountAction(context.Background(), typ, actor, "acc-1", "", "", ""); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}

	got, err := svc.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventTypeCancel || got[1].Type != EventTypeManualTrigger {
		t.Fatalf("expected newest first, got %s, %s", got[0].Type, got[1].Type)
	}
}
