package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telephony-failover/internal/failover"

	"github.com/redis/go-redis/v9"
)

const (
	KindState     = "failover_state"
	KindCompleted = "failover_completed"
)

// Message is the envelope published for every notification.
type Message struct {
	Kind   string                `json:"kind"`
	SentAt time.Time             `json:"sent_at"`
	Body   failover.Notification `json:"body"`
}

// LogNotifier writes notifications to the structured log. It never fails.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) NotifyFailoverState(ctx context.Context, msg failover.Notification) error {
	n.emit(ctx, KindState, msg)
	return nil
}

func (n *LogNotifier) NotifyFailoverCompleted(ctx context.Context, msg failover.Notification) error {
	n.emit(ctx, KindCompleted, msg)
	return nil
}

func (n *LogNotifier) emit(ctx context.Context, kind string, msg failover.Notification) {
	level := slog.LevelInfo
	if msg.Status == string(failover.StatusCancelled) || msg.Status == failover.StatusRolledBack {
		level = slog.LevelWarn
	}
	n.log.Log(ctx, level, "failover notification",
		"kind", kind,
		"event_id", msg.EventID,
		"trigger", msg.TriggerType,
		"status", msg.Status,
		"source_account", msg.SourceAccount,
		"target_account", msg.TargetAccount,
		"affected", msg.AffectedAgents,
		"reason", msg.Reason,
	)
}

// RedisNotifier publishes notifications as JSON on a pub/sub channel for
// whatever chat or paging bridge subscribes to it.
type RedisNotifier struct {
	rdb     redis.UniversalClient
	channel string
	now     func() time.Time
}

func NewRedisNotifier(rdb redis.UniversalClient, channel string) (*RedisNotifier, error) {
	if rdb == nil {
		return nil, errors.New("notify: redis client is nil")
	}
	if channel == "" {
		return nil, errors.New("notify: channel is required")
	}
	return &RedisNotifier{rdb: rdb, channel: channel, now: time.Now}, nil
}

func (n *RedisNotifier) NotifyFailoverState(ctx context.Context, msg failover.Notification) error {
	return n.publish(ctx, KindState, msg)
}

func (n *RedisNotifier) NotifyFailoverCompleted(ctx context.Context, msg failover.Notification) error {
	return n.publish(ctx, KindCompleted, msg)
}

func (n *RedisNotifier) publish(ctx context.Context, kind string, msg failover.Notification) error {
	b, err := json.Marshal(Message{Kind: kind, SentAt: n.now().UTC(), Body: msg})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, b).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", n.channel, err)
	}
	return nil
}

// Multi sends every notification to all notifiers and joins their errors.
type Multi []failover.Notifier

func (m Multi) NotifyFailoverState(ctx context.Context, msg failover.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyFailoverState(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyFailoverCompleted(ctx context.Context, msg failover.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyFailoverCompleted(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
