// Package lock provides expiring, exclusive named locks used to serialize
// per-account health runs.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"telephony-failover/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release gives a held lock back. Releasing after expiry is a no-op.
type Release func(ctx context.Context) error

// Redis holds locks as Redis keys so runs are serialized across processes.
type Redis struct {
	rdb    redis.Scripter
	prefix string
}

func NewRedis(rdb redis.Scripter, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (l *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if l == nil || l.rdb == nil {
		return nil, false, errors.New("lock: redis client is nil")
	}
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := utils.AcquireLease(ctx, l.rdb, full, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) error {
		_, err := utils.ReleaseLease(ctx, l.rdb, full, token)
		return err
	}, true, nil
}

// Local holds locks in process memory, for single-binary runs and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]localLease{}, now: time.Now}
}

func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("lock: ttl must be > 0")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, true, nil
}
