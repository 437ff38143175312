package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLeaseAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer rdb.Close()

	ok, err := AcquireLease(ctx, rdb, "health-run:acc-1", "tok-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = AcquireLease(ctx, rdb, "health-run:acc-1", "tok-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire to be rejected, ok=%v err=%v", ok, err)
	}

	released, err := ReleaseLease(ctx, rdb, "health-run:acc-1", "tok-b")
	if err != nil || released {
		t.Fatalf("expected foreign release to be a no-op, released=%v err=%v", released, err)
	}
	released, err = ReleaseLease(ctx, rdb, "health-run:acc-1", "tok-a")
	if err != nil || !released {
		t.Fatalf("expected owner release, released=%v err=%v", released, err)
	}

	ok, err = AcquireLease(ctx, rdb, "health-run:acc-1", "tok-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestLeaseExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer rdb.Close()

	if ok, _ := AcquireLease(ctx, rdb, "k", "a", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := AcquireLease(ctx, rdb, "k", "b", time.Second); !ok {
		t.Fatalf("expected acquire after ttl")
	}
}

func TestLeaseValidatesInput(t *testing.T) {
	if _, err := AcquireLease(context.Background(), nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
