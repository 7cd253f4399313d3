package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, perIP bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Config{Prefix: "gg", MaxAttempts: 3, Window: time.Minute, PerIP: perIP}), mr
}

func TestLimiterThrottlesAfterBudget(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "alice", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.RecordFailure(ctx, "alice", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Check(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Check(ctx, "ALICE ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("username must be normalized, got %v", err)
	}
	if err := l.Check(ctx, "bob", ""); err != nil {
		t.Fatalf("other usernames must be unaffected: %v", err)
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = l.RecordFailure(ctx, "alice", "")
	}
	if ttl := mr.TTL("gg:thr:u:alice"); ttl != time.Minute {
		t.Fatalf("window TTL = %v, want 1m", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Check(ctx, "alice", ""); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}
}

func TestLimiterResetClearsUsernameOnly(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = l.RecordFailure(ctx, "alice", "10.0.0.1")
	}
	if err := l.Reset(ctx, "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := l.Attempts(ctx, "alice"); n != 0 {
		t.Fatalf("Attempts after reset = %d", n)
	}
	if err := l.Check(ctx, "mallory", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("IP budget must survive a username reset, got %v", err)
	}
	if err := l.Check(ctx, "mallory", "10.0.0.2"); err != nil {
		t.Fatalf("other IPs must be unaffected: %v", err)
	}
}

func TestLimiterRedisFailure(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	mr.SetError("boom")

	if err := l.Check(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("Check: expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.RecordFailure(context.Background(), "alice", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("RecordFailure: expected ErrRedisUnavailable, got %v", err)
	}
}
