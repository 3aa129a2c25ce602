package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, testConfig(), "test:", nil), mr
}

func TestRedis_LocksOutAfterMaxAttempts(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	ip := "203.0.113.9"

	for i := 0; i < 3; i++ {
		if d := r.Check(ctx, ip, ScopeSharedSecret); !d.Allowed {
			t.Fatalf("blocked before failure %d", i+1)
		}
		r.RecordFailure(ctx, ip, ScopeSharedSecret)
	}

	d := r.Check(ctx, ip, ScopeSharedSecret)
	if d.Allowed {
		t.Fatal("Check() should block after MaxAttempts failures")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 5*time.Minute {
		t.Errorf("RetryAfter = %v, want (0, 5m]", d.RetryAfter)
	}
	if !mr.Exists("test:lock:shared-secret:203.0.113.9") {
		t.Error("lock key missing")
	}
	if mr.Exists("test:fail:shared-secret:203.0.113.9") {
		t.Error("failure counter should be cleared on lockout")
	}

	mr.FastForward(5 * time.Minute)
	if d := r.Check(ctx, ip, ScopeSharedSecret); !d.Allowed {
		t.Error("lockout should expire with the key")
	}
}

func TestRedis_WindowExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	ip := "203.0.113.9"

	r.RecordFailure(ctx, ip, ScopeDeviceToken)
	r.RecordFailure(ctx, ip, ScopeDeviceToken)

	ttl := mr.TTL("test:fail:device-token:203.0.113.9")
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("failure counter TTL = %v, want (0, 1m]", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	r.RecordFailure(ctx, ip, ScopeDeviceToken)
	if d := r.Check(ctx, ip, ScopeDeviceToken); !d.Allowed {
		t.Error("failures from an expired window should not count")
	}
}

func TestRedis_Reset(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	ip := "203.0.113.9"

	for i := 0; i < 3; i++ {
		r.RecordFailure(ctx, ip, ScopePairingCode)
	}
	r.Reset(ctx, ip, ScopePairingCode)

	if d := r.Check(ctx, ip, ScopePairingCode); !d.Allowed {
		t.Error("Reset() should lift the lockout")
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("keys left after Reset(): %v", mr.Keys())
	}
}

func TestRedis_LoopbackExempt(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.RecordFailure(ctx, "127.0.0.1", ScopeSharedSecret)
	}
	if d := r.Check(ctx, "127.0.0.1", ScopeSharedSecret); !d.Allowed {
		t.Error("loopback should be exempt")
	}
	if len(mr.Keys()) != 0 {
		t.Error("exempt failures should not touch Redis")
	}
}

func TestRedis_FallsBackWhenUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	ip := "203.0.113.9"

	mr.Close()

	for i := 0; i < 3; i++ {
		r.RecordFailure(ctx, ip, ScopeSharedSecret)
	}
	if d := r.Check(ctx, ip, ScopeSharedSecret); d.Allowed {
		t.Error("local fallback should enforce the lockout while Redis is down")
	}
	if r.Fallback().Len() != 1 {
		t.Errorf("fallback tracked %d keys, want 1", r.Fallback().Len())
	}

	r.Reset(ctx, ip, ScopeSharedSecret)
	if d := r.Check(ctx, ip, ScopeSharedSecret); !d.Allowed {
		t.Error("Reset() should clear the fallback too")
	}
}
