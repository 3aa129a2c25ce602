package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter whose counters live in Redis so that several gateway
// instances share one failure budget per client.
//
// Keys:
//   - <prefix>fail:<scope>:<ip>  failure counter, expires after Window
//   - <prefix>lock:<scope>:<ip>  lockout marker, expires after Lockout
//
// When Redis is unreachable every call is served by a local Memory limiter
// so a Redis outage neither blocks logins nor disables throttling.
type Redis struct {
	client   redis.UniversalClient
	cfg      Config
	prefix   string
	fallback *Memory
	logger   *slog.Logger
}

// NewRedis creates a Redis-backed limiter. logger may be nil.
func NewRedis(client redis.UniversalClient, cfg Config, prefix string, logger *slog.Logger) *Redis {
	return &Redis{
		client:   client,
		cfg:      cfg,
		prefix:   prefix,
		fallback: NewMemory(cfg),
		logger:   logger,
	}
}

// Fallback exposes the local limiter used during Redis outages so its prune
// loop can be run.
func (r *Redis) Fallback() *Memory { return r.fallback }

func (r *Redis) failKey(ip, scope string) string { return r.prefix + "fail:" + key(ip, scope) }
func (r *Redis) lockKey(ip, scope string) string { return r.prefix + "lock:" + key(ip, scope) }

func (r *Redis) degraded(op string, err error) {
	if r.logger != nil {
		r.logger.Warn("redis rate limiter unavailable, using local fallback", "op", op, "error", err)
	}
}

// Check implements Limiter.
func (r *Redis) Check(ctx context.Context, ip, scope string) Decision {
	if r.cfg.exempt(ip) {
		return Decision{Allowed: true}
	}

	ttl, err := r.client.PTTL(ctx, r.lockKey(ip, scope)).Result()
	if err != nil {
		r.degraded("check", err)
		return r.fallback.Check(ctx, ip, scope)
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if ttl > 0 {
		return Decision{RetryAfter: ttl}
	}
	return r.fallback.Check(ctx, ip, scope)
}

// RecordFailure implements Limiter.
func (r *Redis) RecordFailure(ctx context.Context, ip, scope string) {
	if r.cfg.exempt(ip) {
		return
	}

	if err := r.recordFailure(ctx, ip, scope); err != nil {
		r.degraded("record_failure", err)
		r.fallback.RecordFailure(ctx, ip, scope)
	}
}

func (r *Redis) recordFailure(ctx context.Context, ip, scope string) error {
	failKey := r.failKey(ip, scope)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, failKey)
	pttl := pipe.PTTL(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// The window starts at the first failure.
	if pttl.Val() < 0 {
		if err := r.client.PExpire(ctx, failKey, r.cfg.Window).Err(); err != nil {
			return err
		}
	}

	if incr.Val() < int64(r.cfg.MaxAttempts) {
		return nil
	}

	pipe = r.client.TxPipeline()
	pipe.Set(ctx, r.lockKey(ip, scope), time.Now().UTC().Format(time.RFC3339), r.cfg.Lockout)
	pipe.Del(ctx, failKey)
	_, err := pipe.Exec(ctx)
	return err
}

// Reset implements Limiter.
func (r *Redis) Reset(ctx context.Context, ip, scope string) {
	r.fallback.Reset(ctx, ip, scope)
	if err := r.client.Del(ctx, r.failKey(ip, scope), r.lockKey(ip, scope)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.degraded("reset", err)
	}
}
