// Package ratelimit throttles repeated authentication failures per client IP.
//
// Failures are counted per (ip, scope) inside a sliding window; reaching the
// limit locks the key out for a fixed period. A successful authentication
// resets the key. Loopback clients can be exempted.
//
// Two backends implement Limiter: Memory for a single gateway process and
// Redis for several gateways sharing one failure budget.
package ratelimit

import (
	"context"
	"net"
	"time"
)

// Scopes used by the handshake. Each scope has an independent budget.
const (
	ScopeSharedSecret = "shared-secret"
	ScopeDeviceToken  = "device-token"
	ScopePairingCode  = "pairing-code"
)

// Decision is the result of Check.
type Decision struct {
	Allowed bool
	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is the failure limiter contract the handshake depends on.
type Limiter interface {
	Check(ctx context.Context, ip, scope string) Decision
	RecordFailure(ctx context.Context, ip, scope string)
	Reset(ctx context.Context, ip, scope string)
}

// Config sets the failure budget.
type Config struct {
	MaxAttempts    int
	Window         time.Duration
	Lockout        time.Duration
	ExemptLoopback bool
}

// DefaultConfig allows 10 failures a minute, then locks out for 5 minutes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    10,
		Window:         time.Minute,
		Lockout:        5 * time.Minute,
		ExemptLoopback: true,
	}
}

func (c Config) exempt(ip string) bool {
	if !c.ExemptLoopback {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

func key(ip, scope string) string {
	if ip == "" {
		ip = "unknown"
	}
	return scope + ":" + ip
}
