package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneInterval is how often Run drops idle entries.
const pruneInterval = time.Minute

type entry struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Memory is an in-process Limiter.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Memory struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemory creates an in-memory limiter.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check reports whether ip may attempt authentication in scope.
func (m *Memory) Check(_ context.Context, ip, scope string) Decision {
	if m.cfg.exempt(ip) {
		return Decision{Allowed: true}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key(ip, scope)]
	if !ok {
		return Decision{Allowed: true}
	}
	now := m.now()
	if now.Before(e.lockedUntil) {
		return Decision{RetryAfter: e.lockedUntil.Sub(now)}
	}
	return Decision{Allowed: true}
}

// RecordFailure counts one failed attempt and locks the key out once the
// window holds MaxAttempts failures.
func (m *Memory) RecordFailure(_ context.Context, ip, scope string) {
	if m.cfg.exempt(ip) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(ip, scope)
	e, ok := m.entries[k]
	if !ok {
		e = &entry{}
		m.entries[k] = e
	}

	now := m.now()
	e.failures = append(trimBefore(e.failures, now.Add(-m.cfg.Window)), now)
	if len(e.failures) >= m.cfg.MaxAttempts {
		e.lockedUntil = now.Add(m.cfg.Lockout)
		e.failures = nil
	}
}

// Reset forgets every failure for the key.
func (m *Memory) Reset(_ context.Context, ip, scope string) {
	m.mu.Lock()
	delete(m.entries, key(ip, scope))
	m.mu.Unlock()
}

// Prune drops entries with no live failures and no active lockout.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		e.failures = trimBefore(e.failures, now.Add(-m.cfg.Window))
		if len(e.failures) == 0 && !now.Before(e.lockedUntil) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run prunes idle entries until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// trimBefore drops timestamps at or before cutoff. ts is sorted ascending.
func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
