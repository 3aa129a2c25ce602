package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttlePruneInterval = time.Minute
	throttleIdleTTL       = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// upgradeThrottle is a token bucket per client IP. A nil throttle allows
// everything.
type upgradeThrottle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	now      func() time.Time
}

// newUpgradeThrottle returns nil when perSecond is not positive.
func newUpgradeThrottle(perSecond float64, burst int) *upgradeThrottle {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &upgradeThrottle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// allow takes a token for ip. When none is available it reports how long
// until one will be.
func (t *upgradeThrottle) allow(ip string) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// prune drops visitors idle for longer than ttl and returns how many went.
func (t *upgradeThrottle) prune(ttl time.Duration) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	removed := 0
	for ip, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, ip)
			removed++
		}
	}
	return removed
}

func (t *upgradeThrottle) len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

// run prunes idle visitors until ctx is cancelled.
func (t *upgradeThrottle) run(ctx context.Context) {
	if t == nil {
		return
	}
	ticker := time.NewTicker(throttlePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.prune(throttleIdleTTL)
		}
	}
}
