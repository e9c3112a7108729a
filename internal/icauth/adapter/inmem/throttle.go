package inmem

import (
	"math"
	"sync"
	"time"

	"icauth/internal/icauth"
)

// maxRetryAfter caps the advertised wait, in seconds.
const maxRetryAfter = 3600

// LoginThrottle limits login attempts per client key with a token bucket.
// A bucket that has been idle long enough to refill completely is
// indistinguishable from a new one and is dropped by Sweep.
type LoginThrottle struct {
	rate  float64 // attempts regained per second
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*attempts
}

type attempts struct {
	left float64
	seen time.Time
}

var _ icauth.RateLimiter = (*LoginThrottle)(nil)

// NewLoginThrottle creates a throttle allowing burst attempts at once and
// rate attempts per second after that. Both must be positive. clock is injectable for deterministic testing.
func NewLoginThrottle(rate float64, burst int, clock func() time.Time) *LoginThrottle {
	return &LoginThrottle{
		rate:    rate,
		burst:   float64(burst),
		now:     clock,
		buckets: make(map[string]*attempts),
	}
}

// Allow spends one attempt for key.
func (t *LoginThrottle) Allow(key string) icauth.RateLimitResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	a := t.refill(key, now)
	if a.left >= 1 {
		a.left--
		return icauth.RateLimitResult{Allowed: true}
	}
	if t.rate <= 0 {
		return icauth.RateLimitResult{RetryAfter: maxRetryAfter}
	}
	wait := min(max(int(math.Ceil((1-a.left)/t.rate)), 1), maxRetryAfter)
	return icauth.RateLimitResult{RetryAfter: wait}
}

// Reset gives key a full bucket again, e.g. after a successful login.
func (t *LoginThrottle) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, key)
}

func (t *LoginThrottle) refill(key string, now time.Time) *attempts {
	a, ok := t.buckets[key]
	if !ok {
		a = &attempts{left: t.burst, seen: now}
		t.buckets[key] = a
		return a
	}
	a.left = math.Min(t.burst, a.left+now.Sub(a.seen).Seconds()*t.rate)
	a.seen = now
	return a
}

// Sweep drops buckets that have refilled completely.
func (t *LoginThrottle) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rate <= 0 {
		return
	}
	now := t.now()
	full := time.Duration(t.burst / t.rate * float64(time.Second))
	for key, a := range t.buckets {
		if now.Sub(a.seen) >= full {
			delete(t.buckets, key)
		}
	}
}

// Len returns the number of tracked keys (for testing).
func (t *LoginThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
