package destinations

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// backoffBase is the first retry delay after a failure.
	backoffBase = time.Second

	// backoffCap is the longest retry delay.
	backoffCap = 120 * time.Second

	// backoffFactor multiplies the delay after each failure.
	backoffFactor = 1.5

	// maxJitter is the half-width of the random offset applied to each
	// delay so destinations never retry in lockstep.
	maxJitter = 500 * time.Millisecond

	// stableConnectionAge is how long a connection must survive before
	// its loss stops counting toward the consecutive-failure limit.
	stableConnectionAge = 2 * time.Minute

	// MaxConsecutiveFailures is the number of consecutive failed or
	// short-lived connections after which a session gives up so the
	// service supervisor can restart the whole process.
	MaxConsecutiveFailures = 12
)

// Backoff tracks the retry delay and consecutive-failure count for one
// destination. Delay grows exponentially with jitter and resets to base
// on every successful connect; the failure count resets only once a
// connection proves stable.
type Backoff struct {
	mu       sync.Mutex
	base     time.Duration
	limit    time.Duration
	delay    time.Duration
	failures int

	jitter func() time.Duration // test hook
}

// NewBackoff returns a backoff with the default base and cap.
func NewBackoff() *Backoff {
	return NewBackoffRange(backoffBase, backoffCap)
}

// NewBackoffRange returns a backoff with an explicit base delay and cap.
// Non-positive values fall back to the defaults.
func NewBackoffRange(base, limit time.Duration) *Backoff {
	if base <= 0 {
		base = backoffBase
	}
	if limit < base {
		limit = backoffCap
	}
	return &Backoff{
		base:  base,
		limit: limit,
		delay: base,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(2*maxJitter))) - maxJitter
		},
	}
}

// Next returns the jittered delay to wait before the next attempt and
// advances the delay toward the cap.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.delay + b.jitter()
	if d < 0 {
		d = 0
	}

	b.delay = time.Duration(float64(b.delay) * backoffFactor)
	if b.delay > b.limit {
		b.delay = b.limit
	}
	return d
}

// Connected resets the delay to base. The failure count is left alone
// until the connection proves stable.
func (b *Backoff) Connected() {
	b.mu.Lock()
	b.delay = b.base
	b.mu.Unlock()
}

// Failure records a failed connect attempt and returns the consecutive
// count.
func (b *Backoff) Failure() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures
}

// ConnectionEnded records the end of a connection that lived for the
// given duration. A short-lived connection counts as a failure; a stable
// one clears the count.
func (b *Backoff) ConnectionEnded(lifetime time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lifetime < stableConnectionAge {
		b.failures++
	} else {
		b.failures = 0
	}
	return b.failures
}

// Failures returns the consecutive-failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
