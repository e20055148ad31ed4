package auth

import (
	"sync"
	"time"
)

// State is the throttle state for one username.
type State int

const (
	StateClosed   State = iota // attempts allowed
	StateOpen                  // locked out
	StateHalfOpen              // lockout elapsed, one attempt decides
)

const (
	// DefaultMaxKeys bounds how many usernames are tracked at once.
	DefaultMaxKeys = 10000

	sweepEvery = 256
)

type breaker struct {
	state       State
	failCount   int
	openedAt    time.Time
	lastFailure time.Time
}

// Throttle is a per-username circuit breaker for login attempts.
// Transitions: Closed → Open (after maxFailures consecutive failures)
//
//	Open → HalfOpen (after lockout expires)
//	HalfOpen → Closed (on success) or Open (on failure)
//
// Closed entries are forgotten once their last failure is older than the
// lockout. Open and half-open entries are forgotten two lockouts after they
// opened. At most maxKeys usernames are tracked.
type Throttle struct {
	mu          sync.Mutex
	breakers    map[string]*breaker
	maxFailures int
	lockout     time.Duration
	maxKeys     int
	failures    int
	now         func() time.Time
}

func NewThrottle(maxFailures int, lockout time.Duration) *Throttle {
	return &Throttle{
		breakers:    make(map[string]*breaker),
		maxFailures: maxFailures,
		lockout:     lockout,
		maxKeys:     DefaultMaxKeys,
		now:         time.Now,
	}
}

// WithMaxKeys changes the tracked username cap.
func (t *Throttle) WithMaxKeys(n int) *Throttle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.maxKeys = n
	}
	return t
}

func (t *Throttle) stale(b *breaker, now time.Time) bool {
	if b.state == StateClosed {
		return now.Sub(b.lastFailure) >= t.lockout
	}
	return now.Sub(b.openedAt) >= 2*t.lockout
}

func (t *Throttle) sweep(now time.Time) {
	for k, b := range t.breakers {
		if t.stale(b, now) {
			delete(t.breakers, k)
		}
	}
}

// evictOne drops the closed entry with the oldest failure, or the oldest
// entry of any state when every tracked username is locked.
func (t *Throttle) evictOne() {
	var (
		victim       string
		victimAt     time.Time
		victimClosed bool
		found        bool
	)
	for k, b := range t.breakers {
		closed := b.state == StateClosed
		switch {
		case !found,
			closed && !victimClosed,
			closed == victimClosed && b.lastFailure.Before(victimAt):
			victim, victimAt, victimClosed, found = k, b.lastFailure, closed, true
		}
	}
	if found {
		delete(t.breakers, victim)
	}
}

// Allow reports whether a login attempt for key may proceed.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.breakers[key]
	if !ok {
		return true
	}
	if t.stale(b, now) {
		delete(t.breakers, key)
		return true
	}

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) >= t.lockout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Failure records a rejected attempt.
func (t *Throttle) Failure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.failures++
	if t.failures%sweepEvery == 0 {
		t.sweep(now)
	}

	b, ok := t.breakers[key]
	if ok && t.stale(b, now) {
		delete(t.breakers, key)
		ok = false
	}
	if !ok {
		if len(t.breakers) >= t.maxKeys {
			t.sweep(now)
			for len(t.breakers) >= t.maxKeys {
				t.evictOne()
			}
		}
		b = &breaker{}
		t.breakers[key] = b
	}

	b.failCount++
	b.lastFailure = now
	if b.state == StateHalfOpen || b.failCount >= t.maxFailures {
		b.state = StateOpen
		b.openedAt = now
	}
}

// Success resets the key.
func (t *Throttle) Success(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.breakers, key)
}

func (t *Throttle) CurrentState(key string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[key]; ok {
		return b.state
	}
	return StateClosed
}

// Tracked is the number of usernames currently held.
func (t *Throttle) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.breakers)
}
