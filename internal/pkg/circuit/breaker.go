// Package circuit short-circuits calls to a dependency that keeps failing.
package circuit

import (
	"sync"
	"time"

	"marketcache/internal/logger"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker opens after threshold consecutive failures. Once cooldown has
// passed since it opened, exactly one caller is let through as a probe; its
// outcome closes or re-opens the breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	trips    int64
}

// Snapshot is a point-in-time view for health reports.
type Snapshot struct {
	State    State
	Failures int
	Trips    int64
	OpenedAt time.Time
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     StateClosed,
	}
}

// SetClock replaces the time source; tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, Failures: b.failures, Trips: b.trips, OpenedAt: b.openedAt}
}

// Allow reports whether the caller may hit the dependency.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.moveTo(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.moveTo(StateClosed)
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.trips++
		b.moveTo(StateOpen)
	}
}

func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		logger.Infof("circuit %s: %s -> %s", b.name, from, to)
		return
	}
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d, cooldown=%s)", b.name, from, to, b.failures, b.threshold, b.cooldown)
}
