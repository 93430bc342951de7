package selector

import (
	"sync"
	"time"

	"github.com/tierd-ai/tierd/pkg/models"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 60 * time.Second
)

// BreakerState is a read-only snapshot of one breaker entry.
type BreakerState struct {
	FailCount int       `json:"fail_count"`
	Open      bool      `json:"open"`
	LastFail  time.Time `json:"last_fail"`
}

type breakerEntry struct {
	failCount int
	open      bool
	lastFail  time.Time
}

// Breaker tracks consecutive failures per (provider, model) target and
// temporarily removes failing targets from selection. Three consecutive
// failures open the entry; a success deletes it; once the cooldown
// elapses the target is implicitly eligible again, but its fail count
// survives until an actual success.
type Breaker struct {
	mu      sync.Mutex
	entries map[string]*breakerEntry
	now     func() time.Time
}

// NewBreaker builds an empty breaker table.
func NewBreaker() *Breaker {
	return NewBreakerWithClock(time.Now)
}

// NewBreakerWithClock builds a breaker with an injectable clock for tests.
func NewBreakerWithClock(now func() time.Time) *Breaker {
	return &Breaker{entries: make(map[string]*breakerEntry), now: now}
}

// OnOutcome records the result of one dispatch to target.
func (b *Breaker) OnOutcome(target models.Target, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := target.Key()
	if ok {
		delete(b.entries, key)
		return
	}

	e := b.entries[key]
	if e == nil {
		e = &breakerEntry{}
		b.entries[key] = e
	}
	e.failCount++
	e.lastFail = b.now()
	if e.failCount >= breakerThreshold {
		e.open = true
	}
}

// IsDisabled reports whether target is currently excluded from
// selection: the entry is open and still within its cooldown window.
func (b *Breaker) IsDisabled(target models.Target) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[target.Key()]
	if !ok || !e.open {
		return false
	}
	return b.now().Sub(e.lastFail) <= breakerCooldown
}

// State returns "open" or "closed" for target.
func (b *Breaker) State(target models.Target) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[target.Key()]; ok && e.open {
		return "open"
	}
	return "closed"
}

// Snapshot returns a copy of all tracked entries keyed by target key.
func (b *Breaker) Snapshot() map[string]BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]BreakerState, len(b.entries))
	for k, e := range b.entries {
		out[k] = BreakerState{FailCount: e.failCount, Open: e.open, LastFail: e.lastFail}
	}
	return out
}
