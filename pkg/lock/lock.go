// Package lock implements turn-counted, TTL-bounded session routing locks.
package lock

import (
	"sync"
	"time"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

// Lock pins a session's routing outcome for a limited number of turns.
// An empty Pool leaves the pool unrestricted; a non-empty Target
// bypasses provider selection entirely.
type Lock struct {
	Session   string        `json:"session"`
	Scope     models.Scope  `json:"scope"`
	Pool      models.Pool   `json:"pool,omitempty"`
	Target    models.Target `json:"target,omitempty"`
	Turns     int           `json:"turns"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Store holds at most one lock per session. Expired and exhausted locks
// are deleted lazily on read. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	enabled bool
	ttl     time.Duration
	locks   map[string]*Lock
	now     func() time.Time
}

// New builds a Store from a lock config snapshot. The TTL is floored to
// one minute.
func New(cfg config.LockConfig) *Store {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock builds a Store with an injectable clock for tests.
func NewWithClock(cfg config.LockConfig, now func() time.Time) *Store {
	ttl := cfg.TTL
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &Store{
		enabled: cfg.Enabled,
		ttl:     ttl,
		locks:   make(map[string]*Lock),
		now:     now,
	}
}

// Get returns the session's lock if the feature is enabled, the lock is
// live, and its scope covers the query scope. Dead locks are deleted.
func (s *Store) Get(session string, scope models.Scope) (Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(session, scope)
}

// Consume returns the lock like Get and decrements its turn counter,
// deleting the lock once no turns remain.
func (s *Store) Consume(session string, scope models.Scope) (Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.get(session, scope)
	if !ok {
		return Lock{}, false
	}
	live := s.locks[session]
	live.Turns--
	if live.Turns <= 0 {
		delete(s.locks, session)
	}
	return l, true
}

// Set installs a lock for the session, replacing any existing one.
// Turns below one default to five. Returns the stored lock.
func (s *Store) Set(session string, scope models.Scope, pool models.Pool, turns int, target models.Target) Lock {
	if turns < 1 {
		turns = 5
	}
	now := s.now()
	l := Lock{
		Session:   session,
		Scope:     scope,
		Pool:      pool,
		Target:    target,
		Turns:     turns,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := l
	s.locks[session] = &stored
	return l
}

// Clear removes the session's lock and reports whether one existed.
func (s *Store) Clear(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locks[session]
	delete(s.locks, session)
	return ok
}

// Sweep removes expired locks and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for session, l := range s.locks {
		if now.After(l.ExpiresAt) || l.Turns <= 0 {
			delete(s.locks, session)
			dropped++
		}
	}
	return dropped
}

// List returns copies of all live locks.
func (s *Store) List() []Lock {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Lock, 0, len(s.locks))
	for _, l := range s.locks {
		if now.After(l.ExpiresAt) || l.Turns <= 0 {
			continue
		}
		out = append(out, *l)
	}
	return out
}

// get implements Get. Callers hold the lock.
func (s *Store) get(session string, scope models.Scope) (Lock, bool) {
	if !s.enabled {
		return Lock{}, false
	}
	l, ok := s.locks[session]
	if !ok {
		return Lock{}, false
	}
	if s.now().After(l.ExpiresAt) || l.Turns <= 0 {
		delete(s.locks, session)
		return Lock{}, false
	}
	if !visible(l.Scope, scope) {
		return Lock{}, false
	}
	return *l, true
}

// visible reports whether a lock with lockScope applies to a lookup
// from queryScope. Scope all matches in both directions.
func visible(lockScope, queryScope models.Scope) bool {
	return lockScope == models.ScopeAll ||
		queryScope == models.ScopeAll ||
		lockScope == queryScope
}
