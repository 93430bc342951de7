// Package selector resolves the final pool and (provider, model) target
// for a routed message, applying policy restrictions, session locks,
// and circuit-breaker failover.
package selector

import (
	"math/rand"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/models"
)

// Selector picks routing targets against a config snapshot.
type Selector struct {
	cfg     *config.Config
	locks   *lock.Store
	breaker *Breaker
	intn    func(int) int
}

// New builds a Selector using the shared math/rand source.
func New(cfg *config.Config, locks *lock.Store, breaker *Breaker) *Selector {
	return NewWithRand(cfg, locks, breaker, rand.Intn)
}

// NewWithRand builds a Selector with an injectable draw for tests.
func NewWithRand(cfg *config.Config, locks *lock.Store, breaker *Breaker, intn func(int) int) *Selector {
	return &Selector{cfg: cfg, locks: locks, breaker: breaker, intn: intn}
}

// Breaker exposes the breaker table for outcome feedback and inspection.
func (s *Selector) Breaker() *Breaker {
	return s.breaker
}

// ResolvePool applies the fast-only/high-only policy lists to the
// desired pool. Fast-only is checked first.
func (s *Selector) ResolvePool(session string, desired models.Pool) (models.Pool, models.Policy) {
	if containsStr(s.cfg.Policy.FastOnly, session) {
		return models.PoolFast, models.PolicyFastOnly
	}
	if containsStr(s.cfg.Policy.HighOnly, session) {
		return models.PoolHigh, models.PolicyHighOnly
	}
	return desired, models.PolicyNone
}

// Select resolves the final pool, consumes any applicable session lock,
// and picks a (provider, model) target with circuit-breaker failover.
// A lock that names a provider is used verbatim, bypassing the breaker.
func (s *Selector) Select(session string, scope models.Scope, desired models.Pool) models.Selection {
	return s.resolve(session, scope, desired, true)
}

// Peek is Select without side effects: the lock is read but its turn
// counter is left untouched. Used by the dry-run surface.
func (s *Selector) Peek(session string, scope models.Scope, desired models.Pool) models.Selection {
	return s.resolve(session, scope, desired, false)
}

func (s *Selector) resolve(session string, scope models.Scope, desired models.Pool, consume bool) models.Selection {
	pool, policy := s.ResolvePool(session, desired)
	sel := models.Selection{Pool: pool, Policy: policy}

	readLock := s.locks.Get
	if consume {
		readLock = s.locks.Consume
	}
	if lk, ok := readLock(session, scope); ok {
		sel.LockUsed = true
		if lk.Pool != "" && !policyBlocks(policy, lk.Pool) {
			pool = lk.Pool
			sel.Pool = pool
		}
		if lk.Target.ProviderID != "" {
			sel.Target = lk.Target
			sel.Meta.OriginalTarget = lk.Target
			return sel
		}
	}

	var chosen models.Target
	switch {
	case policy == models.PolicyFastOnly && !s.cfg.Policy.FastOnlyForced.IsZero():
		chosen = s.cfg.Policy.FastOnlyForced.Target()
	case policy == models.PolicyHighOnly && !s.cfg.Policy.HighOnlyForced.IsZero():
		chosen = s.cfg.Policy.HighOnlyForced.Target()
	default:
		chosen = s.pick(pool)
	}
	sel.Meta.OriginalTarget = chosen
	if chosen.ProviderID == "" {
		return sel
	}

	if s.cfg.Breaker.Enabled && s.breaker.IsDisabled(chosen) {
		sel.Meta.CBSkipped = true
		if alt, ok := s.available(pool, chosen.ProviderID); ok {
			chosen = alt
		} else if s.cfg.Breaker.PoolFallback && policy == models.PolicyNone {
			if alt, ok := s.available(opposite(pool), chosen.ProviderID); ok {
				chosen = alt
				sel.Pool = opposite(pool)
				sel.Meta.CBPoolFallback = true
			}
		}
	}

	sel.Target = chosen
	return sel
}

// pick chooses a target from the pool's configured list. FAST always
// picks at random; HIGH picks at random unless polling is disabled, in
// which case the first configured pair wins.
func (s *Selector) pick(pool models.Pool) models.Target {
	targets := s.cfg.PoolTargets(pool)
	if len(targets) == 0 {
		return models.Target{}
	}
	if pool == models.PoolHigh && !s.cfg.Pools.HighPolling {
		return targets[0]
	}
	return targets[s.intn(len(targets))]
}

// available returns a random breaker-eligible target from the pool,
// excluding the given provider.
func (s *Selector) available(pool models.Pool, excludeProvider string) (models.Target, bool) {
	targets := s.cfg.PoolTargets(pool)
	shuffled := make([]models.Target, len(targets))
	copy(shuffled, targets)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := s.intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	for _, t := range shuffled {
		if t.ProviderID == excludeProvider {
			continue
		}
		if s.breaker.IsDisabled(t) {
			continue
		}
		return t, true
	}
	return models.Target{}, false
}

// policyBlocks reports whether a policy forbids a lock's pool choice.
func policyBlocks(policy models.Policy, pool models.Pool) bool {
	return (policy == models.PolicyFastOnly && pool == models.PoolHigh) ||
		(policy == models.PolicyHighOnly && pool == models.PoolFast)
}

func opposite(pool models.Pool) models.Pool {
	if pool == models.PoolHigh {
		return models.PoolFast
	}
	return models.PoolHigh
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
