package selector

import (
	"testing"
	"time"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pools.High = []config.RouteSpec{
		{ProviderID: "h1", Model: "big-a"},
		{ProviderID: "h2", Model: "big-b"},
	}
	cfg.Pools.Fast = []config.RouteSpec{
		{ProviderID: "f1", Model: "small-a"},
	}
	return cfg
}

func newSelector(t *testing.T, cfg *config.Config) (*Selector, *lock.Store, *Breaker) {
	t.Helper()
	locks := lock.New(config.LockConfig{Enabled: true, TTL: time.Hour})
	breaker := NewBreaker()
	// intn pinned to zero keeps picks deterministic.
	return NewWithRand(cfg, locks, breaker, func(int) int { return 0 }), locks, breaker
}

func TestResolvePoolPolicies(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.FastOnly = []string{"cheap"}
	cfg.Policy.HighOnly = []string{"vip"}
	s, _, _ := newSelector(t, cfg)

	if pool, policy := s.ResolvePool("cheap", models.PoolHigh); pool != models.PoolFast || policy != models.PolicyFastOnly {
		t.Errorf("fast-only session: got (%v, %v)", pool, policy)
	}
	if pool, policy := s.ResolvePool("vip", models.PoolFast); pool != models.PoolHigh || policy != models.PolicyHighOnly {
		t.Errorf("high-only session: got (%v, %v)", pool, policy)
	}
	if pool, policy := s.ResolvePool("anyone", models.PoolHigh); pool != models.PoolHigh || policy != models.PolicyNone {
		t.Errorf("unlisted session: got (%v, %v)", pool, policy)
	}
}

func TestSelectHighPollingDisabledUsesFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.HighPolling = false
	locks := lock.New(config.LockConfig{Enabled: true, TTL: time.Hour})
	// intn pinned to the last index would otherwise pick h2.
	s := NewWithRand(cfg, locks, NewBreaker(), func(n int) int { return n - 1 })

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if sel.Target.ProviderID != "h1" {
		t.Errorf("polling disabled should pick the first pair, got %+v", sel.Target)
	}
}

func TestSelectLockPoolOverrides(t *testing.T) {
	cfg := testConfig()
	s, locks, _ := newSelector(t, cfg)
	locks.Set("sess", models.ScopeAll, models.PoolHigh, 2, models.Target{})

	sel := s.Select("sess", models.ScopeRouter, models.PoolFast)
	if !sel.LockUsed {
		t.Error("expected lock to be consumed")
	}
	if sel.Pool != models.PoolHigh {
		t.Errorf("lock pool should override desired, got %v", sel.Pool)
	}
}

func TestSelectLockTargetBypassesBreaker(t *testing.T) {
	cfg := testConfig()
	s, locks, breaker := newSelector(t, cfg)

	pinned := models.Target{ProviderID: "h1", Model: "big-a"}
	for i := 0; i < 3; i++ {
		breaker.OnOutcome(pinned, false)
	}
	locks.Set("sess", models.ScopeAll, models.PoolHigh, 2, pinned)

	sel := s.Select("sess", models.ScopeRouter, models.PoolFast)
	if sel.Target != pinned {
		t.Errorf("lock target must be used verbatim, got %+v", sel.Target)
	}
	if sel.Meta.CBSkipped {
		t.Error("lock target must bypass the breaker")
	}
}

func TestSelectPolicyBlocksLockPool(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.FastOnly = []string{"sess"}
	s, locks, _ := newSelector(t, cfg)
	locks.Set("sess", models.ScopeAll, models.PoolHigh, 2, models.Target{})

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if sel.Pool != models.PoolFast {
		t.Errorf("fast-only policy should block a HIGH lock pool, got %v", sel.Pool)
	}
}

func TestSelectBreakerSkipsToSamePool(t *testing.T) {
	cfg := testConfig()
	s, _, breaker := newSelector(t, cfg)

	// intn 0 picks h1 first; open its breaker.
	for i := 0; i < 3; i++ {
		breaker.OnOutcome(models.Target{ProviderID: "h1", Model: "big-a"}, false)
	}

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if !sel.Meta.CBSkipped {
		t.Error("expected cb_skipped flag")
	}
	if sel.Target.ProviderID != "h2" {
		t.Errorf("expected failover to h2, got %+v", sel.Target)
	}
	if sel.Meta.OriginalTarget.ProviderID != "h1" {
		t.Errorf("meta should record the original pick, got %+v", sel.Meta.OriginalTarget)
	}
	if sel.Pool != models.PoolHigh {
		t.Errorf("failover within the pool should keep the pool, got %v", sel.Pool)
	}
}

func TestSelectPoolFallback(t *testing.T) {
	cfg := testConfig()
	s, _, breaker := newSelector(t, cfg)

	for _, tgt := range cfg.PoolTargets(models.PoolHigh) {
		for i := 0; i < 3; i++ {
			breaker.OnOutcome(tgt, false)
		}
	}

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if !sel.Meta.CBSkipped || !sel.Meta.CBPoolFallback {
		t.Errorf("expected both failover flags, got %+v", sel.Meta)
	}
	if sel.Pool != models.PoolFast || sel.Target.ProviderID != "f1" {
		t.Errorf("expected fallback to the FAST pool, got pool=%v target=%+v", sel.Pool, sel.Target)
	}
}

func TestSelectNoPoolFallbackUnderPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.HighOnly = []string{"sess"}
	s, _, breaker := newSelector(t, cfg)

	for _, tgt := range cfg.PoolTargets(models.PoolHigh) {
		for i := 0; i < 3; i++ {
			breaker.OnOutcome(tgt, false)
		}
	}

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if sel.Meta.CBPoolFallback {
		t.Error("a forcing policy must prevent cross-pool fallback")
	}
	if sel.Pool != models.PoolHigh {
		t.Errorf("pool should stay HIGH under high-only policy, got %v", sel.Pool)
	}
}

func TestSelectForcedPolicyTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.FastOnly = []string{"sess"}
	cfg.Policy.FastOnlyForced = config.RouteSpec{ProviderID: "forced", Model: "fm"}
	s, _, _ := newSelector(t, cfg)

	sel := s.Select("sess", models.ScopeRouter, models.PoolHigh)
	if sel.Target.ProviderID != "forced" || sel.Target.Model != "fm" {
		t.Errorf("expected the forced target, got %+v", sel.Target)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.Fast = nil
	s, _, _ := newSelector(t, cfg)

	sel := s.Select("sess", models.ScopeRouter, models.PoolFast)
	if sel.Target.ProviderID != "" {
		t.Errorf("empty pool should yield no target, got %+v", sel.Target)
	}
}
