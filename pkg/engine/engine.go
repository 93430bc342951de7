// Package engine orchestrates one routed interaction: classification,
// budget adjustment, pool/provider selection, and outcome correlation.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tierd-ai/tierd/pkg/acl"
	"github.com/tierd-ai/tierd/pkg/arbiter"
	"github.com/tierd-ai/tierd/pkg/budget"
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/selector"
	"github.com/tierd-ai/tierd/pkg/stats"
)

const pendingForceSweepAt = 500

// Route is the outcome of BeforeDispatch. A zero Route (Applied false)
// means the caller's original provider and model stand.
type Route struct {
	Applied       bool                  `json:"applied"`
	Class         models.Classification `json:"class"`
	BasePool      models.Pool           `json:"base_pool"`
	DesiredPool   models.Pool           `json:"desired_pool"`
	FinalPool     models.Pool           `json:"final_pool"`
	Policy        models.Policy         `json:"policy,omitempty"`
	BudgetBlocked bool                  `json:"budget_blocked"`
	LockUsed      bool                  `json:"lock_used"`
	Target        models.Target         `json:"target"`
	Meta          models.RouteMeta      `json:"meta"`
}

type pendingEntry struct {
	start time.Time
	route Route
}

// Engine wires the routing components together. Safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	acl      *acl.Checker
	arbiter  *arbiter.Arbiter
	budget   *budget.Limiter
	selector *selector.Selector
	stats    *stats.Recorder

	mu        sync.Mutex
	pending   map[string]pendingEntry
	lastSweep time.Time
	now       func() time.Time
}

// New builds an Engine over the given components.
func New(cfg *config.Config, checker *acl.Checker, arb *arbiter.Arbiter, lim *budget.Limiter, sel *selector.Selector, rec *stats.Recorder) *Engine {
	return &Engine{
		cfg:      cfg,
		acl:      checker,
		arbiter:  arb,
		budget:   lim,
		selector: sel,
		stats:    rec,
		pending:  make(map[string]pendingEntry),
		now:      time.Now,
	}
}

// SetClock injects a clock for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// BeforeDispatch classifies the message and resolves its route. It
// records counters, the last-route snapshot, and (keyed by messageID)
// pending bookkeeping for AfterDispatch to correlate the outcome.
func (e *Engine) BeforeDispatch(ctx context.Context, id models.Identity, messageID, message string) Route {
	if !e.cfg.Enabled {
		return Route{}
	}
	e.sweepPending()

	if strings.TrimSpace(message) == "" {
		return Route{}
	}
	if !e.acl.AllowRouter(id) {
		return Route{}
	}

	route := e.resolve(ctx, id, message, false)
	e.record(id, message, route)

	if messageID != "" {
		e.mu.Lock()
		e.pending[messageID] = pendingEntry{start: e.now(), route: route}
		e.mu.Unlock()
	}
	return route
}

// DryRun resolves a route without consuming locks, recording telemetry,
// or registering pending state.
func (e *Engine) DryRun(ctx context.Context, id models.Identity, message string) Route {
	if !e.cfg.Enabled || strings.TrimSpace(message) == "" {
		return Route{}
	}
	if !e.acl.AllowRouter(id) {
		return Route{}
	}
	return e.resolve(ctx, id, message, true)
}

// AfterDispatch correlates a response with its pending route, feeds the
// circuit breaker, and appends an outcome record. Role "err" counts as
// failure.
func (e *Engine) AfterDispatch(messageID, role string) {
	if !e.cfg.Enabled || messageID == "" {
		return
	}

	e.mu.Lock()
	entry, ok := e.pending[messageID]
	if ok {
		delete(e.pending, messageID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	okResult := role != "err"
	if entry.route.Target.ProviderID != "" {
		e.selector.Breaker().OnOutcome(entry.route.Target, okResult)
	}
	if !e.stats.Enabled() {
		return
	}
	if okResult {
		e.stats.Inc("llm_ok")
	} else {
		e.stats.Inc("llm_err")
	}

	e.stats.RecordOutcome(models.Outcome{
		At:            e.now(),
		OK:            okResult,
		Role:          role,
		Elapsed:       e.now().Sub(entry.start),
		Class:         entry.route.Class,
		Pool:          entry.route.FinalPool,
		Policy:        entry.route.Policy,
		BudgetBlocked: entry.route.BudgetBlocked,
		LockUsed:      entry.route.LockUsed,
		Target:        entry.route.Target,
		Meta:          entry.route.Meta,
	})
}

// PendingLen returns the size of the pending-call table.
func (e *Engine) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) resolve(ctx context.Context, id models.Identity, message string, dry bool) Route {
	class := e.arbiter.Classify(ctx, message)

	basePool := models.PoolFast
	if class.Decision == models.DecisionHigh {
		basePool = models.PoolHigh
	}
	desired := basePool
	budgetBlocked := false
	if desired == models.PoolHigh && !e.budget.AllowedHigh(id) {
		desired = models.PoolFast
		budgetBlocked = true
	}

	var sel models.Selection
	if dry {
		sel = e.selector.Peek(id.Session, models.ScopeRouter, desired)
	} else {
		sel = e.selector.Select(id.Session, models.ScopeRouter, desired)
	}
	return Route{
		Applied:       sel.Target.ProviderID != "",
		Class:         class,
		BasePool:      basePool,
		DesiredPool:   desired,
		FinalPool:     sel.Pool,
		Policy:        sel.Policy,
		BudgetBlocked: budgetBlocked,
		LockUsed:      sel.LockUsed,
		Target:        sel.Target,
		Meta:          sel.Meta,
	}
}

func (e *Engine) record(id models.Identity, message string, r Route) {
	e.stats.Inc("router_total")
	if r.Class.Decision == models.DecisionHigh {
		e.stats.Inc("router_decision_high")
	} else {
		e.stats.Inc("router_decision_fast")
	}
	if r.DesiredPool == models.PoolHigh {
		e.stats.Inc("router_use_high")
	} else {
		e.stats.Inc("router_use_fast")
	}
	if r.BudgetBlocked {
		e.stats.Inc("router_budget_blocked")
	}
	if r.Policy != models.PolicyNone {
		e.stats.Inc("router_policy_" + strings.ToLower(string(r.Policy)))
	}
	if r.LockUsed {
		e.stats.Inc("router_lock_used")
	}
	if r.Meta.CBPoolFallback {
		e.stats.Inc("router_cb_pool_fallback")
	}
	if r.FinalPool != r.DesiredPool {
		e.stats.Inc("router_pool_changed")
	}
	e.stats.MarkRequest(r.Class, r.FinalPool, r.Meta)

	if id.Session != "" {
		e.stats.SetLastRoute(id.Session, models.LastRoute{
			At:            e.now(),
			Scope:         models.ScopeRouter,
			Message:       truncate(message, 200),
			Class:         r.Class,
			BasePool:      r.BasePool,
			DesiredPool:   r.DesiredPool,
			FinalPool:     r.FinalPool,
			Policy:        r.Policy,
			BudgetBlocked: r.BudgetBlocked,
			LockUsed:      r.LockUsed,
			Target:        r.Target,
			Meta:          r.Meta,
		})
	}
}

// sweepPending drops expired pending entries. The sweep runs at most
// once per configured interval, or immediately once the table exceeds
// the force threshold.
func (e *Engine) sweepPending() {
	ttl := e.cfg.Pending.TTL
	if ttl <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	interval := e.cfg.Pending.SweepInterval
	due := interval <= 0 || now.Sub(e.lastSweep) >= interval
	if len(e.pending) >= pendingForceSweepAt {
		due = true
	}
	if !due {
		return
	}
	e.lastSweep = now
	for id, entry := range e.pending {
		if now.Sub(entry.start) > ttl {
			delete(e.pending, id)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
