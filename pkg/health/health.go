// Package health probes every configured routing target with a tiny
// completion call and feeds the results into the circuit breaker.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/selector"
)

// Checker runs bounded-concurrency health probes.
type Checker struct {
	cfg      *config.Config
	registry *provider.Registry
	breaker  *selector.Breaker
}

// New builds a Checker.
func New(cfg *config.Config, registry *provider.Registry, breaker *selector.Breaker) *Checker {
	return &Checker{cfg: cfg, registry: registry, breaker: breaker}
}

// Targets lists every unique (provider, model) pair in use: the judge
// plus both pools, with tags aggregated for duplicates.
func (c *Checker) Targets() []models.ProbeResult {
	type tagged struct {
		target models.Target
		tags   []string
	}
	index := make(map[string]*tagged)
	var order []string

	add := func(tag string, t models.Target) {
		if t.ProviderID == "" {
			return
		}
		key := t.Key()
		entry, ok := index[key]
		if !ok {
			entry = &tagged{target: t}
			index[key] = entry
			order = append(order, key)
		}
		entry.tags = append(entry.tags, tag)
	}

	if c.cfg.Judge.ProviderID != "" {
		add("JUDGE", models.Target{ProviderID: c.cfg.Judge.ProviderID, Model: c.cfg.Judge.Model})
	}
	for _, t := range c.cfg.PoolTargets(models.PoolHigh) {
		add("HIGH", t)
	}
	for _, t := range c.cfg.PoolTargets(models.PoolFast) {
		add("FAST", t)
	}

	out := make([]models.ProbeResult, 0, len(order))
	for _, key := range order {
		e := index[key]
		sort.Strings(e.tags)
		out = append(out, models.ProbeResult{Target: e.target, Tags: e.tags})
	}
	return out
}

// Run probes all targets concurrently, bounded by the configured
// concurrency limit. A successful probe closes the target's breaker
// entry; a failure or timeout counts as one breaker failure.
func (c *Checker) Run(ctx context.Context) []models.ProbeResult {
	results := c.Targets()

	sem := semaphore.NewWeighted(int64(c.cfg.Health.MaxConcurrency))
	var wg sync.WaitGroup
	for i := range results {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err.Error()
			results[i].Breaker = c.breaker.State(results[i].Target)
			continue
		}
		wg.Add(1)
		go func(r *models.ProbeResult) {
			defer wg.Done()
			defer sem.Release(1)
			c.probe(ctx, r)
		}(&results[i])
	}
	wg.Wait()
	return results
}

func (c *Checker) probe(ctx context.Context, r *models.ProbeResult) {
	defer func() {
		r.Breaker = c.breaker.State(r.Target)
	}()

	p, ok := c.registry.Resolve(r.Target.ProviderID)
	if !ok {
		r.Err = "provider not found"
		c.breaker.OnOutcome(r.Target, false)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Health.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := p.Complete(ctx, provider.Request{
		Prompt:       "OK",
		SystemPrompt: "Reply OK",
		Model:        r.Target.Model,
	})
	r.Latency = time.Since(start)

	switch {
	case err == nil && reply.OK():
		r.OK = true
		c.breaker.OnOutcome(r.Target, true)
	case errors.Is(err, context.DeadlineExceeded):
		r.TimedOut = true
		r.Err = "timeout"
		c.breaker.OnOutcome(r.Target, false)
	default:
		if err != nil {
			r.Err = err.Error()
		} else {
			r.Err = "provider reported failure"
		}
		c.breaker.OnOutcome(r.Target, false)
	}
}
