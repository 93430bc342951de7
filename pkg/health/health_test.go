package health

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/selector"
)

type probeProvider struct {
	id    string
	err   error
	role  string
	delay time.Duration

	mu         sync.Mutex
	inFlight   int
	maxAtOnce  int
	totalCalls int
}

func (p *probeProvider) ID() string { return p.id }

func (p *probeProvider) Complete(ctx context.Context, _ provider.Request) (provider.Reply, error) {
	p.mu.Lock()
	p.inFlight++
	p.totalCalls++
	if p.inFlight > p.maxAtOnce {
		p.maxAtOnce = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return provider.Reply{Role: provider.RoleErr}, ctx.Err()
		}
	}
	role := p.role
	if role == "" {
		role = "assistant"
	}
	return provider.Reply{Text: "OK", Role: role}, p.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Judge.ProviderID = "p1"
	cfg.Judge.Model = "mini"
	cfg.Pools.High = []config.RouteSpec{{ProviderID: "p1", Model: "big"}}
	cfg.Pools.Fast = []config.RouteSpec{
		{ProviderID: "p1", Model: "mini"},
		{ProviderID: "p2", Model: "small"},
	}
	return cfg
}

func TestTargetsAggregatesTags(t *testing.T) {
	c := New(testConfig(), provider.NewRegistry(nil), selector.NewBreaker())

	targets := c.Targets()
	if len(targets) != 3 {
		t.Fatalf("expected 3 unique targets, got %d", len(targets))
	}

	byKey := make(map[string][]string)
	for _, r := range targets {
		byKey[r.Target.Key()] = r.Tags
	}
	// p1:mini serves both the judge and the FAST pool.
	if !reflect.DeepEqual(byKey["p1:mini"], []string{"FAST", "JUDGE"}) {
		t.Errorf("expected aggregated tags for p1:mini, got %v", byKey["p1:mini"])
	}
	if !reflect.DeepEqual(byKey["p1:big"], []string{"HIGH"}) {
		t.Errorf("unexpected tags for p1:big: %v", byKey["p1:big"])
	}
}

func TestRunSuccessClosesBreaker(t *testing.T) {
	cfg := testConfig()
	reg := provider.NewRegistry(nil)
	reg.Register(&probeProvider{id: "p1"})
	reg.Register(&probeProvider{id: "p2"})
	breaker := selector.NewBreaker()

	// Pre-open one entry; a healthy probe should clear it.
	tgt := models.Target{ProviderID: "p1", Model: "big"}
	for i := 0; i < 3; i++ {
		breaker.OnOutcome(tgt, false)
	}

	results := New(cfg, reg, breaker).Run(context.Background())
	for _, r := range results {
		if !r.OK {
			t.Errorf("probe %s should succeed: %+v", r.Target.Key(), r)
		}
		if r.Breaker != "closed" {
			t.Errorf("probe %s breaker = %s, want closed", r.Target.Key(), r.Breaker)
		}
	}
}

func TestRunFailureFeedsBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.Fast = nil
	cfg.Judge.ProviderID = ""
	// Only p1:big remains.
	reg := provider.NewRegistry(nil)
	reg.Register(&probeProvider{id: "p1", err: errors.New("boom"), role: provider.RoleErr})
	breaker := selector.NewBreaker()

	c := New(cfg, reg, breaker)
	tgt := models.Target{ProviderID: "p1", Model: "big"}
	breaker.OnOutcome(tgt, false)
	breaker.OnOutcome(tgt, false)

	results := c.Run(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].OK || results[0].Err == "" {
		t.Errorf("expected failed probe, got %+v", results[0])
	}
	// Third failure opens the breaker and the result reflects it.
	if results[0].Breaker != "open" {
		t.Errorf("breaker = %s, want open", results[0].Breaker)
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.Fast = nil
	cfg.Judge.ProviderID = ""
	cfg.Health.Timeout = 20 * time.Millisecond

	reg := provider.NewRegistry(nil)
	reg.Register(&probeProvider{id: "p1", delay: 500 * time.Millisecond})

	results := New(cfg, reg, selector.NewBreaker()).Run(context.Background())
	if len(results) != 1 || !results[0].TimedOut {
		t.Errorf("expected timed-out probe, got %+v", results)
	}
}

func TestRunUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.High = nil
	cfg.Pools.Fast = []config.RouteSpec{{ProviderID: "ghost", Model: "m"}}
	cfg.Judge.ProviderID = ""

	results := New(cfg, provider.NewRegistry(nil), selector.NewBreaker()).Run(context.Background())
	if len(results) != 1 || results[0].OK || results[0].Err != "provider not found" {
		t.Errorf("expected provider-not-found result, got %+v", results)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	cfg := config.Default()
	cfg.Health.MaxConcurrency = 2
	cfg.Health.Timeout = time.Second
	p := &probeProvider{id: "p1", delay: 30 * time.Millisecond}
	for i := 0; i < 6; i++ {
		cfg.Pools.Fast = append(cfg.Pools.Fast, config.RouteSpec{ProviderID: "p1", Model: string(rune('a' + i))})
	}
	reg := provider.NewRegistry(nil)
	reg.Register(p)

	New(cfg, reg, selector.NewBreaker()).Run(context.Background())
	if p.totalCalls != 6 {
		t.Fatalf("expected 6 probes, got %d", p.totalCalls)
	}
	if p.maxAtOnce > 2 {
		t.Errorf("concurrency bound exceeded: %d probes in flight", p.maxAtOnce)
	}
}
