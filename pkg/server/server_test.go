package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tierd-ai/tierd/pkg/acl"
	"github.com/tierd-ai/tierd/pkg/arbiter"
	"github.com/tierd-ai/tierd/pkg/budget"
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/engine"
	"github.com/tierd-ai/tierd/pkg/health"
	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/selector"
	"github.com/tierd-ai/tierd/pkg/stats"
)

type fakeProvider struct {
	id    string
	text  string
	role  string
	calls atomic.Int64
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Complete(_ context.Context, _ provider.Request) (provider.Reply, error) {
	p.calls.Add(1)
	role := p.role
	if role == "" {
		role = "assistant"
	}
	return provider.Reply{Text: p.text, Role: role}, nil
}

type testEnv struct {
	srv  *Server
	cfg  *config.Config
	high *fakeProvider
	fast *fakeProvider
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{ID: "p-high", URL: "http://high.invalid"},
		{ID: "p-fast", URL: "http://fast.invalid"},
	}
	cfg.Pools.High = []config.RouteSpec{{ProviderID: "p-high", Model: "big"}}
	cfg.Pools.Fast = []config.RouteSpec{{ProviderID: "p-fast", Model: "mini"}}
	if mutate != nil {
		mutate(cfg)
	}

	high := &fakeProvider{id: "p-high", text: "deep answer"}
	fast := &fakeProvider{id: "p-fast", text: "quick answer"}
	registry := provider.NewRegistry(nil)
	registry.Register(high)
	registry.Register(fast)

	recorder := stats.New(cfg.Stats.Enabled, cfg.Stats.MaxRecords)
	locks := lock.New(cfg.Locks)
	breaker := selector.NewBreaker()
	sel := selector.NewWithRand(cfg, locks, breaker, func(int) int { return 0 })
	arb := arbiter.New(cfg, registry, recorder)
	checker := acl.New(cfg.ACL)
	lim := budget.New(cfg)
	eng := engine.New(cfg, checker, arb, lim, sel, recorder)

	srv := New(Deps{
		Config:   cfg,
		ACL:      checker,
		Arbiter:  arb,
		Budget:   lim,
		Engine:   eng,
		Registry: registry,
		Selector: sel,
		Locks:    locks,
		Stats:    recorder,
		Health:   health.New(cfg, registry, breaker),
	})
	return &testEnv{srv: srv, cfg: cfg, high: high, fast: fast}
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-Tierd-Session", "sess-1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestChatCompletionsRoutesHigh(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"messages":[{"role":"user","content":"帮我优化这个算法的时间复杂度"}]}`
	w := doJSON(t, env.srv, http.MethodPost, "/v1/chat/completions", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Tierd-Pool") != "HIGH" {
		t.Errorf("expected HIGH pool, got %q", w.Header().Get("X-Tierd-Pool"))
	}
	if w.Header().Get("X-Tierd-Provider") != "p-high" {
		t.Errorf("expected p-high, got %q", w.Header().Get("X-Tierd-Provider"))
	}

	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "deep answer" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if env.high.calls.Load() != 1 || env.fast.calls.Load() != 0 {
		t.Errorf("expected one HIGH dispatch, got high=%d fast=%d", env.high.calls.Load(), env.fast.calls.Load())
	}
}

func TestChatCompletionsRoutesFast(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"你好"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Tierd-Pool") != "FAST" {
		t.Errorf("expected FAST pool, got %q", w.Header().Get("X-Tierd-Pool"))
	}
	if env.fast.calls.Load() != 1 {
		t.Errorf("expected one FAST dispatch, got %d", env.fast.calls.Load())
	}
}

func TestChatCompletionsNoUserMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	w := doJSON(t, env.srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"system","content":"be nice"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAskExplicitTiers(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/ask", `{"tier":"high","question":"解释一下"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pool != models.PoolHigh || resp.Provider != "p-high" || resp.Answer != "deep answer" {
		t.Errorf("unexpected ask response: %+v", resp)
	}

	w = doJSON(t, env.srv, http.MethodPost, "/v1/ask", `{"tier":"fast","question":"解释一下"}`)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pool != models.PoolFast || resp.Provider != "p-fast" {
		t.Errorf("unexpected fast ask response: %+v", resp)
	}
}

func TestAskPolicyRejectAndDowngrade(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Policy.FastOnly = []string{"sess-1"}
	})

	w := doJSON(t, env.srv, http.MethodPost, "/v1/ask", `{"tier":"high","question":"解释一下"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("REJECT action should refuse the high tier, got %d", w.Code)
	}

	env = newTestEnv(t, func(cfg *config.Config) {
		cfg.Policy.FastOnly = []string{"sess-1"}
		cfg.Policy.FastOnlyAction = "DOWNGRADE"
	})
	w = doJSON(t, env.srv, http.MethodPost, "/v1/ask", `{"tier":"high","question":"解释一下"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("DOWNGRADE action should answer, got %d: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pool != models.PoolFast || resp.Notice == "" {
		t.Errorf("expected downgraded answer with notice: %+v", resp)
	}
}

func TestAskAutoUsesAnswerCache(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Caches.Answer.Enabled = true
	})

	body := `{"tier":"auto","question":"你好"}`
	w := doJSON(t, env.srv, http.MethodPost, "/v1/ask", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var first askResponse
	json.Unmarshal(w.Body.Bytes(), &first)
	if first.Cached {
		t.Error("first answer should not be cached")
	}

	w = doJSON(t, env.srv, http.MethodPost, "/v1/ask", body)
	var second askResponse
	json.Unmarshal(w.Body.Bytes(), &second)
	if !second.Cached || second.Answer != first.Answer {
		t.Errorf("second answer should come from the cache: %+v", second)
	}
	if env.fast.calls.Load() != 1 {
		t.Errorf("cached ask should not dispatch again, got %d calls", env.fast.calls.Load())
	}
}

func TestAdminCommandACL(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.ACL.Commands = map[string]config.ACLList{
			"judge_stats": {Whitelist: []string{"admin-sess"}},
		}
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-whitelisted session, got %d", w.Code)
	}

	// Other commands stay open.
	w = doJSON(t, env.srv, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for status, got %d", w.Code)
	}
}

func TestLockEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/lock",
		`{"session":"sess-1","pool":"HIGH","turns":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("lock set failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.srv, http.MethodGet, "/v1/lock?session=sess-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("lock status failed: %d", w.Code)
	}
	var l lock.Lock
	json.Unmarshal(w.Body.Bytes(), &l)
	if l.Pool != models.PoolHigh || l.Turns != 2 {
		t.Errorf("unexpected lock: %+v", l)
	}

	w = doJSON(t, env.srv, http.MethodDelete, "/v1/lock?session=sess-1", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "true") {
		t.Errorf("unlock failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.srv, http.MethodGet, "/v1/lock?session=sess-1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after unlock, got %d", w.Code)
	}
}

func TestJudgeEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/judge", `{"message":"这个算法怎么优化"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var class models.Classification
	json.Unmarshal(w.Body.Bytes(), &class)
	if class.Decision != models.DecisionHigh || class.Source != models.SourceRule {
		t.Errorf("unexpected classification: %+v", class)
	}
}

func TestRulesEndpointRebuildsRuleset(t *testing.T) {
	env := newTestEnv(t, nil)
	neutral := "雨后的青蛙跳进池塘"

	w := doJSON(t, env.srv, http.MethodPost, "/v1/judge", `{"message":"`+neutral+`"}`)
	var before models.Classification
	json.Unmarshal(w.Body.Bytes(), &before)
	if before.Decision == models.DecisionHigh && before.Source == models.SourceRule {
		t.Fatalf("neutral message should not be a HIGH rule hit yet: %+v", before)
	}

	w = doJSON(t, env.srv, http.MethodPost, "/v1/rules", `{"pool":"high","keyword":"青蛙"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rule add failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, env.srv, http.MethodPost, "/v1/judge", `{"message":"`+neutral+`"}`)
	var after models.Classification
	json.Unmarshal(w.Body.Bytes(), &after)
	if after.Decision != models.DecisionHigh || after.Source != models.SourceRule {
		t.Errorf("custom keyword should force a HIGH rule hit: %+v", after)
	}

	w = doJSON(t, env.srv, http.MethodDelete, "/v1/rules", `{"pool":"high","keyword":"青蛙"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rule delete failed: %d", w.Code)
	}
	w = doJSON(t, env.srv, http.MethodGet, "/v1/rules", "")
	if strings.Contains(w.Body.String(), "青蛙") {
		t.Errorf("deleted keyword still listed: %s", w.Body.String())
	}
}

func TestDryRunDoesNotConsumeLock(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.locks.Set("sess-1", models.ScopeAll, models.PoolHigh, 2, models.Target{})

	w := doJSON(t, env.srv, http.MethodPost, "/v1/dryrun", `{"message":"你好"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var route engine.Route
	json.Unmarshal(w.Body.Bytes(), &route)
	if !route.LockUsed || route.FinalPool != models.PoolHigh {
		t.Errorf("dry run should observe the lock: %+v", route)
	}

	if l, ok := env.srv.locks.Get("sess-1", models.ScopeAll); !ok || l.Turns != 2 {
		t.Errorf("dry run must not consume lock turns: %+v ok=%v", l, ok)
	}
}

func TestExplainEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/explain?session=sess-1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any routing, got %d", w.Code)
	}

	doJSON(t, env.srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"你好"}]}`)

	w = doJSON(t, env.srv, http.MethodGet, "/v1/explain?session=sess-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var lr models.LastRoute
	json.Unmarshal(w.Body.Bytes(), &lr)
	if lr.FinalPool != models.PoolFast || lr.Message != "你好" {
		t.Errorf("unexpected last route: %+v", lr)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	doJSON(t, env.srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"你好"}]}`)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "router_total") {
		t.Errorf("expected counters in stats body: %s", w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Health.Timeout = time.Second
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var results []models.ProbeResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 probe results, got %d", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Errorf("fake providers should pass probes: %+v", r)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	w := doJSON(t, env.srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", w.Code)
	}
}
