package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tierd-ai/tierd/pkg/models"
)

// handleStatus reports feature flags and pool sizes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_status") {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          s.cfg.Enabled,
		"prejudge_enabled": s.cfg.Rules.PrejudgeEnabled,
		"judge_provider":   s.cfg.Judge.ProviderID,
		"judge_model":      s.cfg.Judge.Model,
		"high_pool_size":   len(s.cfg.PoolTargets(models.PoolHigh)),
		"fast_pool_size":   len(s.cfg.PoolTargets(models.PoolFast)),
		"high_polling":     s.cfg.Pools.HighPolling,
		"decision_cache":   s.cfg.Caches.Decision.Enabled,
		"answer_cache":     s.cfg.Caches.Answer.Enabled,
		"budget_enabled":   s.cfg.Budget.Enabled,
		"budget_mode":      s.cfg.Budget.Mode,
		"locks_enabled":    s.cfg.Locks.Enabled,
		"breaker_enabled":  s.cfg.Breaker.Enabled,
		"pool_fallback":    s.cfg.Breaker.PoolFallback,
		"history_enabled":  s.cfg.History.Enabled,
		"stats_enabled":    s.cfg.Stats.Enabled,
		"pending":          s.engine.PendingLen(),
	})
}

// handleStats returns counters, recent outcomes, and breaker state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_stats") {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"counters": s.stats.Counters(),
		"recent":   s.stats.Recent(20),
		"breaker":  s.selector.Breaker().Snapshot(),
	})
}

// handleExplain returns the last-route snapshot for a session.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_explain") {
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = identityFrom(r).Session
	}
	if session == "" {
		writeJSONError(w, http.StatusBadRequest, "session is required")
		return
	}

	lr, ok := s.stats.LastRoute(session)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no routed messages recorded for this session")
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

type lockRequest struct {
	Session string `json:"session"`
	Scope   string `json:"scope"`
	Pool    string `json:"pool"`
	Turns   int    `json:"turns"`
	Target  string `json:"target"`
}

// handleLock lists, sets, and clears session locks.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.allowCommand(w, r, "judge_lock_status") {
			return
		}
		if session := r.URL.Query().Get("session"); session != "" {
			l, ok := s.locks.Get(session, models.ScopeAll)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no lock for session")
				return
			}
			writeJSON(w, http.StatusOK, l)
			return
		}
		writeJSON(w, http.StatusOK, s.locks.List())

	case http.MethodPost:
		if !s.allowCommand(w, r, "judge_lock") {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var req lockRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Session == "" {
			req.Session = identityFrom(r).Session
		}
		if req.Session == "" {
			writeJSONError(w, http.StatusBadRequest, "session is required")
			return
		}
		if req.Pool == "" && req.Target == "" {
			writeJSONError(w, http.StatusBadRequest, "either pool or target is required")
			return
		}

		var target models.Target
		if req.Target != "" {
			p, m, _ := strings.Cut(req.Target, ":")
			if p == "" {
				writeJSONError(w, http.StatusBadRequest, "target must be provider:model")
				return
			}
			target = models.Target{ProviderID: p, Model: m}
		}
		var pool models.Pool
		if req.Pool != "" {
			pool = models.ParsePool(req.Pool)
		}
		l := s.locks.Set(req.Session, models.ParseScope(req.Scope), pool, req.Turns, target)
		writeJSON(w, http.StatusOK, l)

	case http.MethodDelete:
		if !s.allowCommand(w, r, "judge_unlock") {
			return
		}
		session := r.URL.Query().Get("session")
		if session == "" {
			session = identityFrom(r).Session
		}
		if session == "" {
			writeJSONError(w, http.StatusBadRequest, "session is required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": s.locks.Clear(session)})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type judgeRequest struct {
	Message string `json:"message"`
}

// handleJudge classifies a message without routing it.
func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_test") {
		return
	}

	var req judgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, s.arbiter.Classify(r.Context(), req.Message))
}

// handleDryRun simulates the full routing decision without side effects.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_dryrun") {
		return
	}

	var req judgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.DryRun(r.Context(), identityFrom(r), req.Message))
}

// handleHealth probes every configured target.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.allowCommand(w, r, "judge_health") {
		return
	}
	writeJSON(w, http.StatusOK, s.health.Run(r.Context()))
}

type ruleRequest struct {
	Pool    string `json:"pool"`
	Keyword string `json:"keyword"`
}

// handleRules manages the runtime custom keyword overlay.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if !s.allowCommand(w, r, "judge_rule") {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.kwMu.Lock()
		defer s.kwMu.Unlock()
		writeJSON(w, http.StatusOK, map[string][]string{
			"custom_high": append([]string(nil), s.customHigh...),
			"custom_fast": append([]string(nil), s.customFast...),
		})

	case http.MethodPost, http.MethodDelete:
		var req ruleRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Keyword = strings.TrimSpace(req.Keyword)
		if req.Keyword == "" {
			writeJSONError(w, http.StatusBadRequest, "keyword is required")
			return
		}
		pool := models.ParsePool(strings.ToUpper(req.Pool))

		s.kwMu.Lock()
		if r.Method == http.MethodPost {
			if pool == models.PoolHigh {
				s.customHigh = addKeyword(s.customHigh, req.Keyword)
			} else {
				s.customFast = addKeyword(s.customFast, req.Keyword)
			}
		} else {
			if pool == models.PoolHigh {
				s.customHigh = removeKeyword(s.customHigh, req.Keyword)
			} else {
				s.customFast = removeKeyword(s.customFast, req.Keyword)
			}
		}
		high := append([]string(nil), s.customHigh...)
		fast := append([]string(nil), s.customFast...)
		s.kwMu.Unlock()

		// Custom keywords shadow every later layer, so stale cached
		// decisions must go.
		s.arbiter.SetCustomKeywords(high, fast)
		s.arbiter.PurgeCache()
		writeJSON(w, http.StatusOK, map[string][]string{
			"custom_high": high,
			"custom_fast": fast,
		})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func addKeyword(list []string, kw string) []string {
	for _, v := range list {
		if v == kw {
			return list
		}
	}
	return append(list, kw)
}

func removeKeyword(list []string, kw string) []string {
	out := list[:0]
	for _, v := range list {
		if v != kw {
			out = append(out, v)
		}
	}
	return out
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	r.Body.Close()
	return json.Unmarshal(body, v)
}
