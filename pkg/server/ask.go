package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tierd-ai/tierd/pkg/engine"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/text"
)

const (
	systemPromptHigh = "你是一个智能助手,请认真、详细地回答用户的问题。"
	systemPromptFast = "你是一个智能助手,请简洁地回答用户的问题。"

	noticeDowngraded = "已按策略限制降级为快速模型"
	noticeUpgraded   = "已按策略限制升级为高智商模型"
)

type askRequest struct {
	Tier     string `json:"tier"`
	Question string `json:"question"`
}

type askResponse struct {
	RequestID     string                `json:"request_id"`
	Answer        string                `json:"answer"`
	Pool          models.Pool           `json:"pool"`
	Class         models.Classification `json:"class,omitempty"`
	Policy        models.Policy         `json:"policy,omitempty"`
	BudgetBlocked bool                  `json:"budget_blocked,omitempty"`
	LockUsed      bool                  `json:"lock_used,omitempty"`
	Provider      string                `json:"provider"`
	Model         string                `json:"model,omitempty"`
	Notice        string                `json:"notice,omitempty"`
	Cached        bool                  `json:"cached,omitempty"`
}

// handleAsk answers a question on an explicit or auto-selected tier.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req askRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}

	tier := strings.ToLower(req.Tier)
	if tier == "" {
		tier = "auto"
	}
	id := identityFrom(r)

	switch tier {
	case "high":
		if !s.allowCommand(w, r, "ask_high") {
			return
		}
		s.askFixed(w, r, id, req.Question, models.PoolHigh)
	case "fast":
		if !s.allowCommand(w, r, "ask_fast") {
			return
		}
		s.askFixed(w, r, id, req.Question, models.PoolFast)
	case "auto":
		if !s.allowCommand(w, r, "ask_smart") {
			return
		}
		s.askAuto(w, r, id, req.Question)
	default:
		writeJSONError(w, http.StatusBadRequest, "tier must be high, fast, or auto")
	}
}

// askFixed serves an explicit-tier question, applying the opposing
// policy's reject-or-downgrade action.
func (s *Server) askFixed(w http.ResponseWriter, r *http.Request, id models.Identity, question string, want models.Pool) {
	_, policy := s.selector.ResolvePool(id.Session, want)

	notice := ""
	desired := want
	switch {
	case want == models.PoolHigh && policy == models.PolicyFastOnly:
		if strings.ToUpper(s.cfg.Policy.FastOnlyAction) != "DOWNGRADE" {
			writeJSONError(w, http.StatusForbidden, "session is restricted to the fast pool")
			return
		}
		desired = models.PoolFast
		if s.cfg.Policy.NoticeEnabled {
			notice = noticeDowngraded
		}
	case want == models.PoolFast && policy == models.PolicyHighOnly:
		if strings.ToUpper(s.cfg.Policy.HighOnlyAction) != "DOWNGRADE" {
			writeJSONError(w, http.StatusForbidden, "session is restricted to the high pool")
			return
		}
		desired = models.PoolHigh
		if s.cfg.Policy.NoticeEnabled {
			notice = noticeUpgraded
		}
	}

	sel := s.selector.Select(id.Session, models.ScopeCmd, desired)
	s.answer(w, r, id, question, models.Classification{}, sel, false, notice)
}

// askAuto classifies the question, applies the budget limiter, and
// routes like the hook path but in command scope.
func (s *Server) askAuto(w http.ResponseWriter, r *http.Request, id models.Identity, question string) {
	class := s.arbiter.Classify(r.Context(), question)

	desired := models.PoolFast
	if class.Decision == models.DecisionHigh {
		desired = models.PoolHigh
	}
	budgetBlocked := false
	if desired == models.PoolHigh && !s.budget.AllowedHigh(id) {
		desired = models.PoolFast
		budgetBlocked = true
	}

	sel := s.selector.Select(id.Session, models.ScopeCmd, desired)

	notice := ""
	if s.cfg.Policy.NoticeEnabled && sel.Pool != desired {
		switch sel.Policy {
		case models.PolicyFastOnly:
			notice = noticeDowngraded
		case models.PolicyHighOnly:
			notice = noticeUpgraded
		}
	}
	s.answer(w, r, id, question, class, sel, budgetBlocked, notice)
}

// answer dispatches the question to the selected target, consulting the
// answer cache and the conversation store.
func (s *Server) answer(w http.ResponseWriter, r *http.Request, id models.Identity, question string, class models.Classification, sel models.Selection, budgetBlocked bool, notice string) {
	if sel.Target.ProviderID == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "selected pool has no configured providers")
		return
	}

	systemPrompt := systemPromptFast
	if sel.Pool == models.PoolHigh {
		systemPrompt = systemPromptHigh
	}

	requestID := uuid.NewString()
	resp := askResponse{
		RequestID:     requestID,
		Pool:          sel.Pool,
		Class:         class,
		Policy:        sel.Policy,
		BudgetBlocked: budgetBlocked,
		LockUsed:      sel.LockUsed,
		Provider:      sel.Target.ProviderID,
		Model:         sel.Target.Model,
		Notice:        notice,
	}

	// The answer cache only applies while conversation context is off:
	// with context on, identical questions can need different answers.
	useHistory := s.cfg.History.Enabled && s.history != nil
	normalized := text.Normalize(question)
	cacheKey := ""
	if s.cfg.Caches.Answer.Enabled && !useHistory && normalized != "" {
		cacheKey = "answer:" + sel.Target.Key() + ":" + text.Normalize(systemPrompt) + ":" + normalized
		if answer, ok := s.answers.Get(cacheKey); ok {
			resp.Answer = answer
			resp.Cached = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	var prior []models.ChatMessage
	var conversationID string
	if useHistory {
		if cid, err := s.history.Current(r.Context(), id.Session); err == nil {
			conversationID = cid
			prior, _ = s.history.Turns(r.Context(), cid)
		}
	}

	start := time.Now()
	reply, err := s.dispatch(r.Context(), sel.Target, provider.Request{
		Prompt:       question,
		SystemPrompt: systemPrompt,
		Context:      prior,
		Model:        sel.Target.Model,
	})
	s.selector.Breaker().OnOutcome(sel.Target, reply.OK())
	s.logAudit(requestID, id, engine.Route{
		Applied:       true,
		Class:         class,
		DesiredPool:   sel.Pool,
		FinalPool:     sel.Pool,
		Policy:        sel.Policy,
		BudgetBlocked: budgetBlocked,
		LockUsed:      sel.LockUsed,
		Target:        sel.Target,
		Meta:          sel.Meta,
	}, sel.Target, reply.OK(), time.Since(start))

	if err != nil || !reply.OK() {
		writeJSONError(w, http.StatusBadGateway, "upstream provider failed")
		return
	}

	if cacheKey != "" {
		s.answers.Set(cacheKey, reply.Text, s.cfg.Caches.Answer.TTL, s.cfg.Caches.Answer.MaxEntries)
	}
	if conversationID != "" {
		if err := s.history.Append(r.Context(), conversationID, question, reply.Text); err != nil {
			log.Printf("server: history append: %v", err)
		}
	}

	resp.Answer = reply.Text
	writeJSON(w, http.StatusOK, resp)
}
