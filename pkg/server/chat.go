package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tierd-ai/tierd/pkg/audit"
	"github.com/tierd-ai/tierd/pkg/engine"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
)

const maxRequestBody = 10 << 20

// handleChatCompletions routes an OpenAI-compatible completion request
// through the engine and dispatches it to the selected target.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
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

	var req models.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message, prior := splitMessages(req.Messages)
	if message == "" {
		writeJSONError(w, http.StatusBadRequest, "no user message")
		return
	}

	id := identityFrom(r)
	requestID := uuid.NewString()
	start := time.Now()

	route := s.engine.BeforeDispatch(r.Context(), id, requestID, message)
	target := route.Target
	if target.ProviderID == "" {
		// Routing disabled or nothing selected: fall back to the first
		// FAST target so the endpoint still answers.
		targets := s.cfg.PoolTargets(models.PoolFast)
		if len(targets) == 0 {
			writeJSONError(w, http.StatusServiceUnavailable, "no providers available")
			return
		}
		target = targets[0]
	}

	reply, err := s.dispatch(r.Context(), target, provider.Request{
		Prompt:  message,
		Context: prior,
		Model:   target.Model,
	})
	s.engine.AfterDispatch(requestID, reply.Role)
	s.logAudit(requestID, id, route, target, reply.OK(), time.Since(start))

	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream provider failed")
		return
	}

	w.Header().Set("X-Tierd-Pool", string(route.FinalPool))
	w.Header().Set("X-Tierd-Provider", target.ProviderID)
	writeJSON(w, http.StatusOK, models.ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: start.Unix(),
		Model:   target.Model,
		Choices: []models.Choice{{
			Message:      models.ChatMessage{Role: "assistant", Content: reply.Text},
			FinishReason: "stop",
		}},
		Usage: reply.Usage,
	})
}

// dispatch resolves the target provider and runs the completion. Every
// failure path yields a Reply with role "err" so the breaker and stats
// see it.
func (s *Server) dispatch(ctx context.Context, target models.Target, req provider.Request) (provider.Reply, error) {
	p, ok := s.registry.Resolve(target.ProviderID)
	if !ok {
		return provider.Reply{Role: provider.RoleErr}, provider.ErrProviderNotFound
	}
	reply, err := p.Complete(ctx, req)
	if err != nil {
		log.Printf("server: dispatch to %s failed: %v", target.Key(), err)
	}
	return reply, err
}

// logAudit writes the routed outcome to the audit log off the request path.
func (s *Server) logAudit(requestID string, id models.Identity, route engine.Route, target models.Target, ok bool, elapsed time.Duration) {
	if s.auditor == nil || !s.cfg.Audit.Enabled {
		return
	}
	hash, prefix := audit.HashSession(id.Session)
	entry := models.AuditEntry{
		RequestID:     requestID,
		SessionHash:   hash,
		SessionPrefix: prefix,
		Decision:      route.Class.Decision,
		Source:        route.Class.Source,
		Reason:        route.Class.Reason,
		DesiredPool:   route.DesiredPool,
		FinalPool:     route.FinalPool,
		Policy:        route.Policy,
		BudgetBlocked: route.BudgetBlocked,
		LockUsed:      route.LockUsed,
		CBSkipped:     route.Meta.CBSkipped,
		ProviderID:    target.ProviderID,
		Model:         target.Model,
		OK:            ok,
		LatencyMs:     elapsed.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	go func() {
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			log.Printf("server: audit log error: %v", err)
		}
	}()
}

// splitMessages returns the last user message and everything before it.
func splitMessages(msgs []models.ChatMessage) (string, []models.ChatMessage) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content, msgs[:i]
		}
	}
	return "", nil
}
