package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

const defaultTimeout = 60 * time.Second

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	id      string
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTP builds a provider from its config entry.
func NewHTTP(cfg config.ProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		id:      cfg.ID,
		url:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (p *HTTPProvider) ID() string {
	return p.id
}

// Complete posts a chat completion. Upstream failures are reported as a
// Reply with role "err" alongside the error so callers can feed the
// circuit breaker without inspecting error types.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]models.ChatMessage, 0, len(req.Context)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, models.ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Context...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(models.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return Reply{Role: RoleErr}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Reply{Role: RoleErr}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Reply{Role: RoleErr}, fmt.Errorf("provider %s: %w", p.id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Reply{Role: RoleErr}, fmt.Errorf("provider %s: read response: %w", p.id, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{Role: RoleErr}, fmt.Errorf("provider %s: upstream status %d", p.id, resp.StatusCode)
	}

	var completion models.ChatCompletionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return Reply{Role: RoleErr}, fmt.Errorf("provider %s: decode response: %w", p.id, err)
	}
	if len(completion.Choices) == 0 {
		return Reply{Role: RoleErr}, fmt.Errorf("provider %s: no choices in response", p.id)
	}

	choice := completion.Choices[0].Message
	role := choice.Role
	if role == "" {
		role = "assistant"
	}
	return Reply{Text: choice.Content, Role: role, Usage: completion.Usage}, nil
}
