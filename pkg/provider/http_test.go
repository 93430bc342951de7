package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
)

func completionServer(t *testing.T, handler func(w http.ResponseWriter, req models.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req models.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSuccess(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, req models.ChatCompletionRequest) {
		if req.Model != "gpt-4o" {
			t.Errorf("model = %s, want gpt-4o", req.Model)
		}
		if req.Messages[0].Role != "system" || req.Messages[len(req.Messages)-1].Content != "hi" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Choices: []models.Choice{{Message: models.ChatMessage{Role: "assistant", Content: "hello"}}},
		})
	})

	p := NewHTTP(config.ProviderConfig{ID: "p1", URL: srv.URL, APIKey: "k"})
	reply, err := p.Complete(context.Background(), Request{
		Prompt:       "hi",
		SystemPrompt: "be brief",
		Model:        "gpt-4o",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.OK() || reply.Text != "hello" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ models.ChatCompletionRequest) {
		w.WriteHeader(http.StatusBadGateway)
	})

	p := NewHTTP(config.ProviderConfig{ID: "p1", URL: srv.URL})
	reply, err := p.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if reply.OK() {
		t.Error("failed call must carry role err")
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ models.ChatCompletionRequest) {
		time.Sleep(200 * time.Millisecond)
	})

	p := NewHTTP(config.ProviderConfig{ID: "p1", URL: srv.URL, Timeout: 20 * time.Millisecond})
	reply, err := p.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if reply.Role != RoleErr {
		t.Errorf("role = %s, want err", reply.Role)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ models.ChatCompletionRequest) {
		json.NewEncoder(w).Encode(models.ChatCompletionResponse{})
	})

	p := NewHTTP(config.ProviderConfig{ID: "p1", URL: srv.URL})
	if _, err := p.Complete(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry([]config.ProviderConfig{
		{ID: "a", URL: "http://a"},
		{ID: "b", URL: "http://b"},
		{URL: "http://no-id"},
	})

	if _, ok := r.Resolve("a"); !ok {
		t.Error("expected provider a")
	}
	if _, ok := r.Resolve("missing"); ok {
		t.Error("unknown id should not resolve")
	}
	if len(r.IDs()) != 2 {
		t.Errorf("expected 2 providers, got %v", r.IDs())
	}
}
