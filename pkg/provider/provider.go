// Package provider defines the upstream LLM provider contract and an
// OpenAI-compatible HTTP implementation.
package provider

import (
	"context"
	"errors"

	"github.com/tierd-ai/tierd/pkg/models"
)

// RoleErr on a Reply signals dispatch failure to the circuit breaker.
const RoleErr = "err"

// ErrProviderNotFound is returned when a provider id resolves to nothing.
var ErrProviderNotFound = errors.New("provider not found")

// Request is one completion call.
type Request struct {
	Prompt       string
	SystemPrompt string
	Context      []models.ChatMessage
	// Model overrides the provider's default model when non-empty.
	Model string
}

// Reply is a completion result. Role "err" means the call failed in a
// way the caller should count against the target.
type Reply struct {
	Text  string
	Role  string
	Usage *models.Usage
}

// OK reports whether the reply represents a successful completion.
func (r Reply) OK() bool {
	return r.Role != RoleErr
}

// Provider executes completions against one upstream backend.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req Request) (Reply, error)
}
