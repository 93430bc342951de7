package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tierd-ai/tierd/pkg/models"
)

// Tool argument structs.

type judgeArgs struct {
	Message string `json:"message"`
}

type sessionArgs struct {
	Session string `json:"session"`
}

type statsArgs struct {
	Recent int `json:"recent"`
}

type lockArgs struct {
	Session string `json:"session"`
	Scope   string `json:"scope"`
	Pool    string `json:"pool"`
	Turns   int    `json:"turns"`
	Target  string `json:"target"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"judge_message":  handleJudgeMessage,
	"router_stats":   handleRouterStats,
	"route_explain":  handleRouteExplain,
	"session_lock":   handleSessionLock,
	"session_unlock": handleSessionUnlock,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "judge_message",
		Description: "Classify a message as HIGH or FAST and show which layer decided and why.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"message"},
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The message text to classify",
				},
			},
		},
	},
	{
		Name:        "router_stats",
		Description: "Show routing counters, recent dispatch outcomes, and circuit breaker state.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recent": map[string]any{
					"type":        "integer",
					"description": "How many recent outcomes to include (optional, default 10)",
				},
			},
		},
	},
	{
		Name:        "route_explain",
		Description: "Explain the most recent routing decision for a session.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"session"},
			"properties": map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "The session key to inspect",
				},
			},
		},
	},
	{
		Name:        "session_lock",
		Description: "Pin a session to a pool or a specific provider:model for a number of turns.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"session"},
			"properties": map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "The session key to lock",
				},
				"scope": map[string]any{
					"type":        "string",
					"description": "Lock scope: all, router, or cmd (optional, default all)",
				},
				"pool": map[string]any{
					"type":        "string",
					"description": "Pool to pin: HIGH or FAST (optional when target is set)",
				},
				"turns": map[string]any{
					"type":        "integer",
					"description": "Number of routed turns the lock lasts (optional, default 5)",
				},
				"target": map[string]any{
					"type":        "string",
					"description": "Exact provider:model to pin, bypassing selection (optional)",
				},
			},
		},
	},
	{
		Name:        "session_unlock",
		Description: "Remove a session's routing lock.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"session"},
			"properties": map[string]any{
				"session": map[string]any{
					"type":        "string",
					"description": "The session key to unlock",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleJudgeMessage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args judgeArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if strings.TrimSpace(args.Message) == "" {
		return errorResult("message is required")
	}
	class := s.classifier.Classify(ctx, args.Message)
	return textResult(formatClassification(args.Message, class))
}

func handleRouterStats(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args statsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	n := args.Recent
	if n <= 0 {
		n = 10
	}

	var b strings.Builder
	b.WriteString(formatCounters(s.stats.Counters()))
	b.WriteString("\n")
	b.WriteString(formatOutcomes(s.stats.Recent(n)))
	if s.breaker != nil {
		b.WriteString("\n")
		b.WriteString(formatBreaker(s.breaker.Snapshot()))
	}
	return textResult(b.String())
}

func handleRouteExplain(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sessionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Session == "" {
		return errorResult("session is required")
	}
	lr, ok := s.stats.LastRoute(args.Session)
	if !ok {
		return textResult("No routed messages recorded for this session.")
	}
	return textResult(formatLastRoute(args.Session, lr))
}

func handleSessionLock(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args lockArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Session == "" {
		return errorResult("session is required")
	}
	if args.Pool == "" && args.Target == "" {
		return errorResult("either pool or target is required")
	}

	var target models.Target
	if args.Target != "" {
		p, m, _ := strings.Cut(args.Target, ":")
		if p == "" {
			return errorResult("target must be provider:model")
		}
		target = models.Target{ProviderID: p, Model: m}
	}

	var pool models.Pool
	if args.Pool != "" {
		pool = models.ParsePool(args.Pool)
	}

	l := s.locks.Set(args.Session, models.ParseScope(args.Scope), pool, args.Turns, target)
	return textResult(formatLock(l))
}

func handleSessionUnlock(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args sessionArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Session == "" {
		return errorResult("session is required")
	}
	if s.locks.Clear(args.Session) {
		return textResult("Lock removed for session " + args.Session + ".")
	}
	return textResult("No lock found for session " + args.Session + ".")
}
