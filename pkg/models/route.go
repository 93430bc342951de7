package models

import "time"

// Target identifies a specific provider and model in a pool.
type Target struct {
	ProviderID string `json:"provider_id" yaml:"provider_id"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Key returns the circuit-breaker key for the target.
func (t Target) Key() string {
	return t.ProviderID + ":" + t.Model
}

// RouteMeta records pre-failover selection details for observability.
type RouteMeta struct {
	CBSkipped      bool   `json:"cb_skipped"`
	CBPoolFallback bool   `json:"cb_pool_fallback"`
	OriginalTarget Target `json:"original_target"`
}

// Selection is the outcome of pool and provider resolution for one message.
type Selection struct {
	Pool     Pool      `json:"pool"`
	Policy   Policy    `json:"policy,omitempty"`
	LockUsed bool      `json:"lock_used"`
	Target   Target    `json:"target"`
	Meta     RouteMeta `json:"meta"`
}

// LastRoute is the per-session snapshot of the most recent routed interaction.
type LastRoute struct {
	At            time.Time      `json:"at"`
	Scope         Scope          `json:"scope"`
	Message       string         `json:"message"`
	Class         Classification `json:"class"`
	BasePool      Pool           `json:"base_pool"`
	DesiredPool   Pool           `json:"desired_pool"`
	FinalPool     Pool           `json:"final_pool"`
	Policy        Policy         `json:"policy,omitempty"`
	BudgetBlocked bool           `json:"budget_blocked"`
	LockUsed      bool           `json:"lock_used"`
	Target        Target         `json:"target"`
	Meta          RouteMeta      `json:"meta"`
}

// Outcome is one entry in the recent-outcome ring buffer.
type Outcome struct {
	At            time.Time      `json:"at"`
	OK            bool           `json:"ok"`
	Role          string         `json:"role,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
	Class         Classification `json:"class"`
	Pool          Pool           `json:"pool"`
	Policy        Policy         `json:"policy,omitempty"`
	BudgetBlocked bool           `json:"budget_blocked"`
	LockUsed      bool           `json:"lock_used"`
	Target        Target         `json:"target"`
	Meta          RouteMeta      `json:"meta"`
}

// ProbeResult is the outcome of one health probe against a target.
type ProbeResult struct {
	Target   Target        `json:"target"`
	Tags     []string      `json:"tags"`
	OK       bool          `json:"ok"`
	TimedOut bool          `json:"timed_out"`
	Err      string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
	Breaker  string        `json:"breaker_state"`
}
