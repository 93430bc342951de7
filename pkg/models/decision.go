package models

// Decision is the outcome of message complexity classification.
type Decision string

const (
	DecisionHigh    Decision = "HIGH"
	DecisionFast    Decision = "FAST"
	DecisionUnknown Decision = "UNKNOWN"
)

// Definitive reports whether the decision is HIGH or FAST.
func (d Decision) Definitive() bool {
	return d == DecisionHigh || d == DecisionFast
}

// Pool names a tier of interchangeable model backends.
type Pool string

const (
	PoolHigh Pool = "HIGH"
	PoolFast Pool = "FAST"
)

// ParsePool maps a raw string to a pool, defaulting to FAST.
func ParsePool(s string) Pool {
	if Pool(s) == PoolHigh {
		return PoolHigh
	}
	return PoolFast
}

// Policy is a forced pool restriction applying to a caller identity.
type Policy string

const (
	PolicyNone     Policy = ""
	PolicyFastOnly Policy = "FAST_ONLY"
	PolicyHighOnly Policy = "HIGH_ONLY"
)

// Scope limits which routed interactions a session lock applies to.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeRouter Scope = "router"
	ScopeCmd    Scope = "cmd"
)

// ParseScope maps a raw string to a scope, defaulting to all.
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeRouter:
		return ScopeRouter
	case ScopeCmd:
		return ScopeCmd
	default:
		return ScopeAll
	}
}

// Source identifies which classification layer produced a decision.
type Source string

const (
	SourceRule     Source = "rule"
	SourceCache    Source = "cache"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Classification is the immutable result of classifying one message.
type Classification struct {
	Decision Decision `json:"decision"`
	Source   Source   `json:"source"`
	Reason   string   `json:"reason,omitempty"`
}
