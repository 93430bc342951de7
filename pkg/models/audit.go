package models

import "time"

// AuditConfig controls the optional route audit log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AuditEntry is one routed outcome persisted to the audit log.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	SessionHash   string    `json:"session_hash"`
	SessionPrefix string    `json:"session_prefix"`
	Decision      Decision  `json:"decision"`
	Source        Source    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
	DesiredPool   Pool      `json:"desired_pool"`
	FinalPool     Pool      `json:"final_pool"`
	Policy        Policy    `json:"policy,omitempty"`
	BudgetBlocked bool      `json:"budget_blocked"`
	LockUsed      bool      `json:"lock_used"`
	CBSkipped     bool      `json:"cb_skipped"`
	ProviderID    string    `json:"provider_id"`
	Model         string    `json:"model,omitempty"`
	OK            bool      `json:"ok"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditQueryOpts filters audit log queries.
type AuditQueryOpts struct {
	SessionPrefix string
	Decision      Decision
	Since         time.Time
	Limit         int
}

// AuditStat is an aggregate count per decision per day.
type AuditStat struct {
	Decision Decision `json:"decision"`
	Day      string   `json:"day"`
	Count    int64    `json:"count"`
}
