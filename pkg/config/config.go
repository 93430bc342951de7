// Package config loads and validates the tierd configuration file.
// A loaded Config is an immutable snapshot: reload paths build a fresh
// Config and swap the reference instead of mutating fields in place.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tierd-ai/tierd/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all tierd configuration.
type Config struct {
	Listen    string             `yaml:"listen"`
	Enabled   bool               `yaml:"enabled"`
	Providers []ProviderConfig   `yaml:"providers"`
	Judge     JudgeConfig        `yaml:"judge"`
	Pools     PoolsConfig        `yaml:"pools"`
	Rules     RulesConfig        `yaml:"rules"`
	Caches    CachesConfig       `yaml:"caches"`
	ACL       ACLConfig          `yaml:"acl"`
	Policy    PolicyConfig       `yaml:"policy"`
	Budget    BudgetConfig       `yaml:"budget"`
	Locks     LockConfig         `yaml:"locks"`
	Stats     StatsConfig        `yaml:"stats"`
	Pending   PendingConfig      `yaml:"pending"`
	Breaker   BreakerConfig      `yaml:"breaker"`
	History   HistoryConfig      `yaml:"history"`
	Audit     models.AuditConfig `yaml:"audit"`
	Health    HealthConfig       `yaml:"health"`
}

// ProviderConfig defines an upstream LLM provider endpoint.
type ProviderConfig struct {
	ID      string        `yaml:"id"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// JudgeConfig selects and tunes the LLM-based arbiter.
type JudgeConfig struct {
	ProviderID     string        `yaml:"provider_id"`
	Model          string        `yaml:"model"`
	SystemPrompt   string        `yaml:"system_prompt"`
	PromptTemplate string        `yaml:"prompt_template"`
	Timeout        time.Duration `yaml:"timeout"`
}

// PoolsConfig lists the targets of each tier. Entries accept the
// "provider:model" string form, a {provider_id, model} mapping, or a
// [provider_id, model] sequence; see RouteSpec.
type PoolsConfig struct {
	High        []RouteSpec `yaml:"high"`
	Fast        []RouteSpec `yaml:"fast"`
	HighPolling bool        `yaml:"high_polling"`
}

// RulesConfig configures the rule classifier overlays.
type RulesConfig struct {
	PrejudgeEnabled bool     `yaml:"prejudge_enabled"`
	DefaultDecision string   `yaml:"default_decision"`
	CustomHigh      []string `yaml:"custom_high"`
	CustomFast      []string `yaml:"custom_fast"`
	SimpleAdd       []string `yaml:"simple_add"`
	SimpleRemove    []string `yaml:"simple_remove"`
	StrongAdd       []string `yaml:"strong_add"`
	StrongRemove    []string `yaml:"strong_remove"`
	WeakAdd         []string `yaml:"weak_add"`
	WeakRemove      []string `yaml:"weak_remove"`
	TriggerAdd      []string `yaml:"trigger_add"`
	TriggerRemove   []string `yaml:"trigger_remove"`
}

// CacheConfig bounds one TTL cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// CachesConfig groups the decision and answer caches.
type CachesConfig struct {
	Decision CacheConfig `yaml:"decision"`
	Answer   CacheConfig `yaml:"answer"`
}

// ACLList is one whitelist/blacklist pair. An empty whitelist admits
// everyone; the blacklist always wins.
type ACLList struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// ACLConfig holds access lists at global, router, and command scope.
// Commands maps a command name (or "*") to its own pair, layered on top
// of the shared Command lists.
type ACLConfig struct {
	Global   ACLList            `yaml:"global"`
	Router   ACLList            `yaml:"router"`
	Command  ACLList            `yaml:"command"`
	Commands map[string]ACLList `yaml:"commands"`
}

// PolicyConfig forces pools for listed caller identities.
type PolicyConfig struct {
	FastOnly       []string  `yaml:"fast_only"`
	HighOnly       []string  `yaml:"high_only"`
	FastOnlyForced RouteSpec `yaml:"fast_only_forced"`
	HighOnlyForced RouteSpec `yaml:"high_only_forced"`
	// Action when an explicit tier request collides with an opposing
	// policy: REJECT (default) or DOWNGRADE.
	FastOnlyAction string `yaml:"fast_only_action"`
	HighOnlyAction string `yaml:"high_only_action"`
	NoticeEnabled  bool   `yaml:"notice_enabled"`
}

// BudgetRatios holds the HIGH-trigger percentage per budget mode.
type BudgetRatios struct {
	Economy  int `yaml:"economy"`
	Balanced int `yaml:"balanced"`
	Flagship int `yaml:"flagship"`
}

// BudgetConfig controls probabilistic HIGH throttling. Overrides map a
// session, group, or sender key to a mode name.
type BudgetConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Mode      string            `yaml:"mode"`
	Ratios    BudgetRatios      `yaml:"ratios"`
	Overrides map[string]string `yaml:"overrides"`
}

// LockConfig controls session locks.
type LockConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// StatsConfig controls the in-memory stats recorder.
type StatsConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRecords int  `yaml:"max_records"`
}

// PendingConfig bounds the pending-call bookkeeping table.
type PendingConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BreakerConfig controls the circuit breaker and cross-pool failover.
type BreakerConfig struct {
	Enabled      bool `yaml:"enabled"`
	PoolFallback bool `yaml:"pool_fallback"`
}

// HistoryConfig controls the optional conversation store.
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DBPath   string `yaml:"db_path"`
	MaxTurns int    `yaml:"max_turns"`
}

// HealthConfig bounds provider probing.
type HealthConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Enabled: true,
		Judge: JudgeConfig{
			Timeout: 30 * time.Second,
		},
		Pools: PoolsConfig{
			HighPolling: true,
		},
		Rules: RulesConfig{
			PrejudgeEnabled: true,
		},
		Caches: CachesConfig{
			Decision: CacheConfig{Enabled: true, TTL: 10 * time.Minute, MaxEntries: 500},
			Answer:   CacheConfig{Enabled: false, TTL: 5 * time.Minute, MaxEntries: 200},
		},
		Policy: PolicyConfig{
			FastOnlyAction: "REJECT",
			HighOnlyAction: "REJECT",
			NoticeEnabled:  true,
		},
		Budget: BudgetConfig{
			Enabled: false,
			Mode:    "BALANCED",
			Ratios:  BudgetRatios{Economy: 20, Balanced: 60, Flagship: 95},
		},
		Locks: LockConfig{Enabled: true, TTL: time.Hour},
		Stats: StatsConfig{Enabled: true, MaxRecords: 200},
		Pending: PendingConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Breaker: BreakerConfig{Enabled: true, PoolFallback: true},
		History: HistoryConfig{DBPath: "tierd.db", MaxTurns: 10},
		Audit:   models.AuditConfig{DBPath: "tierd.db", RetentionDays: 30},
		Health: HealthConfig{
			Timeout:        8 * time.Second,
			MaxConcurrency: 3,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize trims list entries and clamps knobs to their floors.
func (c *Config) normalize() {
	c.Rules.CustomHigh = cleanList(c.Rules.CustomHigh)
	c.Rules.CustomFast = cleanList(c.Rules.CustomFast)
	c.ACL.Global.Whitelist = cleanList(c.ACL.Global.Whitelist)
	c.ACL.Global.Blacklist = cleanList(c.ACL.Global.Blacklist)
	c.ACL.Router.Whitelist = cleanList(c.ACL.Router.Whitelist)
	c.ACL.Router.Blacklist = cleanList(c.ACL.Router.Blacklist)
	c.ACL.Command.Whitelist = cleanList(c.ACL.Command.Whitelist)
	c.ACL.Command.Blacklist = cleanList(c.ACL.Command.Blacklist)
	c.Policy.FastOnly = cleanList(c.Policy.FastOnly)
	c.Policy.HighOnly = cleanList(c.Policy.HighOnly)

	if c.Locks.TTL < time.Minute {
		c.Locks.TTL = time.Minute
	}
	c.Budget.Mode = strings.ToUpper(c.Budget.Mode)
	if !validBudgetMode(c.Budget.Mode) {
		c.Budget.Mode = "BALANCED"
	}
	if c.Stats.MaxRecords <= 0 {
		c.Stats.MaxRecords = 200
	}
	if c.Pending.TTL <= 0 {
		c.Pending.TTL = 5 * time.Minute
	}
	if c.Pending.SweepInterval <= 0 {
		c.Pending.SweepInterval = time.Minute
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 8 * time.Second
	}
	if c.Health.MaxConcurrency <= 0 {
		c.Health.MaxConcurrency = 3
	}
}

// Validate reports hard errors and non-fatal warnings.
func (c *Config) Validate() (warnings []string, err error) {
	if c.Judge.ProviderID == "" {
		warnings = append(warnings, "judge.provider_id is empty: classification falls back to rules only")
	}
	if len(c.Pools.High) == 0 {
		warnings = append(warnings, "pools.high is empty")
	}
	if len(c.Pools.Fast) == 0 {
		warnings = append(warnings, "pools.fast is empty")
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return warnings, fmt.Errorf("providers[%d]: id is required", i)
		}
		if p.URL == "" {
			return warnings, fmt.Errorf("provider %q: url is required", p.ID)
		}
		if ids[p.ID] {
			return warnings, fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		ids[p.ID] = true
	}
	for _, t := range c.PoolTargets(models.PoolHigh) {
		if !ids[t.ProviderID] {
			warnings = append(warnings, fmt.Sprintf("pools.high references unknown provider %q", t.ProviderID))
		}
	}
	for _, t := range c.PoolTargets(models.PoolFast) {
		if !ids[t.ProviderID] {
			warnings = append(warnings, fmt.Sprintf("pools.fast references unknown provider %q", t.ProviderID))
		}
	}
	if c.Judge.ProviderID != "" && !ids[c.Judge.ProviderID] {
		warnings = append(warnings, fmt.Sprintf("judge.provider_id %q does not match any provider", c.Judge.ProviderID))
	}

	if a := strings.ToUpper(c.Policy.FastOnlyAction); a != "REJECT" && a != "DOWNGRADE" {
		return warnings, fmt.Errorf("policy.fast_only_action: want REJECT or DOWNGRADE, got %q", c.Policy.FastOnlyAction)
	}
	if a := strings.ToUpper(c.Policy.HighOnlyAction); a != "REJECT" && a != "DOWNGRADE" {
		return warnings, fmt.Errorf("policy.high_only_action: want REJECT or DOWNGRADE, got %q", c.Policy.HighOnlyAction)
	}
	for caller, mode := range c.Budget.Overrides {
		if !validBudgetMode(strings.ToUpper(mode)) {
			warnings = append(warnings, fmt.Sprintf("budget.overrides[%q]: unknown mode %q ignored", caller, mode))
		}
	}
	return warnings, nil
}

// PoolTargets returns the configured (provider, model) pairs of a pool,
// skipping entries that failed to parse.
func (c *Config) PoolTargets(pool models.Pool) []models.Target {
	specs := c.Pools.Fast
	if pool == models.PoolHigh {
		specs = c.Pools.High
	}
	targets := make([]models.Target, 0, len(specs))
	for _, s := range specs {
		if s.ProviderID == "" {
			continue
		}
		targets = append(targets, models.Target(s))
	}
	return targets
}

// RatioFor returns the clamped HIGH-trigger percentage for a budget mode.
func (c *Config) RatioFor(mode string) int {
	var ratio int
	switch strings.ToUpper(mode) {
	case "ECONOMY":
		ratio = c.Budget.Ratios.Economy
	case "FLAGSHIP":
		ratio = c.Budget.Ratios.Flagship
	default:
		ratio = c.Budget.Ratios.Balanced
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 100 {
		return 100
	}
	return ratio
}

func validBudgetMode(mode string) bool {
	switch mode {
	case "ECONOMY", "BALANCED", "FLAGSHIP":
		return true
	}
	return false
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
