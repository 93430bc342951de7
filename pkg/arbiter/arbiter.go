// Package arbiter layers message complexity classification: rule
// prejudge, then decision cache, then the LLM judge, then the reduced
// rule fallback.
package arbiter

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/tierd-ai/tierd/pkg/cache"
	"github.com/tierd-ai/tierd/pkg/classify"
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/stats"
	"github.com/tierd-ai/tierd/pkg/text"
)

const defaultSystemPrompt = "你是一个消息复杂度判断助手。只输出 HIGH 或 FAST，不要输出任何解释、标点、空格或换行。"

const defaultPromptTemplate = `你是一个"消息复杂度/成本-收益"分流器。目标是在满足用户需求的前提下尽量节省成本与时延：除非确实需要更强推理/更长上下文/更高准确性，否则优先选择 FAST。

你只做二选一分类：HIGH 或 FAST。不要输出解释、标点、空格或换行。

## 判定目标
- HIGH：任务对推理深度、正确性、稳定性、长上下文、复杂结构化输出有明显要求，FAST 高概率给出错误/不完整/不可靠结果。
- FAST：可以用简短直接回答解决；或即使略有不精确也不影响体验；或可用简单规则/常识完成。

## 关键判断维度（满足任意一条通常选 HIGH）
1) 多步推理：需要严谨推导、证明、复杂逻辑链、反例讨论、细致方案权衡。
2) 数学/算法/代码：编程实现、调试、复杂算法、SQL/正则、性能分析、边界条件多。
3) 长文本/多要点：需要总结/对比/归纳长内容，或输出结构化清单且要覆盖全面。
4) 专业/高风险：医疗/法律/金融/安全等对准确性要求高，或需要谨慎措辞与推断。
5) 明确要求"详细/深入/步骤/举例/证明/推导/完整代码/测试用例/鲁棒性"等。

## 典型 FAST 场景（满足任意一条通常选 FAST）
- 问候/闲聊/情绪安抚/短句翻译/简短定义解释。
- 单一事实或简单是非判断（不要求严谨推导）。
- 简单改写、润色、生成短回复、轻量总结（文本不长）。
- 用户问题很短且没有"深入/详细/步骤/代码/推导"等要求。

## 边界处理
- 不确定时默认 FAST，除非用户明确要求高质量/详细推理/代码/数学等。

用户消息如下：
$message

最终输出（仅一个词）：HIGH 或 FAST`

// Arbiter classifies messages. Safe for concurrent use; the ruleset can
// be swapped at runtime when keyword overlays change.
type Arbiter struct {
	cfg      *config.Config
	registry *provider.Registry
	stats    *stats.Recorder
	cache    *cache.Cache[models.Decision]

	mu      sync.RWMutex
	ruleset *classify.Ruleset
}

// New builds an Arbiter from a config snapshot.
func New(cfg *config.Config, registry *provider.Registry, rec *stats.Recorder) *Arbiter {
	return &Arbiter{
		cfg:      cfg,
		registry: registry,
		stats:    rec,
		cache:    cache.New[models.Decision](),
		ruleset:  classify.NewRuleset(rulesetOptions(cfg.Rules)),
	}
}

func rulesetOptions(rules config.RulesConfig) classify.Options {
	return classify.Options{
		CustomHigh:      rules.CustomHigh,
		CustomFast:      rules.CustomFast,
		SimpleAdd:       rules.SimpleAdd,
		SimpleRemove:    rules.SimpleRemove,
		StrongAdd:       rules.StrongAdd,
		StrongRemove:    rules.StrongRemove,
		WeakAdd:         rules.WeakAdd,
		WeakRemove:      rules.WeakRemove,
		TriggerAdd:      rules.TriggerAdd,
		TriggerRemove:   rules.TriggerRemove,
		DefaultDecision: models.Decision(strings.ToUpper(rules.DefaultDecision)),
	}
}

// Ruleset returns the current compiled ruleset.
func (a *Arbiter) Ruleset() *classify.Ruleset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ruleset
}

// SetCustomKeywords rebuilds the ruleset with replacement custom
// keyword lists, keeping the configured overlays.
func (a *Arbiter) SetCustomKeywords(high, fast []string) {
	opts := rulesetOptions(a.cfg.Rules)
	opts.CustomHigh = high
	opts.CustomFast = fast
	rs := classify.NewRuleset(opts)

	a.mu.Lock()
	a.ruleset = rs
	a.mu.Unlock()
}

// PurgeCache drops all cached decisions.
func (a *Arbiter) PurgeCache() {
	a.cache.Purge()
}

// Classify resolves a message to a HIGH/FAST decision with its source
// and reason. It never returns UNKNOWN.
func (a *Arbiter) Classify(ctx context.Context, message string) models.Classification {
	rules := a.Ruleset()
	normalized := text.Normalize(message)

	if a.cfg.Rules.PrejudgeEnabled {
		if dec, reason := rules.Prejudge(message); dec.Definitive() {
			a.stats.Inc("judge_rule_hit")
			return models.Classification{Decision: dec, Source: models.SourceRule, Reason: reason}
		}
	}

	if a.cfg.Caches.Decision.Enabled && normalized != "" {
		if dec, ok := a.cache.Get("decision:" + normalized); ok && dec.Definitive() {
			a.stats.Inc("judge_cache_hit")
			return models.Classification{Decision: dec, Source: models.SourceCache}
		}
	}

	if a.cfg.Judge.ProviderID == "" {
		dec := rules.SimpleJudge(message)
		return models.Classification{Decision: dec, Source: models.SourceFallback, Reason: "no_judge_provider"}
	}

	judge, ok := a.registry.Resolve(a.cfg.Judge.ProviderID)
	if !ok {
		dec := rules.SimpleJudge(message)
		a.cacheDecision(normalized, dec)
		return models.Classification{Decision: dec, Source: models.SourceFallback, Reason: "judge_provider_missing"}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Judge.Timeout)
	defer cancel()

	reply, err := judge.Complete(ctx, provider.Request{
		Prompt:       a.buildPrompt(message),
		SystemPrompt: a.systemPrompt(),
		Model:        a.cfg.Judge.Model,
	})
	if err != nil || !reply.OK() {
		if err != nil {
			log.Printf("arbiter: judge call failed, falling back to rules: %v", err)
		}
		dec := rules.SimpleJudge(message)
		a.cacheDecision(normalized, dec)
		return models.Classification{Decision: dec, Source: models.SourceFallback, Reason: "judge_error"}
	}

	// HIGH is checked first: a reply containing both words means HIGH.
	result := strings.ToUpper(strings.TrimSpace(reply.Text))
	var dec models.Decision
	switch {
	case strings.Contains(result, "HIGH"):
		dec = models.DecisionHigh
	case strings.Contains(result, "FAST"):
		dec = models.DecisionFast
	default:
		fallback := rules.SimpleJudge(message)
		return models.Classification{Decision: fallback, Source: models.SourceFallback, Reason: "judge_unparseable"}
	}

	a.cacheDecision(normalized, dec)
	return models.Classification{Decision: dec, Source: models.SourceLLM}
}

func (a *Arbiter) cacheDecision(normalized string, dec models.Decision) {
	if !a.cfg.Caches.Decision.Enabled || normalized == "" {
		return
	}
	a.cache.Set("decision:"+normalized, dec, a.cfg.Caches.Decision.TTL, a.cfg.Caches.Decision.MaxEntries)
}

func (a *Arbiter) buildPrompt(message string) string {
	tmpl := a.cfg.Judge.PromptTemplate
	if tmpl == "" || !strings.Contains(tmpl, "$message") {
		tmpl = defaultPromptTemplate
	}
	return strings.ReplaceAll(tmpl, "$message", message)
}

func (a *Arbiter) systemPrompt() string {
	if s := strings.TrimSpace(a.cfg.Judge.SystemPrompt); s != "" {
		return s
	}
	return defaultSystemPrompt
}
