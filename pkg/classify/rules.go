// Package classify implements the deterministic keyword/regex/length
// complexity classifier that runs before any LLM-based arbitration.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tierd-ai/tierd/pkg/models"
)

// Built-in keyword lists. Order within a list is match order; the first
// hit wins, so the precedence between lists in Prejudge must not change.
var (
	builtinSimple = []string{
		"你好", "嗨", "hi", "hello", "早上好", "晚上好", "谢谢", "感谢",
		"好的", "可以", "行", "嗯", "是", "否", "对", "不对", "是的", "不是",
		"几点", "天气", "今天", "明天", "在吗", "在不在", "有空吗",
	}

	builtinStrong = []string{
		"算法", "函数", "类", "接口", "计算", "数学", "公式", "方程",
		"证明", "推导", "原理", "机制", "为什么", "比较", "区别", "优缺点",
		"总结", "归纳", "写一篇", "写一个", "帮我写", "实现", "改一下",
		"优化一下", "格式化", "sql", "正则", "bug", "error", "debug",
		"调试", "报错", "修复", "优化", "设计", "架构", "方案", "策略", "规划",
	}

	builtinWeak = []string{
		"编程", "程序", "代码", "python", "java", "javascript", "node",
		"c++", "html", "css",
	}

	builtinTriggers = []string{
		"怎么", "如何", "为什么", "写", "实现", "改", "生成", "修复",
		"优化", "调试", "报错", "bug", "error", "debug", "算法", "函数",
		"类", "接口", "sql", "正则",
	}
)

// Meta-clarification patterns: messages that look code-related but are
// really the assistant asking the user to paste something or pick a
// language. Checked before the keyword lists so they win over an
// otherwise-HIGH-looking message.
var metaClarifyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`把.*(需求|代码).*(贴|发|给|丢|贴我|发我)`),
	regexp.MustCompile(`(把|将).*(代码|报错).*(发|贴|给).*(看看|我看看|我看下|我看一眼)`),
	regexp.MustCompile(`(你要|想要|准备).*(写|搞).*(哪块|什么|哪个).*(编程|代码)`),
	regexp.MustCompile(`(python|node|javascript|java).*(还是|或|或者).*(别的|其它|其他)`),
}

// Options configures a Ruleset. Add/Remove lists overlay the built-in
// keyword sets; Custom lists are checked before anything else.
type Options struct {
	CustomHigh []string
	CustomFast []string

	SimpleAdd     []string
	SimpleRemove  []string
	StrongAdd     []string
	StrongRemove  []string
	WeakAdd       []string
	WeakRemove    []string
	TriggerAdd    []string
	TriggerRemove []string

	// DefaultDecision is returned by SimpleJudge when nothing matches.
	// Empty means FAST.
	DefaultDecision models.Decision
}

// Ruleset is an immutable compiled classifier. Build a new one (and swap
// the reference) instead of mutating lists in place.
type Ruleset struct {
	customHigh []string
	customFast []string
	simple     []string
	strong     []string
	weak       []string
	triggers   []string
	defaultDec models.Decision
}

// NewRuleset compiles the built-in lists with the configured overlays.
func NewRuleset(opts Options) *Ruleset {
	def := opts.DefaultDecision
	if !def.Definitive() {
		def = models.DecisionFast
	}
	return &Ruleset{
		customHigh: lowerAll(opts.CustomHigh),
		customFast: lowerAll(opts.CustomFast),
		simple:     overlay(builtinSimple, opts.SimpleAdd, opts.SimpleRemove),
		strong:     overlay(builtinStrong, opts.StrongAdd, opts.StrongRemove),
		weak:       overlay(builtinWeak, opts.WeakAdd, opts.WeakRemove),
		triggers:   overlay(builtinTriggers, opts.TriggerAdd, opts.TriggerRemove),
		defaultDec: def,
	}
}

// Prejudge classifies a message by deterministic rules alone. It returns
// UNKNOWN when no rule applies. The check order is a deliberate tie-break
// precedence: custom fast, custom high, length, code markers, meta
// clarification, simple, strong, weak(+trigger), short question.
func (r *Ruleset) Prejudge(message string) (models.Decision, string) {
	lower := strings.ToLower(message)

	for _, kw := range r.customFast {
		if kw != "" && strings.Contains(lower, kw) {
			return models.DecisionFast, "custom:" + kw
		}
	}
	for _, kw := range r.customHigh {
		if kw != "" && strings.Contains(lower, kw) {
			return models.DecisionHigh, "custom:" + kw
		}
	}

	if runeLen(message) > 200 {
		return models.DecisionHigh, "len>200"
	}
	if hasCodeMarker(message, lower) {
		return models.DecisionHigh, "codeblock"
	}

	for _, p := range metaClarifyPatterns {
		if p.MatchString(lower) {
			return models.DecisionFast, "meta:clarify"
		}
	}

	for _, kw := range r.simple {
		if strings.Contains(lower, kw) {
			return models.DecisionFast, "kw:" + kw
		}
	}
	for _, kw := range r.strong {
		if strings.Contains(lower, kw) {
			return models.DecisionHigh, "kw:" + kw
		}
	}
	for _, kw := range r.weak {
		if strings.Contains(lower, kw) {
			if r.hasTrigger(lower) {
				return models.DecisionHigh, "kw:" + kw
			}
			return models.DecisionFast, fmt.Sprintf("kw:%s:weak", kw)
		}
	}

	if runeLen(message) <= 20 && (strings.Contains(message, "?") || strings.Contains(message, "？")) {
		return models.DecisionFast, "short_question"
	}

	return models.DecisionUnknown, ""
}

// SimpleJudge is the reduced last-resort fallback used when no LLM arbiter
// is available or it fails. Unlike Prejudge, simple keywords are checked
// before strong ones, and there is no UNKNOWN: the configured default wins.
func (r *Ruleset) SimpleJudge(message string) models.Decision {
	lower := strings.ToLower(message)

	if runeLen(message) > 200 {
		return models.DecisionHigh
	}
	if hasCodeMarker(message, lower) {
		return models.DecisionHigh
	}

	for _, kw := range r.simple {
		if strings.Contains(lower, kw) {
			return models.DecisionFast
		}
	}
	for _, kw := range r.strong {
		if strings.Contains(lower, kw) {
			return models.DecisionHigh
		}
	}
	for _, kw := range r.weak {
		if strings.Contains(lower, kw) {
			if r.hasTrigger(lower) {
				return models.DecisionHigh
			}
			return models.DecisionFast
		}
	}

	return r.defaultDec
}

// CustomKeywords returns copies of the custom overlay lists for display.
func (r *Ruleset) CustomKeywords() (high, fast []string) {
	return append([]string(nil), r.customHigh...), append([]string(nil), r.customFast...)
}

func (r *Ruleset) hasTrigger(lower string) bool {
	for _, t := range r.triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func hasCodeMarker(raw, lower string) bool {
	return strings.Contains(raw, "```") ||
		strings.Contains(lower, "def ") ||
		strings.Contains(lower, "function ")
}

func runeLen(s string) int {
	return len([]rune(s))
}

// overlay applies case-insensitive add/remove lists over a base list,
// deduplicating while preserving base order, then appended additions.
func overlay(base, add, remove []string) []string {
	removed := make(map[string]bool, len(remove))
	for _, r := range remove {
		removed[strings.ToLower(strings.TrimSpace(r))] = true
	}
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, lists := range [][]string{base, add} {
		for _, kw := range lists {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" || removed[k] || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
