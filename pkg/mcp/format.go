package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/models"
	"github.com/tierd-ai/tierd/pkg/selector"
)

// formatClassification formats one classification result as text.
func formatClassification(message string, class models.Classification) string {
	preview := message
	if len([]rune(preview)) > 60 {
		preview = string([]rune(preview)[:60]) + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Message:  %s\n", preview)
	fmt.Fprintf(&b, "Decision: %s\n", class.Decision)
	fmt.Fprintf(&b, "Source:   %s\n", class.Source)
	if class.Reason != "" {
		fmt.Fprintf(&b, "Reason:   %s\n", class.Reason)
	}
	return b.String()
}

// formatCounters formats routing counters as a text table, sorted by name.
func formatCounters(counters map[string]int64) string {
	if len(counters) == 0 {
		return "No routing activity recorded.\n"
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %10s\n", "Counter", "Count")
	b.WriteString(strings.Repeat("-", 39) + "\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%-28s %10d\n", name, counters[name])
	}
	return b.String()
}

// formatOutcomes formats recent dispatch outcomes as a text table.
func formatOutcomes(outcomes []models.Outcome) string {
	if len(outcomes) == 0 {
		return "No recent outcomes.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-5s %-6s %-8s %-25s %10s\n",
		"Time", "Pool", "OK", "Decision", "Target", "Elapsed")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, o := range outcomes {
		ok := "err"
		if o.OK {
			ok = "ok"
		}
		fmt.Fprintf(&b, "%-20s %-5s %-6s %-8s %-25s %10s\n",
			o.At.Format("2006-01-02 15:04:05"),
			o.Pool, ok, o.Class.Decision, o.Target.Key(),
			o.Elapsed.Round(time.Millisecond))
	}
	return b.String()
}

// formatBreaker formats circuit breaker state as text.
func formatBreaker(snapshot map[string]selector.BreakerState) string {
	if len(snapshot) == 0 {
		return "All circuit breakers closed.\n"
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %-8s %6s %-20s\n", "Target", "State", "Fails", "Last Failure")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, k := range keys {
		st := snapshot[k]
		state := "closed"
		if st.Open {
			state = "open"
		}
		fmt.Fprintf(&b, "%-30s %-8s %6d %-20s\n",
			k, state, st.FailCount, st.LastFail.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// formatLastRoute formats a session's last-route snapshot as text.
func formatLastRoute(session string, lr models.LastRoute) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:  %s\n", session)
	fmt.Fprintf(&b, "At:       %s\n", lr.At.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Message:  %s\n", lr.Message)
	fmt.Fprintf(&b, "Decision: %s (source=%s", lr.Class.Decision, lr.Class.Source)
	if lr.Class.Reason != "" {
		fmt.Fprintf(&b, ", reason=%s", lr.Class.Reason)
	}
	b.WriteString(")\n")
	fmt.Fprintf(&b, "Pools:    base=%s desired=%s final=%s\n", lr.BasePool, lr.DesiredPool, lr.FinalPool)
	fmt.Fprintf(&b, "Target:   %s\n", lr.Target.Key())
	if lr.Policy != models.PolicyNone {
		fmt.Fprintf(&b, "Policy:   %s\n", lr.Policy)
	}
	if lr.BudgetBlocked {
		b.WriteString("Budget:   HIGH blocked this turn\n")
	}
	if lr.LockUsed {
		b.WriteString("Lock:     session lock applied\n")
	}
	if lr.Meta.CBSkipped {
		fmt.Fprintf(&b, "Breaker:  skipped %s", lr.Meta.OriginalTarget.Key())
		if lr.Meta.CBPoolFallback {
			b.WriteString(", fell back to the other pool")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatLock formats a stored session lock as text.
func formatLock(l lock.Lock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Locked session %s (scope=%s) for %d turns.\n", l.Session, l.Scope, l.Turns)
	if l.Target.ProviderID != "" {
		fmt.Fprintf(&b, "Target:  %s\n", l.Target.Key())
	} else if l.Pool != "" {
		fmt.Fprintf(&b, "Pool:    %s\n", l.Pool)
	}
	fmt.Fprintf(&b, "Expires: %s\n", l.ExpiresAt.Format("2006-01-02 15:04:05"))
	return b.String()
}
