// Package stats records routing telemetry: named counters, a bounded
// ring of recent outcomes, and per-session last-route snapshots.
package stats

import (
	"sync"

	"github.com/tierd-ai/tierd/pkg/models"
)

// Recorder is the in-memory telemetry store. Counters are monotonic;
// the outcome ring drops oldest entries at capacity; last-route
// snapshots are overwritten per session. A disabled Recorder ignores
// all writes. Safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	enabled    bool
	maxRecords int
	counters   map[string]int64
	outcomes   []models.Outcome
	lastRoutes map[string]models.LastRoute
}

// New builds a Recorder. maxRecords below one falls back to 200.
func New(enabled bool, maxRecords int) *Recorder {
	if maxRecords < 1 {
		maxRecords = 200
	}
	return &Recorder{
		enabled:    enabled,
		maxRecords: maxRecords,
		counters:   make(map[string]int64),
		lastRoutes: make(map[string]models.LastRoute),
	}
}

// Enabled reports whether the recorder accepts writes.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// Inc increments a named counter.
func (r *Recorder) Inc(name string) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	r.counters[name]++
	r.mu.Unlock()
}

// Counters returns a copy of all counters.
func (r *Recorder) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// MarkRequest mirrors one routed request into the Prometheus counters.
func (r *Recorder) MarkRequest(class models.Classification, pool models.Pool, meta models.RouteMeta) {
	if !r.enabled {
		return
	}
	routerRequests.Inc()
	routerDecisions.WithLabelValues(string(class.Decision)).Inc()
	routerPool.WithLabelValues(string(pool)).Inc()
	if meta.CBSkipped {
		breakerSkips.Inc()
	}
}

// RecordOutcome appends an outcome to the ring, dropping the oldest
// entry at capacity, and mirrors it into Prometheus.
func (r *Recorder) RecordOutcome(o models.Outcome) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	if len(r.outcomes) > r.maxRecords {
		r.outcomes = r.outcomes[len(r.outcomes)-r.maxRecords:]
	}
	r.mu.Unlock()

	result := "err"
	if o.OK {
		result = "ok"
	}
	dispatchTotal.WithLabelValues(result).Inc()
	dispatchLatency.Observe(o.Elapsed.Seconds())
}

// Recent returns up to n most recent outcomes, newest first.
func (r *Recorder) Recent(n int) []models.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.outcomes) {
		n = len(r.outcomes)
	}
	out := make([]models.Outcome, 0, n)
	for i := len(r.outcomes) - 1; i >= len(r.outcomes)-n; i-- {
		out = append(out, r.outcomes[i])
	}
	return out
}

// SetLastRoute overwrites the session's last-route snapshot.
func (r *Recorder) SetLastRoute(session string, lr models.LastRoute) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	r.lastRoutes[session] = lr
	r.mu.Unlock()
}

// LastRoute returns the session's last-route snapshot, if any.
func (r *Recorder) LastRoute(session string) (models.LastRoute, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lr, ok := r.lastRoutes[session]
	return lr, ok
}
