package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routerRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_router_requests_total",
			Help: "Total number of routed requests",
		},
	)

	routerDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_router_decisions_total",
			Help: "Classification decisions by tier",
		},
		[]string{"decision"},
	)

	routerPool = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_router_pool_total",
			Help: "Final routed pool by tier",
		},
		[]string{"pool"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierd_dispatch_total",
			Help: "Dispatch outcomes by result",
		},
		[]string{"result"},
	)

	dispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "tierd_dispatch_latency_seconds",
			Help: "Dispatch latency in seconds",
		},
	)

	breakerSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tierd_breaker_skips_total",
			Help: "Selections that skipped an open-breaker target",
		},
	)
)
