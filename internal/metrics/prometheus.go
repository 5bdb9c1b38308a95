package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_runs_total",
			Help: "Total number of analysis runs by terminal status",
		},
		[]string{"status"}, // completed|failed|cancelled|rejected
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradingagents_runs_active",
			Help: "Runs currently pending or running",
		},
	)

	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradingagents_node_duration_seconds",
			Help:    "Graph node execution time in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"node"},
	)

	// LLM metrics
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_llm_calls_total",
			Help: "Total number of LLM calls",
		},
		[]string{"provider", "model", "role", "status"}, // status: success|error|retry
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_llm_tokens_total",
			Help: "Total tokens used",
		},
		[]string{"provider", "model", "type"}, // type: input|output
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_llm_cost_usd",
			Help: "Total estimated LLM cost in USD",
		},
		[]string{"provider", "model"},
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradingagents_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	// Cache and data metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // result: hit|miss|error
	)

	RemoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_dal_remote_calls_total",
			Help: "Remote data source calls",
		},
		[]string{"category", "source", "status"},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradingagents_tool_calls_total",
			Help: "Agent tool invocations",
		},
		[]string{"tool", "status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RunsTotal, RunsActive, NodeDuration,
			LLMCalls, LLMTokens, LLMCost, LLMLatency,
			CacheLookups, RemoteCalls, ToolCalls,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs a metrics endpoint until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

// ObserveNode records a node duration.
func ObserveNode(node string, d time.Duration) {
	NodeDuration.WithLabelValues(node).Observe(d.Seconds())
}
