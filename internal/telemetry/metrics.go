package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency by method/route/status across
// every mounted handler.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "nimbusid",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

// RateLimitExceededTotal counts rate_limit.exceeded decisions by endpoint class.
var RateLimitExceededTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusid",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total number of requests denied by the rate limiter.",
	},
	[]string{"endpoint_class"},
)

// PolicyDecisionsTotal counts policy evaluations by effect.
var PolicyDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusid",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Total number of policy decisions by effect.",
	},
	[]string{"effect"},
)

// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nimbusid",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total number of webhook delivery attempts by outcome.",
	},
	[]string{"outcome"},
)

// MemorySearchFallbackTotal counts memory searches that fell back to text match.
var MemorySearchFallbackTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "nimbusid",
		Subsystem: "memory",
		Name:      "search_fallback_total",
		Help:      "Total number of memory searches that fell back to substring matching.",
	},
)

// All returns every nimbusid-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		RateLimitExceededTotal,
		PolicyDecisionsTotal,
		WebhookDeliveriesTotal,
		MemorySearchFallbackTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with process/go collectors
// plus the given application collectors.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
