package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	HookRequests      *prometheus.CounterVec
	BridgeEvents      *prometheus.CounterVec
	RuleShortcuts     prometheus.Counter
	InjectionFailures prometheus.Counter
	ResolutionLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of queued (non-active) requests.",
		}),
		HookRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_requests_total",
			Help:      "Hook requests by type and outcome.",
		}, []string{"type", "outcome"}),
		BridgeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_events_total",
			Help:      "Inbound bridge events by kind and disposition.",
		}, []string{"kind", "disposition"}),
		RuleShortcuts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_shortcuts_total",
			Help:      "Permission requests resolved by a stored rule.",
		}),
		InjectionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injection_failures_total",
			Help:      "Free-text replies that reached no live terminal.",
		}),
		ResolutionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_latency_seconds",
			Help:      "Time from enqueue to resolution of a request.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) ObserveResolutionLatency(d time.Duration) {
	m.ResolutionLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
