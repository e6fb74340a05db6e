package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttles     *prometheus.CounterVec
	wsSubscribers prometheus.Gauge
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// activity on the node surface.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "openlend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "openlend",
				Subsystem: "rpc",
				Name:      "throttled_total",
				Help:      "Requests rejected by the per-source rate limiter.",
			}, []string{"source"}),
			wsSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "openlend",
				Subsystem: "rpc",
				Name:      "websocket_subscribers",
				Help:      "Connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
			rpcRegistry.wsSubscribers,
		)
	})
	return rpcRegistry
}

func methodLabel(method string) string {
	trimmed := strings.TrimSpace(method)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// ObserveRequest records a finished request with its outcome and duration.
func (m *rpcMetrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	label := methodLabel(method)
	m.requests.WithLabelValues(label, outcome).Inc()
	m.latency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveError records a request that resolved to a JSON-RPC error code.
func (m *rpcMetrics) ObserveError(method string, code int) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(methodLabel(method), strconv.Itoa(code)).Inc()
}

// ObserveThrottle counts a rate limited request for the client source.
func (m *rpcMetrics) ObserveThrottle(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.throttles.WithLabelValues(source).Inc()
}

// WSSubscribe records an event stream attach.
func (m *rpcMetrics) WSSubscribe() {
	if m == nil {
		return
	}
	m.wsSubscribers.Inc()
}

// WSUnsubscribe records an event stream detach.
func (m *rpcMetrics) WSUnsubscribe() {
	if m == nil {
		return
	}
	m.wsSubscribers.Dec()
}
