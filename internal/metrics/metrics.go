// Package metrics holds the Prometheus collectors exported on /metrics.
// All methods are safe on a nil *Metrics so callers can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidcat"

// Stream failure reasons used as the "reason" label.
const (
	ReasonNotFound  = "not_found"
	ReasonForbidden = "forbidden"
	ReasonBusy      = "busy"
	ReasonError     = "error"
)

type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes *prometheus.CounterVec
	streamsActive prometheus.Gauge
	streamErrors  *prometheus.CounterVec
}

// New registers the service collectors plus Go runtime and process collectors
// on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time to finish writing the response, by route pattern.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600},
		}, []string{"route"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_response_bytes_total",
			Help:      "Response body bytes written, by route pattern.",
		}, []string{"route"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Video files currently being read.",
		}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Stream requests that did not deliver a file, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.responseBytes, m.streamsActive, m.streamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
	if bytes > 0 {
		m.responseBytes.WithLabelValues(route).Add(float64(bytes))
	}
}

// StreamStarted marks a file read as active and returns the func that ends it.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.streamsActive.Inc()
	return m.streamsActive.Dec
}

// StreamFailed counts a stream request that ended in reason.
func (m *Metrics) StreamFailed(reason string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(reason).Inc()
}
