// Package metrics exposes Prometheus counters for the proxy.
//
// Metrics:
//   - <ns>_http_requests_total: inbound requests by route and status
//   - <ns>_http_request_duration_seconds: inbound latency by route
//   - <ns>_upstream_requests_total: upstream calls by model and outcome
//   - <ns>_upstream_duration_seconds: upstream latency by model
//   - <ns>_stream_frames_total: SSE frames written
//   - <ns>_stream_cancelled_total: streams abandoned by the client
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teleprompt2api/api-proxy/internal/config"
)

// Upstream outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeHTTPError     = "http_error"
	OutcomeProtocolError = "protocol_error"
	OutcomeTransport     = "transport_error"
)

// Collector owns a private registry so several servers can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	streamFrames     prometheus.Counter
	streamCancelled  prometheus.Counter
}

// NewCollector creates and registers all metrics.
func NewCollector(cfg config.MetricsConfig) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of inbound HTTP requests",
			},
			[]string{"route", "method", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of inbound HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_requests_total",
				Help:      "Total number of calls to the optimization service",
			},
			[]string{"model", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of calls to the optimization service in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"model"},
		),

		streamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_frames_total",
			Help:      "Total number of server-sent-event frames written",
		}),

		streamCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "stream_cancelled_total",
			Help:      "Streams stopped early because the client went away",
		}),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.upstreamRequests,
		c.upstreamDuration,
		c.streamFrames,
		c.streamCancelled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RecordHTTPRequest records one finished inbound request.
func (c *Collector) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, status).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpstream records one call to the optimization service.
func (c *Collector) RecordUpstream(model, outcome string, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(model, outcome).Inc()
	c.upstreamDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordStream records the frames written for one stream.
func (c *Collector) RecordStream(frames int, cancelled bool) {
	c.streamFrames.Add(float64(frames))
	if cancelled {
		c.streamCancelled.Inc()
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
