// Package monitoring exposes Prometheus metrics for the service.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	TerminalsActive  prometheus.Gauge
	TerminalsCreated prometheus.Counter
	TerminalsReused  prometheus.Counter
	TerminalExits    prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	OutputBytes   prometheus.Counter
}

// NewMetrics creates a metrics collector registered on the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		TerminalsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "termhub_terminals_active",
			Help: "Number of running terminal sessions",
		}),
		TerminalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "termhub_terminals_created_total",
			Help: "Total number of terminals created",
		}),
		TerminalsReused: promauto.NewCounter(prometheus.CounterOpts{
			Name: "termhub_terminals_reused_total",
			Help: "Total number of create requests served by an existing terminal",
		}),
		TerminalExits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "termhub_terminal_exits_total",
			Help: "Total number of terminal process exits",
		}),
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "termhub_ws_connections",
			Help: "Number of live WebSocket connections",
		}),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhub_ws_messages_total",
				Help: "Total WebSocket messages by type and direction",
			},
			[]string{"type", "direction"},
		),
		OutputBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "termhub_terminal_output_bytes_total",
			Help: "Total terminal output bytes broadcast to viewers",
		}),
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
