// Package metrics holds the Prometheus collectors for the record lifecycle
// and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/sealgauge/internal/ir"
)

const namespace = "sealgauge"

// Metrics are registered against one registry so that several engines (one
// per test) can coexist in a process.
type Metrics struct {
	Records         prometheus.Counter
	Requests        *prometheus.CounterVec
	Callbacks       *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Invalidations   prometheus.Counter
	CallbackLatency *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "submitted_total",
			Help:      "Total number of submitted records",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "issued_total",
			Help:      "Decryption requests issued, by kind",
		}, []string{"kind"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbacks",
			Name:      "applied_total",
			Help:      "Verified callbacks applied, by kind",
		}, []string{"kind"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callbacks",
			Name:      "rejected_total",
			Help:      "Rejected callbacks, by error code",
		}, []string{"code"}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "invalidated_total",
			Help:      "Pending requests invalidated before a callback arrived",
		}),
		CallbackLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "callbacks",
			Name:      "latency_seconds",
			Help:      "Time from request issue to applied callback",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"kind"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "path"}),
	}
}

// Observe updates counters from a committed event. Subscribed to the event bus.
func (m *Metrics) Observe(ev ir.Event) {
	switch ev.Type {
	case ir.EventRecordSubmitted:
		m.Records.Inc()
	case ir.EventRevealRequested:
		kind, _ := ev.Attrs["kind"].(string)
		m.Requests.WithLabelValues(kind).Inc()
	case ir.EventRecordRevealed:
		m.Callbacks.WithLabelValues(string(ir.RevealRawFields)).Inc()
	case ir.EventScoreRevealed:
		m.Callbacks.WithLabelValues(string(ir.RevealScore)).Inc()
	case ir.EventCallbackRejected:
		code, _ := ev.Attrs["code"].(string)
		m.Rejections.WithLabelValues(code).Inc()
	case ir.EventRequestInvalidated:
		m.Invalidations.Inc()
	}
}

// ObserveLatency records the issue-to-apply time of a consumed request.
func (m *Metrics) ObserveLatency(kind ir.RevealKind, issued, applied time.Time) {
	m.CallbackLatency.WithLabelValues(string(kind)).Observe(applied.Sub(issued).Seconds())
}

// Middleware returns a gin middleware recording request counts and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
