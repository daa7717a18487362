package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	Reconciliation *prometheus.CounterVec
	Webhooks       *prometheus.CounterVec
	SecurityAlerts *prometheus.CounterVec
	GatewayCalls   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "reconciliations_total",
		Help:      "Reconciliation attempts by entry point and result.",
	}, []string{"source", "result"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "webhook_responses_total",
		Help:      "Webhook responses by HTTP status.",
	}, []string{"status"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "security_alerts_total",
		Help:      "Integrity and authenticity alerts.",
	}, []string{"kind"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Name:      "gateway_request_duration_ms",
		Help:      "Payment gateway call latency in milliseconds.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"operation", "outcome"})

	reg.MustRegister(requests, latency, reconciliation, webhooks, alerts, gateway)
	return &Metrics{
		Requests:       requests,
		LatencyMS:      latency,
		Reconciliation: reconciliation,
		Webhooks:       webhooks,
		SecurityAlerts: alerts,
		GatewayCalls:   gateway,
		gatherer:       reg,
	}
}

func (m *Metrics) ObserveReconciliation(source, result string) {
	if m == nil {
		return
	}
	m.Reconciliation.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ObserveWebhook(status int) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) SecurityAlert(kind string) {
	if m == nil {
		return
	}
	m.SecurityAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveGateway(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayCalls.WithLabelValues(operation, outcome).Observe(float64(time.Since(started).Milliseconds()))
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
