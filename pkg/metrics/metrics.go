package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Enforcement metrics
	QuotaChecks        *prometheus.CounterVec
	UsageCommitted     *prometheus.CounterVec
	CodesIssued        prometheus.Counter
	CodeValidations    *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	GateOutcomes       *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		QuotaChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_checks_total",
				Help: "Quota permission checks by action and result",
			},
			[]string{"action", "result"},
		),
		UsageCommitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_committed_total",
				Help: "Usage increments committed by action",
			},
			[]string{"action"},
		),
		CodesIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "verification_codes_issued_total",
				Help: "Verification codes issued",
			},
		),
		CodeValidations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verification_code_validations_total",
				Help: "Verification code validation attempts by outcome",
			},
			[]string{"outcome"},
		),
		WebhookEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Inbound webhook events by provider and result",
			},
			[]string{"provider", "result"},
		),
		GateOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permission_gate_outcomes_total",
				Help: "Permission gate outcomes by action",
			},
			[]string{"action", "outcome"},
		),
	}
}

// Middleware returns an Echo middleware that records request metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
