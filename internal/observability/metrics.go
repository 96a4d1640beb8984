package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	invitationsSentTotal   *prometheus.CounterVec
	invitationsFailedTotal *prometheus.CounterVec
	invitationSendDuration *prometheus.HistogramVec
	workerInflight         *prometheus.GaugeVec
	fallbackTriggeredTotal prometheus.Counter
	creditsConsumedTotal   *prometheus.CounterVec
	creditsRefundedTotal   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "invite_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		invitationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "invitations_sent_total",
				Help:      "Total number of invitation sends accepted by a gateway.",
			},
			[]string{"channel"},
		),
		invitationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "invitations_failed_total",
				Help:      "Total number of invitation sends that ended in a failed state.",
			},
			[]string{"channel", "reason"},
		),
		invitationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "invite_engine",
				Name:      "invitation_send_duration_seconds",
				Help:      "Gateway send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "invite_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by channel.",
			},
			[]string{"channel"},
		),
		fallbackTriggeredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "sms_fallback_triggered_total",
				Help:      "Total number of push deliveries escalated to SMS fallback.",
			},
		),
		creditsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "credits_consumed_total",
				Help:      "Total SMS credits consumed grouped by consumption reason.",
			},
			[]string{"reason"},
		),
		creditsRefundedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "invite_engine",
				Name:      "credits_refunded_total",
				Help:      "Total SMS credits returned to grants after failed sends.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.invitationsSentTotal,
		m.invitationsFailedTotal,
		m.invitationSendDuration,
		m.workerInflight,
		m.fallbackTriggeredTotal,
		m.creditsConsumedTotal,
		m.creditsRefundedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncSent(channel string) {
	if m == nil {
		return
	}
	m.invitationsSentTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.invitationsFailedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.invitationSendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecWorkerInFlight(channel string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

func (m *Metrics) IncFallbackTriggered() {
	if m == nil {
		return
	}
	m.fallbackTriggeredTotal.Inc()
}

func (m *Metrics) AddCreditsConsumed(reason string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.creditsConsumedTotal.WithLabelValues(reasonLabel).Add(amount)
}

func (m *Metrics) AddCreditsRefunded(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsRefundedTotal.Add(amount)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
