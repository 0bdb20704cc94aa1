package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ActiveViewers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lamp_active_sessions",
			Help: "Number of sessions registered with the broadcast hub",
		},
	)

	Broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lamp_broadcasts_total",
			Help: "Number of payment events broadcast",
		},
	)

	BroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lamp_broadcast_failures_total",
			Help: "Number of per-session delivery failures",
		},
	)

	DroppedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lamp_dropped_messages_total",
			Help: "Events dropped because a viewer queue was full",
		},
	)

	PaymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lamp_payments_created_total",
			Help: "Payments recorded, by source",
		},
		[]string{"source"},
	)

	WebhooksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lamp_webhooks_rejected_total",
			Help: "Webhook deliveries rejected, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpDuration,
		ActiveViewers,
		Broadcasts,
		BroadcastFailures,
		DroppedMessages,
		PaymentsCreated,
		WebhooksRejected,
	)
}

func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
