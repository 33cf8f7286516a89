package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameplan_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gameplan_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gameplan_messages_sent_total",
			Help: "Total number of encrypted messages appended to the store.",
		},
	)
	decryptFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gameplan_message_decrypt_failures_total",
			Help: "Total number of stored messages dropped because AEAD verification failed.",
		},
	)
	keyMigrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gameplan_key_migrations_total",
			Help: "Total number of legacy conversations migrated to per-user key storage.",
		},
	)
	activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gameplan_active_subscriptions",
			Help: "Number of live message/conversation subscriptions.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gameplan_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gameplan_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesSentTotal,
		decryptFailuresTotal,
		keyMigrationsTotal,
		activeSubscriptions,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncMessageSent() {
	messagesSentTotal.Inc()
}

func IncDecryptFailure() {
	decryptFailuresTotal.Inc()
}

func IncKeyMigration() {
	keyMigrationsTotal.Inc()
}

func IncSubscriptions(kind string) {
	activeSubscriptions.WithLabelValues(kind).Inc()
}

func DecSubscriptions(kind string) {
	activeSubscriptions.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
