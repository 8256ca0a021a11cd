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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	relaySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_sessions_active",
			Help: "Number of active relay sessions.",
		},
	)
	relayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_events_total",
			Help: "Total number of relay protocol events by name and direction.",
		},
		[]string{"event", "direction"},
	)
	relayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_errors_total",
			Help: "Total number of operation failures surfaced to sessions.",
		},
		[]string{"reason"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		relaySessionsActive,
		relayEventsTotal,
		relayErrorsTotal,
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

func IncSessionsActive() {
	relaySessionsActive.Inc()
}

func DecSessionsActive() {
	relaySessionsActive.Dec()
}

// IncRelayEvent counts one protocol event; direction is "in" for client
// requests and "out" for pushes and replies.
func IncRelayEvent(event, direction string) {
	relayEventsTotal.WithLabelValues(event, direction).Inc()
}

func IncRelayError(reason string) {
	relayErrorsTotal.WithLabelValues(reason).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
