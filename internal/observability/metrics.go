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
			Name: "mentorchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the dev server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentorchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mentorchat_ws_active_connections",
			Help: "Number of active conversation websocket connections.",
		},
		[]string{"side"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorchat_ws_events_total",
			Help: "Total number of conversation websocket events.",
		},
		[]string{"side", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mentorchat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorchat_client_requests_total",
			Help: "REST calls made by the messaging client.",
		},
		[]string{"operation", "outcome"},
	)
	clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mentorchat_client_request_duration_seconds",
			Help:    "Latency of REST calls made by the messaging client.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorchat_frames_dropped_total",
			Help: "Inbound websocket frames dropped by the client.",
		},
		[]string{"reason"},
	)
	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorchat_session_transitions_total",
			Help: "Conversation session state transitions.",
		},
		[]string{"from", "to"},
	)
	unreadIncrementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mentorchat_unread_increments_total",
			Help: "Unread counter increments caused by pushed messages.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		clientRequestsTotal,
		clientRequestDuration,
		framesDroppedTotal,
		sessionTransitionsTotal,
		unreadIncrementsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
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

// Websocket sides.
const (
	SideServer = "server"
	SideClient = "client"
)

func IncWSActive(side string) {
	wsActiveConnections.WithLabelValues(side).Inc()
}

func DecWSActive(side string) {
	wsActiveConnections.WithLabelValues(side).Dec()
}

func IncWSEvent(side, event string) {
	wsEventsTotal.WithLabelValues(side, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// ObserveClientRequest records one REST call of the messaging client.
func ObserveClientRequest(operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	clientRequestsTotal.WithLabelValues(operation, outcome).Inc()
	clientRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func IncFrameDropped(reason string) {
	framesDroppedTotal.WithLabelValues(reason).Inc()
}

func IncSessionTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

func IncUnread() {
	unreadIncrementsTotal.Inc()
}
