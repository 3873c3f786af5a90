package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events handled by the hub.",
		},
		[]string{"event"},
	)
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sync_events_total",
			Help: "Push events processed by the sync reconciler.",
		},
		[]string{"event"},
	)
	syncEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sync_events_dropped_total",
			Help: "Malformed or incomplete push events dropped by the reconciler.",
		},
		[]string{"event"},
	)
	syncDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sync_duplicate_messages_total",
			Help: "Messages deduplicated by id during live merges.",
		},
	)
	syncResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sync_resyncs_total",
			Help: "Full conversation resyncs triggered by channel (re)connects.",
		},
	)
	syncSendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sync_send_failures_total",
			Help: "Outbound sends that failed and rolled back their optimistic entry.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		syncEventsTotal,
		syncEventsDroppedTotal,
		syncDuplicatesTotal,
		syncResyncsTotal,
		syncSendFailuresTotal,
		amqpPublishErrorsTotal,
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
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, statusLabel(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func IncWSActive()                  { wsActiveConnections.Inc() }
func DecWSActive()                  { wsActiveConnections.Dec() }
func IncWSEvent(event string)       { wsEventsTotal.WithLabelValues(event).Inc() }
func IncSyncEvent(event string)     { syncEventsTotal.WithLabelValues(event).Inc() }
func IncSyncEventDropped(ev string) { syncEventsDroppedTotal.WithLabelValues(ev).Inc() }
func IncSyncDuplicate()             { syncDuplicatesTotal.Inc() }
func IncSyncResync()                { syncResyncsTotal.Inc() }
func IncSyncSendFailure()           { syncSendFailuresTotal.Inc() }
func IncAMQPPublishError()          { amqpPublishErrorsTotal.Inc() }
