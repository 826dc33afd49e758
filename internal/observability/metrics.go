package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	syncTaskRunsTotal      *prometheus.CounterVec
	syncTaskSkippedTotal   *prometheus.CounterVec
	syncTaskLatencySeconds *prometheus.HistogramVec

	inboxEnginesActive   prometheus.Gauge
	streamClientsActive  *prometheus.GaugeVec
	inboxEventsPublished *prometheus.CounterVec

	commentCacheRequests *prometheus.CounterVec
	chatMessagesSent     *prometheus.CounterVec
	feedMarkReadTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the inbox gateway.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total number of inbox gateway requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_http_latency_seconds",
			Help:    "Latency distribution for inbox gateway requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_http_errors_total",
			Help: "Total number of error responses returned by the inbox gateway.",
		}, []string{"method", "route", "status"})

		syncTaskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_task_runs_total",
			Help: "Sync loop task executions partitioned by outcome.",
		}, []string{"task", "outcome"})

		syncTaskSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_task_skipped_total",
			Help: "Sync loop task invocations skipped because the previous run was still in flight.",
		}, []string{"task"})

		syncTaskLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_sync_task_latency_seconds",
			Help:    "Duration of sync loop task executions.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"task"})

		inboxEnginesActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_engines_active",
			Help: "Number of running inbox engines.",
		})

		streamClientsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inbox_stream_clients_active",
			Help: "Number of connected inbox stream clients.",
		}, []string{"transport"})

		inboxEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_events_published_total",
			Help: "Inbox state events published to subscribers.",
		}, []string{"kind"})

		commentCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_comment_cache_requests_total",
			Help: "Comment list lookups partitioned by cache outcome.",
		}, []string{"outcome"})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_chat_messages_sent_total",
			Help: "Direct messages sent through the gateway partitioned by outcome.",
		}, []string{"outcome"})

		feedMarkReadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_feed_mark_read_total",
			Help: "Feed mark-read attempts partitioned by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			syncTaskRunsTotal, syncTaskSkippedTotal, syncTaskLatencySeconds,
			inboxEnginesActive, streamClientsActive, inboxEventsPublished,
			commentCacheRequests, chatMessagesSent, feedMarkReadTotal,
		)
	})
}

// HTTPRequests exposes the counter for gateway requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for gateway requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for gateway error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// SyncTaskRuns counts sync loop task executions.
func SyncTaskRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return syncTaskRunsTotal
}

// SyncTaskSkipped counts guarded sync loop invocations.
func SyncTaskSkipped() *prometheus.CounterVec {
	RegisterMetrics()
	return syncTaskSkippedTotal
}

// SyncTaskLatency exposes sync loop task durations.
func SyncTaskLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return syncTaskLatencySeconds
}

// InboxEnginesActive tracks running engines.
func InboxEnginesActive() prometheus.Gauge {
	RegisterMetrics()
	return inboxEnginesActive
}

// StreamClientsActive tracks SSE and websocket subscribers.
func StreamClientsActive() *prometheus.GaugeVec {
	RegisterMetrics()
	return streamClientsActive
}

// InboxEventsPublished counts published inbox events.
func InboxEventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return inboxEventsPublished
}

// CommentCacheRequests counts comment cache lookups.
func CommentCacheRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return commentCacheRequests
}

// ChatMessagesSent counts send attempts.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// FeedMarkRead counts feed mark-read attempts.
func FeedMarkRead() *prometheus.CounterVec {
	RegisterMetrics()
	return feedMarkReadTotal
}
