package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_tasks_total",
			Help: "Total number of per-task sync attempts by outcome",
		},
		[]string{"outcome"}, // created, updated, unchanged, recreate_pending, errored
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Remote task service call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"method", "status"},
	)

	BulkSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_sync_duration_seconds",
			Help:    "Workspace bulk sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_scan_duration_seconds",
			Help:    "Scheduler scan cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"}, // due_soon, overdue
	)

	IntentsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intents_enqueued_total",
			Help: "Total number of notification intents enqueued",
		},
		[]string{"kind"},
	)

	IntentsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intents_dropped_total",
			Help: "Total number of intents dropped before dispatch",
		},
		[]string{"reason"}, // duplicate, stale, queue_full
	)

	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of provider send attempts by result",
		},
		[]string{"result"}, // sent, throttled, invalid_recipient, provider_error
	)

	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_latency_ms",
			Help:    "Messaging provider send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)
)

func RecordRemoteCall(method, status string, duration time.Duration) {
	RemoteCallDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

func RecordScan(kind string, duration time.Duration) {
	ScanDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordDelivery(result string, duration time.Duration) {
	DeliveryAttemptsTotal.WithLabelValues(result).Inc()
	DeliveryLatency.Observe(float64(duration.Milliseconds()))
}
