package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingest Metrics
	VideoIngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_video_ingests_total",
			Help: "Total number of ingest requests by outcome",
		},
		[]string{"outcome"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vodpipe_video_upload_size_bytes",
			Help:    "Size of uploaded source videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	VideosDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_videos_deleted_total",
			Help: "Total number of deleted videos",
		},
	)

	// Job Metrics
	JobsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_jobs_published_total",
			Help: "Total number of transcode jobs published to the queue",
		},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_jobs_completed_total",
			Help: "Total number of finished transcode attempts by terminal state",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vodpipe_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		},
		[]string{"strategy"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_job_retries_total",
			Help: "Total number of jobs scheduled for retry",
		},
	)

	JobsDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		},
	)

	// Transcoding Metrics
	RenditionEncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_rendition_encode_duration_seconds",
			Help:    "Encoder wall time per rendition",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"quality"},
	)

	RenditionsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_renditions_published_total",
			Help: "Total number of renditions published to storage",
		},
		[]string{"quality"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vodpipe_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Origin Metrics
	StreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_stream_requests_total",
			Help: "Total number of origin requests by resource kind and status",
		},
		[]string{"kind", "status"},
	)

	// Reconcile Metrics
	OrphanSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_orphan_sweeps_total",
			Help: "Total number of orphan sweep runs",
		},
		[]string{"status"},
	)

	OrphanObjectsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vodpipe_orphan_objects_deleted_total",
			Help: "Total number of orphaned objects removed by the sweeper",
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vodpipe_queue_depth",
			Help: "Messages waiting in each broker queue",
		},
		[]string{"queue"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vodpipe_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordIngest records the outcome of an ingest request
func RecordIngest(outcome string, size int64) {
	VideoIngestsTotal.WithLabelValues(outcome).Inc()
	if outcome == "accepted" {
		VideoUploadSizeBytes.Observe(float64(size))
	}
}

// RecordVideoDeleted records a video deletion
func RecordVideoDeleted() {
	VideosDeletedTotal.Inc()
}

// RecordJobPublished records a job handed to the queue
func RecordJobPublished() {
	JobsPublishedTotal.Inc()
}

// RecordJobCompleted records a job reaching a terminal state
func RecordJobCompleted(status, strategy string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(strategy).Observe(duration)
}

// RecordJobRetry records a job scheduled for redelivery
func RecordJobRetry() {
	JobRetriesTotal.Inc()
}

// RecordJobDeadLettered records a job moved to the DLQ
func RecordJobDeadLettered() {
	JobsDeadLetteredTotal.Inc()
}

// RecordRenditionEncoded records encoder wall time for one quality
func RecordRenditionEncoded(quality string, duration float64) {
	RenditionEncodeDuration.WithLabelValues(quality).Observe(duration)
}

// RecordRenditionPublished records a rendition whose index is in storage
func RecordRenditionPublished(quality string) {
	RenditionsPublishedTotal.WithLabelValues(quality).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordStreamRequest records an origin request
func RecordStreamRequest(kind, status string) {
	StreamRequestsTotal.WithLabelValues(kind, status).Inc()
}

// RecordOrphanSweep records one sweep run and the objects it removed
func RecordOrphanSweep(status string, deleted int) {
	OrphanSweepsTotal.WithLabelValues(status).Inc()
	OrphanObjectsDeleted.Add(float64(deleted))
}

// RecordQueueDepth records the number of messages waiting in queue
func RecordQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordWebhookDelivery records a webhook delivery attempt
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
