package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Scan metrics
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_scans_total",
			Help: "Total number of scan cycles by surface and trigger",
		},
		[]string{"surface", "trigger"}, // trigger: startup, rescan, camera, manual, reload
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldwatch_scan_duration_seconds",
			Help:    "Time taken to extract, parse and aggregate one scan",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"surface"},
	)

	ScanRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_scan_records",
			Help: "Number of monitored records seen by the last dashboard scan",
		},
	)

	SignalsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_signals_detected_total",
			Help: "Total number of alert signals detected by category",
		},
		[]string{"category"}, // lost, stale, temperature, camera
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_records_skipped_total",
			Help: "Records or camera rows skipped because they were malformed",
		},
		[]string{"kind"},
	)

	// Delivery metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_deliveries_total",
			Help: "Outcome of delivery attempts",
		},
		[]string{"outcome"}, // delivered, cooldown, empty
	)

	LastDeliveryTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_last_delivery_timestamp_seconds",
			Help: "Unix time of the last delivered alert",
		},
	)

	ToneFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_tone_failures_total",
			Help: "Total number of failed audible alert playbacks",
		},
	)

	// Persistence metrics
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_persistence_errors_total",
			Help: "Total number of swallowed persistence failures",
		},
		[]string{"op"}, // get, set, delete
	)

	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_archive_writes_total",
			Help: "Total number of report archive writes",
		},
		[]string{"status"},
	)

	// Bus metrics
	BusPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_bus_published_total",
			Help: "Total number of cross-surface messages published",
		},
		[]string{"transport", "action"},
	)

	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_bus_dropped_total",
			Help: "Total number of cross-surface messages dropped (best-effort delivery)",
		},
		[]string{"transport"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldwatch_worker_queue_size",
			Help: "Current size of the outbound message queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_worker_processed_total",
			Help: "Total number of messages published by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_worker_failed_total",
			Help: "Total number of messages failed in workers",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldwatch_worker_batch_publish_duration_seconds",
			Help:    "Time taken to publish a batch of messages",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
