package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// BulkItemsProcessed counts settled WorkItems by outcome
	BulkItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulk_items_processed_total", Help: "Settled bulk WorkItems by outcome."},
		[]string{"status"},
	)
	// BulkItemDuration tracks per-item pipeline latency in seconds
	BulkItemDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "bulk_item_duration_seconds", Help: "Per-item pipeline duration in seconds.", Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300}},
	)
	// EnrichmentTasks counts enrichment task outcomes by task and status
	EnrichmentTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulk_enrichment_tasks_total", Help: "Enrichment task outcomes by task and status."},
		[]string{"task", "status"},
	)
	// CheckpointsWritten counts durable checkpoint writes
	CheckpointsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bulk_checkpoints_written_total", Help: "Durable checkpoint writes."},
	)
	// JobsTerminal counts jobs reaching a terminal state
	JobsTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulk_jobs_terminal_total", Help: "Bulk jobs reaching a terminal state."},
		[]string{"status"},
	)
	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(BulkItemsProcessed)
		Registry.MustRegister(BulkItemDuration)
		Registry.MustRegister(EnrichmentTasks)
		Registry.MustRegister(CheckpointsWritten)
		Registry.MustRegister(JobsTerminal)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
