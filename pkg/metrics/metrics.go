package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion counters and histograms, partitioned by indexer category.

var (
	// Webhook
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total webhook deliveries by outcome",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total raw events received",
	})

	// Router
	RouterBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ingestx",
		Subsystem: "router",
		Name:      "batch_duration_seconds",
		Help:      "Time to route one event batch to every active indexer",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	RouterRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "router",
		Name:      "rows_written_total",
		Help:      "Rows inserted into tenant tables",
	}, []string{"category"})

	RouterIndexerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "router",
		Name:      "indexer_failures_total",
		Help:      "Per-indexer processing failures by stage",
	}, []string{"category", "stage"})

	RouterIndexerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ingestx",
		Subsystem: "router",
		Name:      "indexer_duration_seconds",
		Help:      "Per-indexer processing duration within a batch",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"category"})

	// Tenant connection slots
	TenantSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ingestx",
		Subsystem: "tenant",
		Name:      "slots",
		Help:      "Cached tenant connection slots",
	})

	TenantOpenFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "tenant",
		Name:      "open_failures_total",
		Help:      "Failed attempts to open a tenant database",
	})

	TenantEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingestx",
		Subsystem: "tenant",
		Name:      "evictions_total",
		Help:      "Tenant slots evicted by reason",
	}, []string{"reason"})
)
