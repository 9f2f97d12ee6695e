// Package observability collects prometheus metrics for the harvest
// pipeline. A single Metrics instance is shared by the dispatcher, the
// reaper and the API server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch result label values.
const (
	ResultCompleted = "completed"
	ResultRequeued  = "requeued"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Metrics holds all prometheus collectors for the harvest pipeline.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal     *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	QueueDepth        *prometheus.GaugeVec
	ObservationsSaved prometheus.Counter
	StuckItemsReset   prometheus.Counter
	FailedItemsPurged prometheus.Counter
	QuotaRejections   prometheus.Counter
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_dispatch_total",
			Help: "Queue item dispatch outcomes by result",
		}, []string{"result"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_dispatch_duration_seconds",
			Help:    "Duration of worker dispatches including verification",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_queue_depth",
			Help: "Number of queue items per status",
		}, []string{"status"}),
		ObservationsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_observations_saved_total",
			Help: "Vegetation observations persisted from worker results",
		}),
		StuckItemsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_stuck_items_reset_total",
			Help: "Processing items reset to queued by the reaper",
		}),
		FailedItemsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_failed_items_purged_total",
			Help: "Failed queue items deleted after the retention window",
		}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_quota_rejections_total",
			Help: "Harvest runs refused by the quota guard",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.DispatchTotal,
		m.DispatchDuration,
		m.QueueDepth,
		m.ObservationsSaved,
		m.StuckItemsReset,
		m.FailedItemsPurged,
		m.QuotaRejections,
		collectors.NewGoCollector(),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// UpdateQueueDepth sets the queue depth gauges from a status count map.
func (m *Metrics) UpdateQueueDepth(counts map[string]int64) {
	for status, count := range counts {
		m.QueueDepth.WithLabelValues(status).Set(float64(count))
	}
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
