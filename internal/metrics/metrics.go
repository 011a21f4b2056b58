package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barkwatch/pkg/models"
)

// Metrics holds the pipeline counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed   prometheus.Counter
	FilesSkipped     prometheus.Counter
	EventsPersisted  prometheus.Counter
	Violations       *prometheus.CounterVec
	LiveDetections   *prometheus.CounterVec
	DatesAnalyzed    prometheus.Counter
	DateDurationSecs prometheus.Histogram
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "files_processed_total",
			Help: "Recordings scored and normalized.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "files_skipped_total",
			Help: "Recordings skipped because they could not be scored.",
		}),
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "events_persisted_total",
			Help: "Bark events written to event logs.",
		}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "violations_total",
			Help: "Violations found, by type.",
		}, []string{"type"}),
		LiveDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "live_detections_total",
			Help: "Live detections by deduplication decision.",
		}, []string{"decision"}),
		DatesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barkwatch", Name: "dates_analyzed_total",
			Help: "Dates run through the offline pipeline.",
		}),
		DateDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "barkwatch", Name: "date_analysis_seconds",
			Help:    "Wall time spent analysing one date.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.FilesProcessed,
		m.FilesSkipped,
		m.EventsPersisted,
		m.Violations,
		m.LiveDetections,
		m.DatesAnalyzed,
		m.DateDurationSecs,
	)
	return m
}

// ObserveViolations counts violations by type.
func (m *Metrics) ObserveViolations(violations []models.Violation) {
	if m == nil {
		return
	}
	for _, v := range violations {
		m.Violations.WithLabelValues(string(v.Type)).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
