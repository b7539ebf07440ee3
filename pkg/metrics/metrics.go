// Package metrics exposes transform and storage metrics to Prometheus.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gopivot"

// Metrics holds the transform metric vectors
type Metrics struct {
	pages                   *prometheus.CounterVec
	documentsProcessed      *prometheus.CounterVec
	documentsIndexed        *prometheus.CounterVec
	searchFailures          *prometheus.CounterVec
	indexFailures           *prometheus.CounterVec
	changeDetectionFailures *prometheus.CounterVec
	checkpoints             *prometheus.GaugeVec
	pageSize                *prometheus.GaugeVec
	states                  *prometheus.GaugeVec
	searchDuration          *prometheus.HistogramVec
	bulkDuration            *prometheus.HistogramVec
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "pages_total",
			Help:      "Composite aggregation pages processed.",
		}, []string{"transform"}),
		documentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "documents_processed_total",
			Help:      "Source documents aggregated.",
		}, []string{"transform"}),
		documentsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "documents_indexed_total",
			Help:      "Destination documents written.",
		}, []string{"transform"}),
		searchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "search_failures_total",
			Help:      "Failed searches.",
		}, []string{"transform"}),
		indexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "index_failures_total",
			Help:      "Failed bulk writes.",
		}, []string{"transform"}),
		changeDetectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "change_detection_failures_total",
			Help:      "Change detections that fell back to a full recompute.",
		}, []string{"transform"}),
		checkpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "checkpoint",
			Help:      "Last completed checkpoint.",
		}, []string{"transform"}),
		pageSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "page_size",
			Help:      "Current composite page size.",
		}, []string{"transform"}),
		states: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "state",
			Help:      "1 for the current indexer state of a transform.",
		}, []string{"transform", "state"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "search_duration_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transform"}),
		bulkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "bulk_duration_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transform"}),
	}

	for _, c := range []prometheus.Collector{
		m.pages, m.documentsProcessed, m.documentsIndexed, m.searchFailures,
		m.indexFailures, m.changeDetectionFailures, m.checkpoints, m.pageSize,
		m.states, m.searchDuration, m.bulkDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) PageProcessed(transformID string, inputDocs, outputDocs int64) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(transformID).Inc()
	m.documentsProcessed.WithLabelValues(transformID).Add(float64(inputDocs))
	m.documentsIndexed.WithLabelValues(transformID).Add(float64(outputDocs))
}

func (m *Metrics) SearchFailed(transformID string) {
	if m == nil {
		return
	}
	m.searchFailures.WithLabelValues(transformID).Inc()
}

func (m *Metrics) IndexFailed(transformID string) {
	if m == nil {
		return
	}
	m.indexFailures.WithLabelValues(transformID).Inc()
}

func (m *Metrics) ChangeDetectionFailed(transformID string) {
	if m == nil {
		return
	}
	m.changeDetectionFailures.WithLabelValues(transformID).Inc()
}

func (m *Metrics) PageSizeReduced(transformID string, pageSize int) {
	if m == nil {
		return
	}
	m.pageSize.WithLabelValues(transformID).Set(float64(pageSize))
}

func (m *Metrics) CheckpointCompleted(transformID string, checkpoint int64) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(transformID).Set(float64(checkpoint))
}

func (m *Metrics) ObserveSearch(transformID string, took time.Duration) {
	if m == nil {
		return
	}
	m.searchDuration.WithLabelValues(transformID).Observe(took.Seconds())
}

func (m *Metrics) ObserveBulk(transformID string, took time.Duration) {
	if m == nil {
		return
	}
	m.bulkDuration.WithLabelValues(transformID).Observe(took.Seconds())
}

// SetState marks state as the current indexer state of a transform
func (m *Metrics) SetState(transformID, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.states.WithLabelValues(transformID, s).Set(v)
	}
}

// Forget removes every series of a deleted transform
func (m *Metrics) Forget(transformID string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"transform": transformID}
	for _, v := range []*prometheus.MetricVec{
		m.pages.MetricVec, m.documentsProcessed.MetricVec, m.documentsIndexed.MetricVec,
		m.searchFailures.MetricVec, m.indexFailures.MetricVec, m.changeDetectionFailures.MetricVec,
		m.checkpoints.MetricVec, m.pageSize.MetricVec, m.states.MetricVec,
		m.searchDuration.MetricVec, m.bulkDuration.MetricVec,
	} {
		v.DeletePartialMatch(labels)
	}
}
