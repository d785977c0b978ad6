// Package metrics exposes parse outcomes in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry    *prometheus.Registry
	documents   *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	markers     *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	confidence  prometheus.Histogram
	duration    *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Parsed documents by outcome and serving processor.",
		}, []string{"outcome", "processor"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_attempts_total",
			Help:      "Upstream processor calls by outcome.",
		}, []string{"processor", "outcome"}),
		markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_total",
			Help:      "Extracted markers by category.",
		}, []string{"category"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Local recoveries made while parsing.",
		}, []string{"kind"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_confidence",
			Help:      "Extraction confidence score (0-100).",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end parse latency.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 90},
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.documents, m.attempts, m.markers, m.diagnostics, m.confidence, m.duration)
	return m
}

// ObserveAttempt satisfies processor.Observer.
func (m *Metrics) ObserveAttempt(processorID, outcome string) {
	m.attempts.WithLabelValues(processorID, outcome).Inc()
}

// ObserveResult records a completed parse.
func (m *Metrics) ObserveResult(res parser.ExtractionResult, elapsed time.Duration) {
	outcome := outcomeLabel(res.Stats.ValidationStatus)
	m.documents.WithLabelValues(outcome, res.Stats.ProcessorID).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.confidence.Observe(res.Stats.ExtractionConfidence)

	for rec := range res.Categories.Records() {
		m.markers.WithLabelValues(string(rec.Category)).Inc()
	}

	d := res.Diagnostics
	for kind, n := range map[string]int{
		"normalization_unresolved": d.NormalizationUnresolved,
		"substitution":             d.Substitutions,
		"skipped_line":             d.SkippedLines,
		"range_parse_failure":      d.RangeParseFailures,
		"unclassified":             d.Unclassified,
		"fuzzy_match":              d.FuzzyMatches,
		"duplicate":                d.DuplicateRows,
	} {
		if n > 0 {
			m.diagnostics.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// ObserveFailure records a request that produced no result. outcome is a
// short reason such as "invalid_input" or "all_failed".
func (m *Metrics) ObserveFailure(outcome string, elapsed time.Duration) {
	m.documents.WithLabelValues(outcome, "").Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func outcomeLabel(status string) string {
	switch status {
	case parser.StatusLowMarkerCount:
		return "low_marker_count"
	case parser.StatusLowConfidence:
		return "low_confidence"
	default:
		return status
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
