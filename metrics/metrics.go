// Package metrics exposes the fact pipeline as prometheus collectors. It
// observes ingestion outcomes and samples store and bus state on scrape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact/store"
	"github.com/teranos/factwire/ingest"
	"github.com/teranos/factwire/validator"
)

const namespace = "factwire"

// Submission outcomes, used as the "outcome" label
const (
	OutcomeAdmitted       = "admitted"
	OutcomeNoChange       = "no_change"
	OutcomeInvalidValue   = "invalid_value"
	OutcomeInvalidRequest = "invalid_request"
	OutcomeError          = "error"
)

// Metrics owns a private registry so several engines (or tests) can coexist
// in one process.
type Metrics struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	admittedByLevel *prometheus.CounterVec
	confidence      prometheus.Histogram
	scorerFallbacks prometheus.Counter
	reviewRequired  prometheus.Counter
}

// New creates the collectors, along with Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Candidate submissions by outcome.",
		}, []string{"outcome"}),
		admittedByLevel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_total",
			Help:      "Admitted facts by importance.",
		}, []string{"importance"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_confidence",
			Help:      "Confidence of admitted facts.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		scorerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scorer_fallbacks_total",
			Help:      "Admissions that fell back to rule-only confidence.",
		}),
		reviewRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_required_total",
			Help:      "Admissions flagged for human review.",
		}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.admittedByLevel,
		m.confidence,
		m.scorerFallbacks,
		m.reviewRequired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements ingest.Observer
func (m *Metrics) Observe(res ingest.AdmissionResult, d validator.Decision, err error) {
	m.submissions.WithLabelValues(outcome(res, err)).Inc()
	if !res.Admitted {
		return
	}
	m.admittedByLevel.WithLabelValues(res.Importance.String()).Inc()
	m.confidence.Observe(res.Confidence)
	if d.ReducedConfidence {
		m.scorerFallbacks.Inc()
	}
	if res.RequiresHumanReview {
		m.reviewRequired.Inc()
	}
}

func outcome(res ingest.AdmissionResult, err error) string {
	switch {
	case res.Admitted:
		return OutcomeAdmitted
	case err == nil:
		return OutcomeNoChange
	case errors.IsInvalidValue(err):
		return OutcomeInvalidValue
	case errors.IsInvalidRequestError(err):
		return OutcomeInvalidRequest
	}
	return OutcomeError
}

// WatchStore samples store size on every scrape
func (m *Metrics) WatchStore(stats func() store.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "facts_current",
			Help:      "Keys with a current fact.",
		}, func() float64 { return float64(stats().TotalFacts) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_length",
			Help:      "Admitted facts in history.",
		}, func() float64 { return float64(stats().HistoryLen) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Distinct entities with at least one fact.",
		}, func() float64 { return float64(stats().Entities) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_errors_total",
			Help:      "Journal writes that failed.",
		}, func() float64 { return float64(stats().JournalErrors) }),
	)
}

// BusState is the part of the bus sampled on scrape. *bus.Bus satisfies it.
type BusState interface {
	Subscribers() int
	Pending() int
}

// WatchBus samples subscriber count and dispatch backlog on every scrape
func (m *Metrics) WatchBus(b BusState) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Live bus subscriptions.",
		}, func() float64 { return float64(b.Subscribers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_pending",
			Help:      "Facts queued for dispatch.",
		}, func() float64 { return float64(b.Pending()) }),
	)
}

// Registerer exposes the registry for collectors owned elsewhere
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
