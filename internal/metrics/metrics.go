// Package metrics exposes Prometheus metrics for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains all Prometheus metrics for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal     *prometheus.CounterVec // by final state
	StageDuration *prometheus.HistogramVec

	// Capture metrics
	RecordedSeconds prometheus.Histogram

	// Fan-out task metrics
	Translations       *prometheus.CounterVec // by lang, outcome
	Syntheses          *prometheus.CounterVec // by lang, outcome
	SynthesisInFlight  prometheus.Gauge
	TranslationLatency prometheus.Histogram
	SynthesisLatency   prometheus.Histogram

	// Provider circuit breakers
	BreakerTransitions *prometheus.CounterVec // by provider, to
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polyglot_runs_total",
			Help: "Pipeline runs by terminal state",
		}, []string{"state"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polyglot_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),

		RecordedSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyglot_recorded_audio_seconds",
			Help:    "Length of captured recordings",
			Buckets: []float64{1, 5, 10, 30, 60, 300},
		}),

		Translations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polyglot_translations_total",
			Help: "Translation tasks by target language and outcome",
		}, []string{"lang", "outcome"}),
		Syntheses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polyglot_syntheses_total",
			Help: "Speech synthesis tasks by language and outcome",
		}, []string{"lang", "outcome"}),
		SynthesisInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "polyglot_synthesis_in_flight",
			Help: "Synthesis calls currently running in the worker pool",
		}),
		TranslationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyglot_translation_latency_seconds",
			Help:    "Latency of individual translation calls",
			Buckets: prometheus.DefBuckets,
		}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyglot_synthesis_latency_seconds",
			Help:    "Latency of individual synthesis calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),

		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polyglot_breaker_transitions_total",
			Help: "Provider circuit breaker state changes",
		}, []string{"provider", "to"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTranslation records one translation task.
func (m *Metrics) ObserveTranslation(lang string, d time.Duration, err error) {
	m.Translations.WithLabelValues(lang, outcome(err)).Inc()
	m.TranslationLatency.Observe(d.Seconds())
}

// ObserveSynthesis records one synthesis task.
func (m *Metrics) ObserveSynthesis(lang string, d time.Duration, err error) {
	m.Syntheses.WithLabelValues(lang, outcome(err)).Inc()
	m.SynthesisLatency.Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
