// Package observability exposes Prometheus metrics for the model lifecycle
// and synthesis requests.
package observability

import (
	"time"

	"github.com/book-expert/indextts-service/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Registry *prometheus.Registry

	ModelState        *prometheus.GaugeVec
	ModelLoadSeconds  *prometheus.HistogramVec
	SynthesisRequests *prometheus.CounterVec
	SynthesisSeconds  prometheus.Histogram
	AudioSeconds      prometheus.Histogram
}

var modelStates = []model.State{model.StateUnloaded, model.StateLoading, model.StateLoaded, model.StateError}

// NewMetrics registers the instruments on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,
		ModelState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_state",
			Help:      "1 for the current model lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		ModelLoadSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_seconds",
			Help:      "Model construction time by result.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		SynthesisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis requests by outcome.",
		}, []string{"outcome"}),
		SynthesisSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_seconds",
			Help:      "Wall time of synthesis requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		AudioSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_seconds",
			Help:      "Duration of synthesized audio.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}),
	}

	m.ObserveModelState(model.StateUnloaded)

	return m
}

// ObserveModelState sets the state gauge.
func (m *Metrics) ObserveModelState(state model.State) {
	for _, s := range modelStates {
		value := 0.0
		if s == state {
			value = 1
		}

		m.ModelState.WithLabelValues(s.String()).Set(value)
	}
}

// ObserveModelLoad records one construction attempt.
func (m *Metrics) ObserveModelLoad(elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}

	m.ModelLoadSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveSynthesis records one synthesis request.
func (m *Metrics) ObserveSynthesis(outcome string, elapsed time.Duration) {
	m.SynthesisRequests.WithLabelValues(outcome).Inc()
	m.SynthesisSeconds.Observe(elapsed.Seconds())
}

// ObserveAudioSeconds records the length of produced audio.
func (m *Metrics) ObserveAudioSeconds(seconds float64) {
	m.AudioSeconds.Observe(seconds)
}
