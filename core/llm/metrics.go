package llm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_generations_total",
		Help: "Prompt generation calls by provider, input kind and outcome",
	}, []string{"provider", "mode", "status"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prompt_generation_duration_seconds",
		Help:    "Time spent in a single prompt generation call",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "mode"})

	fallbackParses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_fallback_parses_total",
		Help: "Responses that did not match the requested JSON shape and were parsed heuristically",
	}, []string{"provider"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownProvider):
		return "invalid_input"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "transport_error"
	}
}
