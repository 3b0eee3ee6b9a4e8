// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ModelRequestsTotal counts calls to the generative model by operation and outcome
	// (success, overloaded, error).
	ModelRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labsight",
		Subsystem: "model",
		Name:      "requests_total",
		Help:      "Generative model calls, labeled by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ModelRetriesTotal counts backoff sleeps taken because the provider was overloaded.
	ModelRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labsight",
		Subsystem: "model",
		Name:      "retries_total",
		Help:      "Retries scheduled after a transient provider overload.",
	})

	// AnalysesTotal counts per-image analyses by result (success, fetch_error, model_error, parse_error).
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labsight",
		Subsystem: "analysis",
		Name:      "images_total",
		Help:      "Per-image analyses, labeled by result.",
	}, []string{"result"})

	// AnalysisDurationSeconds is the end-to-end time of one image analysis including retries.
	AnalysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "labsight",
		Subsystem: "analysis",
		Name:      "image_duration_seconds",
		Help:      "Time to analyze one report image, including fetch and retries.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	})

	// ChatRepliesTotal counts chat replies by result (success, fallback).
	ChatRepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labsight",
		Subsystem: "chat",
		Name:      "replies_total",
		Help:      "Chat replies, labeled by result.",
	}, []string{"result"})
)

// MustRegister registers all collectors with the default registry. Safe to call more than once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			ModelRequestsTotal,
			ModelRetriesTotal,
			AnalysesTotal,
			AnalysisDurationSeconds,
			ChatRepliesTotal,
		)
	})
}
