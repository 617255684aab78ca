// Package metrics defines the Prometheus instruments for the generation
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationAttempts counts started attempts per flow ("image"/"video").
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grokpi_generation_attempts_total",
		Help: "Generation attempts started, by flow",
	}, []string{"flow"})

	// GenerationOutcomes counts finished calls per flow and outcome.
	GenerationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grokpi_generation_outcomes_total",
		Help: "Generation call outcomes, by flow and outcome",
	}, []string{"flow", "outcome"})

	// BlockedDetections counts stall-heuristic hits.
	BlockedDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grokpi_blocked_detections_total",
		Help: "Attempts terminated by the blocked heuristic",
	})

	// CredentialRotations counts credential switches during retry.
	CredentialRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grokpi_credential_rotations_total",
		Help: "Credential rotations triggered by failures",
	})

	// GenerationDuration observes wall time of whole orchestrated calls.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grokpi_generation_duration_seconds",
		Help:    "Duration of orchestrated generation calls",
		Buckets: prometheus.ExponentialBuckets(1, 2, 9),
	}, []string{"flow"})
)
