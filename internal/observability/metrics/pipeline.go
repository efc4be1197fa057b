// Package metrics provides custom Prometheus metrics for event pipeline operations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics related to motion event processing.
type PipelineMetrics struct {
	EventsProcessed     *prometheus.CounterVec // Events by event type and processing status
	DetectionDuration   prometheus.Histogram   // Object detection inference latency
	RecognitionOutcomes *prometheus.CounterVec // Face recognition outcomes
	UnlockAttempts      *prometheus.CounterVec // Lock actuation attempts by result

	registry *prometheus.Registry
}

// NewPipelineMetrics creates a new instance of PipelineMetrics and registers
// it with the provided registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() error {
	m.EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_events_processed_total",
			Help: "Total number of motion events processed by event type and status",
		},
		[]string{"event_type", "status"}, // status: processed, error
	)

	m.DetectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchtower_detection_duration_seconds",
			Help:    "Time taken for object detection on a captured frame",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1.0, 2.0, 5.0},
		},
	)

	m.RecognitionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_recognition_outcomes_total",
			Help: "Total number of face recognition outcomes by result",
		},
		[]string{"outcome"}, // outcome: match, stranger, no_person
	)

	m.UnlockAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_unlock_attempts_total",
			Help: "Total number of door unlock attempts by result",
		},
		[]string{"result"}, // result: granted, rejected, cooldown, error
	)

	return nil
}

// IncrementEventProcessed records one processed event.
func (m *PipelineMetrics) IncrementEventProcessed(eventType, status string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, status).Inc()
}

// ObserveDetectionDuration records one detection inference latency.
func (m *PipelineMetrics) ObserveDetectionDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(d.Seconds())
}

// IncrementRecognitionOutcome records one face recognition outcome.
func (m *PipelineMetrics) IncrementRecognitionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RecognitionOutcomes.WithLabelValues(outcome).Inc()
}

// IncrementUnlockAttempt records one lock actuation attempt.
func (m *PipelineMetrics) IncrementUnlockAttempt(result string) {
	if m == nil {
		return
	}
	m.UnlockAttempts.WithLabelValues(result).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EventsProcessed.Collect(ch)
	ch <- m.DetectionDuration
	m.RecognitionOutcomes.Collect(ch)
	m.UnlockAttempts.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EventsProcessed.Describe(ch)
	ch <- m.DetectionDuration.Desc()
	m.RecognitionOutcomes.Describe(ch)
	m.UnlockAttempts.Describe(ch)
}
