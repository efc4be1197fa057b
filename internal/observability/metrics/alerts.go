package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains all Prometheus metrics related to outbound alerts.
type AlertMetrics struct {
	AlertsSent       *prometheus.CounterVec // Delivered alerts by provider and category
	AlertsSuppressed *prometheus.CounterVec // Suppressed alerts by category and reason
	AlertErrors      *prometheus.CounterVec // Dropped alerts by provider

	registry *prometheus.Registry
}

// NewAlertMetrics creates a new instance of AlertMetrics and registers it
// with the provided registry.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize alert metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register alert metrics: %w", err)
	}
	return m, nil
}

func (m *AlertMetrics) initMetrics() error {
	m.AlertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_sent_total",
			Help: "Total number of alerts delivered by provider and category",
		},
		[]string{"provider", "category"},
	)

	m.AlertsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by category and reason",
		},
		[]string{"category", "reason"}, // reason: window, muted
	)

	m.AlertErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alert_errors_total",
			Help: "Total number of alerts dropped after delivery failure by provider",
		},
		[]string{"provider"},
	)

	return nil
}

// IncrementAlertSent records one delivered alert.
func (m *AlertMetrics) IncrementAlertSent(provider, category string) {
	if m == nil {
		return
	}
	m.AlertsSent.WithLabelValues(provider, category).Inc()
}

// IncrementAlertSuppressed records one suppressed alert.
func (m *AlertMetrics) IncrementAlertSuppressed(category, reason string) {
	if m == nil {
		return
	}
	m.AlertsSuppressed.WithLabelValues(category, reason).Inc()
}

// IncrementAlertError records one dropped alert.
func (m *AlertMetrics) IncrementAlertError(provider string) {
	if m == nil {
		return
	}
	m.AlertErrors.WithLabelValues(provider).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *AlertMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AlertsSent.Collect(ch)
	m.AlertsSuppressed.Collect(ch)
	m.AlertErrors.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *AlertMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.AlertsSent.Describe(ch)
	m.AlertsSuppressed.Describe(ch)
	m.AlertErrors.Describe(ch)
}
