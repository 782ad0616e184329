package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the rule builder.
type Metrics struct {
	apiRequests        *prometheus.CounterVec
	apiLatency         *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	rulesSubmitted     prometheus.Counter
	fieldResolutions   *prometheus.CounterVec
	staleResponses     prometheus.Counter
	samplerConnected   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_rules_api_requests_total",
			Help: "Requests issued to the admin API by operation and outcome",
		}, []string{"operation", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "device_rules_api_request_duration_seconds",
			Help:    "Admin API request latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_rules_validation_failures_total",
			Help: "Rule drafts rejected locally, by offending field",
		}, []string{"field"}),
		rulesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_rules_submitted_total",
			Help: "Rules accepted by the admin API",
		}),
		fieldResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_rules_field_resolutions_total",
			Help: "Condition field lists resolved, by winning source",
		}, []string{"source"}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_rules_stale_field_responses_total",
			Help: "Field lookups discarded because a newer device selection won",
		}),
		samplerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_rules_sampler_connected",
			Help: "Whether the telemetry sampler is connected to its broker",
		}),
	}

	collectors := []prometheus.Collector{
		m.apiRequests,
		m.apiLatency,
		m.validationFailures,
		m.rulesSubmitted,
		m.fieldResolutions,
		m.staleResponses,
		m.samplerConnected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveAPIRequest records one admin API call.
func (m *Metrics) ObserveAPIRequest(operation, status string, seconds float64) {
	m.apiRequests.WithLabelValues(operation, status).Inc()
	m.apiLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) IncValidationFailure(field string) {
	m.validationFailures.WithLabelValues(field).Inc()
}

func (m *Metrics) IncRulesSubmitted() {
	m.rulesSubmitted.Inc()
}

func (m *Metrics) IncFieldResolution(source string) {
	m.fieldResolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) IncStaleResponses() {
	m.staleResponses.Inc()
}

func (m *Metrics) SetSamplerConnected(connected bool) {
	if connected {
		m.samplerConnected.Set(1)
	} else {
		m.samplerConnected.Set(0)
	}
}
