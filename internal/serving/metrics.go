package serving

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the server's Prometheus collectors.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Predictions *prometheus.CounterVec
	ModelLoads  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fraud",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "predictions_total",
			Help:      "Prediction outcomes: fraud, legit or error.",
		}, []string{"outcome"}),
		ModelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud",
			Name:      "model_loads_total",
			Help:      "Model bundles loaded by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.Predictions, m.ModelLoads)
	return m
}
