package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wallpaperd/wallpaperd/pkg/metrics"
	"github.com/wallpaperd/wallpaperd/pkg/reconcile"
)

// reconcilerMetrics is the Prometheus implementation of reconcile.Metrics.
type reconcilerMetrics struct {
	actionsTotal    *prometheus.CounterVec
	surrendersTotal prometheus.Counter
	passDuration    *prometheus.HistogramVec
	passesTotal     *prometheus.CounterVec
}

// NewReconcilerMetrics creates a Prometheus-backed reconcile.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewReconcilerMetrics() reconcile.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &reconcilerMetrics{
		actionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_reconciler_actions_total",
				Help: "Total number of repair actions by loop and action",
			},
			[]string{"loop", "action"},
		),
		surrendersTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wallpaperd_reconciler_surrenders_total",
				Help: "Total number of records abandoned after exhausting reconciliation attempts",
			},
		),
		passDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wallpaperd_reconciler_pass_duration_seconds",
				Help: "Duration of reconciler passes by loop",
				Buckets: []float64{
					0.001,
					0.01,
					0.05,
					0.1,
					0.5,
					1,
					5,
				},
			},
			[]string{"loop"},
		),
		passesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_reconciler_passes_total",
				Help: "Total number of reconciler passes by loop and status",
			},
			[]string{"loop", "status"},
		),
	}
}

func (m *reconcilerMetrics) RecordAction(loop, action string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(loop, action).Inc()
}

func (m *reconcilerMetrics) RecordSurrender() {
	if m == nil {
		return
	}
	m.surrendersTotal.Inc()
}

func (m *reconcilerMetrics) ObservePass(loop string, seconds float64, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.passesTotal.WithLabelValues(loop, status).Inc()
	m.passDuration.WithLabelValues(loop).Observe(seconds)
}
