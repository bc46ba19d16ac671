package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wallpaperd/wallpaperd/pkg/metrics"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
)

// rateLimitMetrics is the Prometheus implementation of ratelimit.Metrics.
type rateLimitMetrics struct {
	decisionsTotal *prometheus.CounterVec
}

// NewRateLimitMetrics creates a Prometheus-backed ratelimit.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRateLimitMetrics() ratelimit.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &rateLimitMetrics{
		decisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_ratelimit_decisions_total",
				Help: "Total number of rate-limit decisions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *rateLimitMetrics) RecordDecision(allowed bool) {
	if m == nil {
		return
	}

	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}
