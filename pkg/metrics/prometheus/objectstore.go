package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wallpaperd/wallpaperd/pkg/metrics"
	"github.com/wallpaperd/wallpaperd/pkg/store/object"
)

// objectStoreMetrics is the Prometheus implementation of object.Metrics.
type objectStoreMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewObjectStoreMetrics creates a Prometheus-backed object.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewObjectStoreMetrics() object.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &objectStoreMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_object_store_operations_total",
				Help: "Total number of object store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wallpaperd_object_store_operation_duration_seconds",
				Help: "Duration of object store operations",
				Buckets: []float64{
					0.01, // metadata operations
					0.05,
					0.1,
					0.5,
					1, // medium objects
					5,
					10, // very large originals
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_object_store_bytes_total",
				Help: "Total bytes transferred by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *objectStoreMetrics) ObserveOperation(operation string, seconds float64, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *objectStoreMetrics) RecordBytes(operation string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(operation).Add(float64(n))
}
