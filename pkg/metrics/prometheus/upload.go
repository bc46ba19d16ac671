// Package prometheus implements the metrics observer interfaces of the
// ingestion pipeline on promauto collectors.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wallpaperd/wallpaperd/pkg/metrics"
	"github.com/wallpaperd/wallpaperd/pkg/upload"
)

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	uploadsTotal     *prometheus.CounterVec
	uploadDuration   *prometheus.HistogramVec
	uploadBytes      prometheus.Counter
	rejectionsTotal  *prometheus.CounterVec
	publishFailTotal prometheus.Counter
}

// NewUploadMetrics creates a Prometheus-backed upload.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() upload.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_uploads_total",
				Help: "Total number of upload requests by outcome",
			},
			[]string{"outcome"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wallpaperd_upload_duration_seconds",
				Help: "End-to-end duration of upload requests",
				Buckets: []float64{
					0.05, // validation-only failures
					0.1,
					0.25,
					0.5,
					1,
					2.5, // large originals
					5,
					10,
				},
			},
			[]string{"outcome"},
		),
		uploadBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wallpaperd_upload_bytes_total",
				Help: "Total original bytes written to the object store",
			},
		),
		rejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallpaperd_upload_rejections_total",
				Help: "Total number of rejected upload requests by reason",
			},
			[]string{"reason"},
		),
		publishFailTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "wallpaperd_upload_publish_failures_total",
				Help: "Total number of uploaded-event publish failures deferred to the reconciler",
			},
		),
	}
}

func (m *uploadMetrics) ObserveUpload(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *uploadMetrics) RecordUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

func (m *uploadMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *uploadMetrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailTotal.Inc()
}
