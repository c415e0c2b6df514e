package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the API-side Prometheus instruments.
type Metrics struct {
	Uploads         prometheus.Counter
	UploadBytes     prometheus.Counter
	Downloads       prometheus.Counter
	DownloadBytes   prometheus.Counter
	APIErrors       *prometheus.CounterVec // cipherdrop_api_errors_total{code}
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Uploads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_uploads_total",
			Help: "Successful file uploads.",
		}),
		UploadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_upload_bytes_total",
			Help: "Ciphertext bytes accepted.",
		}),
		Downloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_downloads_total",
			Help: "Successful file downloads.",
		}),
		DownloadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cipherdrop_download_bytes_total",
			Help: "Ciphertext bytes served.",
		}),
		APIErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cipherdrop_api_errors_total",
			Help: "API errors by taxonomy code.",
		}, []string{"code"}),
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cipherdrop_http_request_duration_seconds",
			Help:    "HTTP handler latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
