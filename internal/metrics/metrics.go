// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magarchive",
		Name:      "http_requests_total",
		Help:      "HTTP requests handled, by route and status.",
	}, []string{"route", "status"})

	// HTTPDuration observes request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "magarchive",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// OCRJobs counts pipeline outcomes.
	OCRJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magarchive",
		Subsystem: "pipeline",
		Name:      "ocr_jobs_total",
		Help:      "OCR jobs finished, by outcome (done, failed).",
	}, []string{"outcome"})

	// OCRDuration observes end-to-end OCR job time.
	OCRDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "magarchive",
		Subsystem: "pipeline",
		Name:      "ocr_job_duration_seconds",
		Help:      "End-to-end OCR job duration.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// OCRCompressRetries counts size-limit rejections that triggered a
	// compress-and-retry cycle.
	OCRCompressRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "magarchive",
		Subsystem: "pipeline",
		Name:      "ocr_compress_retries_total",
		Help:      "OCR requests retried after compressing the source PDF.",
	})

	// QueueDepth tracks OCR jobs waiting or running.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "magarchive",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "OCR jobs currently queued or running.",
	})

	// DraftRequests counts AI draft generations by outcome.
	DraftRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magarchive",
		Name:      "draft_requests_total",
		Help:      "AI metadata draft requests, by outcome (ok, error).",
	}, []string{"outcome"})

	// Exports counts export downloads by format.
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magarchive",
		Name:      "exports_total",
		Help:      "Export downloads, by format.",
	}, []string{"format"})
)
