package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "files_uploaded_total", Help: "Total files accepted by the intake API"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "uploads_rate_limited_total", Help: "Uploads rejected by the rate limiter"})
	DispatchCounter  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobs_dispatched_total", Help: "Jobs routed to an analyzer, by category"}, []string{"category"})
	UnsupportedJobs  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_unsupported_total", Help: "Jobs failed with an unsupported content type"})
	StaleMessages    = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_stale_messages_total", Help: "Queue messages acked without a matching job record"})
	AnalyzerFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyzer_invocations_failed_total", Help: "Analyzer invocations that exhausted retries"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_ready_depth", Help: "Job ids waiting in the ready queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_inflight", Help: "Job ids currently leased by a dispatcher"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadCounter,
			RateLimitRejects,
			DispatchCounter,
			UnsupportedJobs,
			StaleMessages,
			AnalyzerFailures,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
