package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcribe_gateway_active_jobs",
		Help: "Number of transcription jobs currently running",
	})

	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_requests_total",
		Help: "Total transcription requests by provider and outcome",
	}, []string{"provider", "status"})

	transcriptionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcribe_gateway_request_duration_seconds",
		Help:    "End-to-end transcription latency in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"provider"})

	uploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_upload_bytes_total",
		Help: "Total media bytes uploaded to providers",
	}, []string{"provider"})

	pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_poll_attempts_total",
		Help: "Status poll attempts against asynchronous provider jobs",
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcribe_gateway_errors_total",
		Help: "Errors by type and component",
	}, []string{"type", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcribe_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"provider"})
)

// JobStarted marks a transcription job as running.
func JobStarted() {
	activeJobs.Inc()
}

// JobFinished records the outcome and latency of a finished job.
func JobFinished(provider, status string, seconds float64) {
	activeJobs.Dec()
	transcriptionRequests.WithLabelValues(provider, status).Inc()
	transcriptionLatency.WithLabelValues(provider).Observe(seconds)
}

// AddUploadBytes accumulates media bytes sent to a provider.
func AddUploadBytes(provider string, n int64) {
	if n > 0 {
		uploadBytes.WithLabelValues(provider).Add(float64(n))
	}
}

// IncPollAttempt counts one status poll against a provider job.
func IncPollAttempt(provider string) {
	pollAttempts.WithLabelValues(provider).Inc()
}

// RecordError counts an error by taxonomy type and component.
func RecordError(errType, component string) {
	errorsTotal.WithLabelValues(errType, component).Inc()
}

// UpdateCircuitBreakerState publishes a breaker state transition.
func UpdateCircuitBreakerState(provider string, state int) {
	circuitBreakerState.WithLabelValues(provider).Set(float64(state))
}
