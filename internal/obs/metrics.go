package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Token pairs issued, labelled by flow (login, social, refresh).",
		},
		[]string{"flow"},
	)

	theftDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_theft_detections_total",
		Help: "Refresh token reuse detections; each one revokes a full family set.",
	})

	verificationSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verification_sends_total",
			Help: "Verification code deliveries, labelled by outcome.",
		},
		[]string{"outcome"},
	)

	verificationValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verification_validations_total",
			Help: "Verification code validations, labelled by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokensIssued, theftDetections, verificationSends, verificationValidations,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountTokenIssued records a token pair issuance for the given flow.
func CountTokenIssued(flow string) { tokensIssued.WithLabelValues(flow).Inc() }

// CountTheftDetection records a refresh token reuse detection.
func CountTheftDetection() { theftDetections.Inc() }

// CountVerificationSend records a delivery attempt outcome.
func CountVerificationSend(outcome string) { verificationSends.WithLabelValues(outcome).Inc() }

// CountVerificationValidation records a validation outcome.
func CountVerificationValidation(outcome string) {
	verificationValidations.WithLabelValues(outcome).Inc()
}

// Instrument wraps an http.Handler with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
