package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// Outbound calls made by node clients, labeled by operation.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "requests_total",
			Help:      "Total number of node API requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peersync",
			Name:      "request_duration_seconds",
			Help:      "Latency of node API requests.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peersync",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight node API requests.",
		},
		[]string{"op"},
	)

	// Inbound requests served by a development node.
	ServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersync",
			Subsystem: "devnode",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served by the development node.",
		},
		[]string{"op", "status"},
	)

	// ---- Identifier stream ----
	StreamRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "stream_records_total",
			Help:      "Identifier stream records by result (ok, failed, dropped).",
		},
		[]string{"result"},
	)

	// ---- Convergence verifier ----
	VerifyPolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "verify_polls_total",
			Help:      "Number of convergence probes issued.",
		},
	)

	VerifyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersync",
			Name:      "verify_outcomes_total",
			Help:      "Convergence waits by outcome.",
		},
		[]string{"outcome"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peersync",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "peersync",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight, ServedTotal,
		StreamRecords, VerifyPolls, VerifyOutcomes,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// StatusClass turns a status code into the "2xx" style label. Zero means
// no response arrived.
func StatusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ---- Client instrumentation ----

// StartRequest marks an outbound request in flight. Call the returned func
// with the response status (0 on transport failure) when it completes.
func StartRequest(op string) func(status int) {
	start := time.Now()
	InFlight.WithLabelValues(op).Inc()
	return func(status int) {
		InFlight.WithLabelValues(op).Dec()
		RequestsTotal.WithLabelValues(op, StatusClass(status)).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets event-stream handlers push records through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/p2p/info", telemetry.Instrument("info", http.HandlerFunc(n.info)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		ServedTotal.WithLabelValues(op, StatusClass(sw.status)).Inc()
	})
}
