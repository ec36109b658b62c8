package metrics

import (
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "jss"

// Upload outcomes recorded by ObserveUpload.
const (
	UploadCompleted = "completed"
	UploadPartial   = "partial"
	UploadAborted   = "aborted"
)

// Metrics owns a private Prometheus registry with the collectors used by the
// client transport, multipart uploads and the test server.
type Metrics struct {
	reg *prometheus.Registry

	inflight prometheus.Gauge
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	parts     *prometheus.CounterVec
	partBytes prometheus.Counter
	uploads   *prometheus.CounterVec

	served *prometheus.CounterVec
}

// New creates a Metrics instance with a fresh registry and registers collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "inflight_requests",
			Help:      "Current number of outstanding requests sent by the client.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Total number of requests sent by the client, partitioned by status code and method.",
		}, []string{"code", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Histogram of client request latencies.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
		parts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multipart",
			Name:      "parts_total",
			Help:      "Multipart parts sent, partitioned by result.",
		}, []string{"result"}),
		partBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multipart",
			Name:      "part_bytes_total",
			Help:      "Bytes carried by successfully uploaded parts.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multipart",
			Name:      "uploads_total",
			Help:      "Multipart uploads finished, partitioned by outcome.",
		}, []string{"result"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served, partitioned by status code and method.",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(m.inflight, m.requests, m.latency, m.parts, m.partBytes, m.uploads, m.served)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RoundTripper instruments next with the client request collectors.
func (m *Metrics) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inflight,
		promhttp.InstrumentRoundTripperCounter(m.requests,
			promhttp.InstrumentRoundTripperDuration(m.latency, next)))
}

// ObservePart records the result of a single part upload.
func (m *Metrics) ObservePart(ok bool, size int) {
	if m == nil {
		return
	}
	if !ok {
		m.parts.WithLabelValues("failed").Inc()
		return
	}
	m.parts.WithLabelValues("ok").Inc()
	m.partBytes.Add(float64(size))
}

// ObserveUpload records how a multipart upload ended.
func (m *Metrics) ObserveUpload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests served by next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.served.WithLabelValues(strconv.Itoa(rec.status), r.Method).Inc()
	})
}

// WriteText writes every collected family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
