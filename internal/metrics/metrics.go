// ABOUTME: Prometheus instrumentation for dispatch, HTTP and conversation funnel state
// ABOUTME: Collectors live on a private registry exposed through Handler

package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/funnel-gateway/internal/dispatch"
)

const namespace = "funnel"

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of capability dispatches",
			},
			[]string{"operation", "capability", "path", "outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Capability dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"capability", "path"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Register adds extra collectors, such as the funnel collector.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the exposition format for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDispatch implements dispatch.Observer.
func (m *Metrics) ObserveDispatch(_ context.Context, ev dispatch.Event) {
	capability := ev.Capability
	if capability == "" {
		capability = "unknown"
	}
	m.dispatchTotal.WithLabelValues(ev.Operation, capability, string(ev.Path), outcome(ev)).Inc()
	m.dispatchDuration.WithLabelValues(capability, string(ev.Path)).Observe(ev.Duration.Seconds())
}

// outcome labels a dispatch: success, failure (result with success=false),
// caller_error, a transport error kind, or error.
func outcome(ev dispatch.Event) string {
	if ev.Err == nil {
		if ev.Success {
			return "success"
		}
		return "failure"
	}
	if dispatch.IsCallerError(ev.Err) {
		return "caller_error"
	}
	var te *dispatch.TransportError
	if errors.As(ev.Err, &te) {
		return strings.ReplaceAll(te.Kind.String(), " ", "_")
	}
	return "error"
}

// Middleware records request count and latency under a fixed route label.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter captures the response status. It forwards Flush so SSE
// handlers keep streaming.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
