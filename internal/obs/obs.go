// Package obs carries the ambient observability stack shared by the
// Agent and Collector HTTP surfaces: structured logging setup and a
// Prometheus instrumentation middleware for net/http handlers, scaled
// down from the prometheus-engine example's Prometheus instrumentation
// (client_golang, promauto, promhttp) without the tracing and request/response-size
// middlewares, since this repo has no tracer to wire them to.
package obs

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewLogger builds the process-wide slog handler. Text output mirrors
// what an operator tailing journald expects; level is configurable so
// a debug build can turn on verbose polling logs without a rebuild.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Middleware wraps net/http handlers with Prometheus metrics, one
// registration per distinct handler name. WrapHandler may be called
// more than once for the same name (e.g. a server rebuilding its
// mux, or a test harness standing up several servers against the
// same registry), so the per-name vectors are cached rather than
// re-registered, which would panic on the second call.
type Middleware struct {
	reg prometheus.Registerer

	mu    sync.Mutex
	cache map[string]handlerMetrics
}

type handlerMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMiddleware builds a Middleware backed by reg. Passing
// prometheus.DefaultRegisterer wires metrics into the default
// /metrics handler exposed by promhttp.Handler().
func NewMiddleware(reg prometheus.Registerer) *Middleware {
	return &Middleware{reg: reg, cache: make(map[string]handlerMetrics)}
}

// WrapHandler registers http_requests_total and
// http_request_duration_seconds for handlerName (both partitioned by
// method and status code, with a constant "handler" label) and
// returns handler wrapped to report to them.
func (m *Middleware) WrapHandler(handlerName string, handler http.Handler) http.HandlerFunc {
	m.mu.Lock()
	hm, ok := m.cache[handlerName]
	if !ok {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.reg)
		hm = handlerMetrics{
			requestsTotal: registerCounterVec(reg, prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests served.",
			}, []string{"method", "code"}),
			requestDuration: registerHistogramVec(reg, prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "code"}),
		}
		m.cache[handlerName] = hm
	}
	m.mu.Unlock()

	base := promhttp.InstrumentHandlerCounter(
		hm.requestsTotal,
		promhttp.InstrumentHandlerDuration(hm.requestDuration, handler),
	)
	return base.ServeHTTP
}

// registerCounterVec registers a CounterVec with reg, returning the
// already-registered collector instead of panicking when the same
// name+labels were registered before (two servers sharing one
// underlying prometheus.Registerer, as in the test suite).
func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return vec
}

func registerHistogramVec(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return vec
}

// PollDuration and PollErrors track the Collector Loop's per-host
// gather cycle, independent of the HTTP surface.
var (
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_duration_seconds",
			Help:    "Duration of one per-host poll cycle.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host_id"},
	)
	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Count of failed poll cycles by host.",
		},
		[]string{"host_id"},
	)
)

// ObservePoll records one poll cycle's outcome and duration.
func ObservePoll(hostID string, start time.Time, err error) {
	PollDuration.WithLabelValues(hostID).Observe(time.Since(start).Seconds())
	if err != nil {
		PollErrors.WithLabelValues(hostID).Inc()
	}
}
