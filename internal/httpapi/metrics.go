package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcserve",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlcserve",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mlcserve",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"method"},
	)

	streamDeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcserve",
			Subsystem: "stream",
			Name:      "deltas_total",
			Help:      "Text deltas forwarded to clients",
		},
		[]string{"path"},
	)

	streamFirstDelta = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlcserve",
			Subsystem: "stream",
			Name:      "first_delta_seconds",
			Help:      "Time from request start to the first forwarded delta",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"path"},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlcserve",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Completion streams ended by an engine error",
		},
		[]string{"path", "phase"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight,
		streamDeltasTotal, streamFirstDelta, streamErrorsTotal)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		inflight := httpInflight.WithLabelValues(r.Method)
		inflight.Inc()
		defer func() {
			inflight.Dec()
			// chi fills the pattern while routing, so read it afterwards.
			path := routeLabel(r)
			status := strconv.Itoa(sr.status)
			httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
			httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(sr, r)
	})
}

// unmatchedRoute labels requests no route matched, keeping label
// cardinality bounded.
const unmatchedRoute = "unmatched"

// routeLabel returns the chi route pattern, or unmatchedRoute.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// streamMetrics counts what one completion request forwarded.
type streamMetrics struct {
	path   string
	start  time.Time
	deltas int
}

func newStreamMetrics(path string) *streamMetrics {
	return &streamMetrics{path: path, start: time.Now()}
}

func (m *streamMetrics) delta() {
	if m.deltas == 0 {
		streamFirstDelta.WithLabelValues(m.path).Observe(time.Since(m.start).Seconds())
	}
	m.deltas++
	streamDeltasTotal.WithLabelValues(m.path).Inc()
}

func (m *streamMetrics) failed(phase string) {
	streamErrorsTotal.WithLabelValues(m.path, phase).Inc()
}
