package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "athledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "athledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "athledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	sharesInitiated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "athledger",
			Subsystem: "sharing",
			Name:      "initiated_total",
			Help:      "Total number of sharing agreements opened.",
		},
	)

	sharesApproved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "athledger",
			Subsystem: "sharing",
			Name:      "approved_total",
			Help:      "Total number of sharing agreements approved.",
		},
	)

	sharesRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "athledger",
			Subsystem: "sharing",
			Name:      "revoked_total",
			Help:      "Total number of sharing agreements revoked.",
		},
	)

	revenueCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "athledger",
			Subsystem: "sharing",
			Name:      "revenue_credited_total",
			Help:      "Total revenue credited to athletes through approvals.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		sharesInitiated,
		sharesApproved,
		sharesRevoked,
		revenueCredited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// Recorder feeds the sharing workflow counters. It satisfies the sharing
// service's Recorder interface.
type Recorder struct{}

func (Recorder) ShareInitiated() {
	sharesInitiated.Inc()
}

func (Recorder) ShareApproved(amount float64) {
	sharesApproved.Inc()
	revenueCredited.Add(amount)
}

func (Recorder) ShareRevoked() {
	sharesRevoked.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/api"
	}
	resource := parts[1]
	if len(parts) == 2 {
		return "/api/" + resource
	}
	return "/api/" + resource + "/:id"
}
