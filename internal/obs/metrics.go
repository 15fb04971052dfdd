package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

	signOutConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signout_conflicts_total",
		Help: "Sign-out attempts rejected because the equipment was already out.",
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, signOutConflicts)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncSignOutConflict counts a rejected duplicate sign-out attempt.
func IncSignOutConflict() {
	signOutConflicts.Inc()
}

// Collection segments whose next path element is a resource id.
var idCollections = map[string]bool{
	"equipment-types":     true,
	"equipment":           true,
	"calibration-records": true,
	"sign-outs":           true,
	"requests":            true,
	"companies":           true,
	"sites":               true,
	"departments":         true,
	"profiles":            true,
	"usage":               true,
}

// Literal children that must not be mistaken for ids.
var fixedChildren = map[string]map[string]bool{
	"equipment": {"lookup": true},
	"sign-outs": {"batch": true, "check-in": true},
}

// CanonicalPath collapses resource ids in known routes so metric labels stay
// bounded. Unknown paths pass through untouched.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	prev := ""
	for i, s := range segs {
		if idCollections[prev] && !fixedChildren[prev][s] {
			if prev == "usage" {
				segs[i] = ":usage_id"
			} else {
				segs[i] = ":id"
			}
			prev = ""
			continue
		}
		prev = s
	}
	return "/" + strings.Join(segs, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
