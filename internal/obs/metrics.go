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

var (
	registryOnce sync.Once
	registry     *prometheus.Registry

	clientInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contenthub_client_in_flight",
		Help: "In-flight outbound API requests.",
	})

	clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contenthub_client_requests_total",
			Help: "Total number of outbound API requests.",
		},
		[]string{"method", "path", "status"},
	)

	clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contenthub_client_request_duration_seconds",
			Help:    "Outbound API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	tokenRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contenthub_token_renewals_total",
			Help: "Access token renewals by result (ok, failed, coalesced).",
		},
		[]string{"result"},
	)

	staleResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contenthub_store_stale_responses_total",
			Help: "Fetch responses discarded because a newer fetch was issued.",
		},
		[]string{"resource"},
	)

	serverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contenthub_devapi_requests_total",
			Help: "Requests served by the development API.",
		},
		[]string{"method", "path", "status"},
	)
)

// Registry returns the registry all contenthub collectors are registered on.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			clientInFlight,
			clientRequestsTotal,
			clientRequestDuration,
			tokenRenewals,
			staleResponses,
			serverRequestsTotal,
			buildInfo,
		)
	})
	return registry
}

// Handler exposes the contenthub registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// RecordRenewal counts a token renewal outcome.
func RecordRenewal(result string) {
	Registry()
	tokenRenewals.WithLabelValues(result).Inc()
}

// RecordStaleResponse counts a discarded fetch response for a resource store.
func RecordStaleResponse(resource string) {
	Registry()
	staleResponses.WithLabelValues(resource).Inc()
}

// InstrumentTransport wraps an outbound RoundTripper with request metrics.
func InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	Registry()
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		clientInFlight.Inc()
		defer clientInFlight.Dec()
		start := time.Now()

		resp, err := next.RoundTrip(r)
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		clientRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		clientRequestsTotal.WithLabelValues(method, path, status).Inc()
		return resp, err
	})
}

// Instrument wraps a server handler with request counting.
func Instrument(next http.Handler) http.Handler {
	Registry()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		serverRequestsTotal.WithLabelValues(r.Method, CanonicalPath(r.URL.Path), strconv.Itoa(sw.code)).Inc()
	})
}

var resourceSegments = map[string]struct{}{
	"posts":    {},
	"blogs":    {},
	"comments": {},
	"events":   {},
	"experts":  {},
}

// CanonicalPath collapses entity identifiers so metric label cardinality
// stays bounded: /posts/abc/like -> /posts/:id/like.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if _, ok := resourceSegments[parts[i-1]]; ok && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers keep working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
