package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the introspection API.
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
)

// Scope and realtime metrics.
var (
	scopeRecomputes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scope_recomputes_total",
		Help: "Successful data scope recomputations.",
	})

	scopeStaleDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scope_stale_results_dropped_total",
		Help: "Resolver results dropped because a newer refresh already applied.",
	})

	scopeRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scope_refresh_failures_total",
		Help: "Scope refreshes that failed and retained the previous scope.",
	})

	selectionResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warehouse_selection_resets_total",
		Help: "Forced warehouse reselections caused by scope shrinkage.",
	})

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime change-feed events by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	realtimeRefetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_refetches_total",
			Help: "Coalesced refetch triggers dispatched per table.",
		},
		[]string{"table"},
	)

	providerStageReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_stage_ready",
			Help: "Whether a provider stage is ready (1) or not (0).",
		},
		[]string{"stage"},
	)
)

// Init registers all metrics in the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		scopeRecomputes, scopeStaleDrops, scopeRefreshFailures,
		selectionResets, realtimeEvents, realtimeRefetches,
		providerStageReady,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ScopeRecomputed increments the recompute counter.
func ScopeRecomputed() { scopeRecomputes.Inc() }

// ScopeStaleDropped counts a resolver result discarded for being stale.
func ScopeStaleDropped() { scopeStaleDrops.Inc() }

// ScopeRefreshFailed counts a refresh that retained the previous scope.
func ScopeRefreshFailed() { scopeRefreshFailures.Inc() }

// SelectionReset counts a forced reselection.
func SelectionReset() { selectionResets.Inc() }

// RealtimeEvent records a change-feed event outcome: "accepted", "discarded"
// or "coalesced".
func RealtimeEvent(table, outcome string) {
	realtimeEvents.WithLabelValues(table, outcome).Inc()
}

// RealtimeRefetch records a dispatched refetch trigger.
func RealtimeRefetch(table string) {
	realtimeRefetches.WithLabelValues(table).Inc()
}

// StageReady reports a provider stage readiness flip.
func StageReady(stage string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	providerStageReady.WithLabelValues(stage).Set(v)
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

// CanonicalPath collapses identifier segments so the path label stays low
// cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[1] == "v1" && parts[2] == "providers" && parts[3] != "" {
		return "/v1/providers/:stage"
	}
	if len(parts) == 5 && parts[1] == "v1" && parts[2] == "providers" && parts[4] == "retry" {
		return "/v1/providers/:stage/retry"
	}
	return path
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
