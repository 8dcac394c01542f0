package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 10},
		},
		[]string{"method", "route"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_dispatch_total",
			Help: "Adapter sends by channel kind and result",
		},
		[]string{"kind", "result"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_dispatch_duration_seconds",
			Help:    "Time spent in one adapter send",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)

	recordsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_records_completed_total",
			Help: "Records moved to a terminal status",
		},
		[]string{"status"},
	)

	recordsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_records_swept_total",
			Help: "Stale pending records failed by the sweeper",
		},
	)

	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_jobs_enqueued_total",
			Help: "Async send jobs handed to the queue by kind",
		},
		[]string{"kind"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_jobs_processed_total",
			Help: "Async send jobs processed by result",
		},
		[]string{"result"},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_jobs_in_flight",
			Help: "Jobs currently being executed by workers",
		},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_circuit_state",
			Help: "Channel circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"channel"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDispatch records one adapter send. result is "success" or "failed".
func RecordDispatch(kind, result string, duration time.Duration) {
	dispatchTotal.WithLabelValues(kind, result).Inc()
	dispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCompleted counts a record reaching a terminal status
func RecordCompleted(status string) {
	recordsCompleted.WithLabelValues(status).Inc()
}

// RecordSwept counts records failed by the stale-pending sweep
func RecordSwept(n int64) {
	recordsSwept.Add(float64(n))
}

// RecordJobEnqueued counts an async job handed to the queue
func RecordJobEnqueued(kind string) {
	jobsEnqueued.WithLabelValues(kind).Inc()
}

// RecordJobProcessed counts a job the worker finished. result is
// "done", "error", "dropped" or "receive_error".
func RecordJobProcessed(result string) {
	jobsProcessed.WithLabelValues(result).Inc()
}

// IncJobsInFlight and DecJobsInFlight track jobs being executed.
func IncJobsInFlight() { jobsInFlight.Inc() }

// DecJobsInFlight marks a job finished.
func DecJobsInFlight() { jobsInFlight.Dec() }

// SetCircuitState publishes a channel breaker state
func SetCircuitState(channel string, state int) {
	circuitState.WithLabelValues(channel).Set(float64(state))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route
// pattern, so ids in paths do not blow up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
