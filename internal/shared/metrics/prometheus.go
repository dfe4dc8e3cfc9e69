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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	casesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Total number of cases created",
		},
		[]string{"channel", "source"},
	)

	casesStateChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_state_changed_total",
			Help: "Total number of case state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	transitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_transitions_rejected_total",
			Help: "Total number of rejected case state transitions",
		},
		[]string{"reason"},
	)

	credentialLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_credential_lookups_total",
			Help: "Total number of public case lookups by outcome",
		},
		[]string{"outcome"},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"permission", "decision"},
	)

	permissionSubsetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_subset_rejections_total",
			Help: "Total number of role or archetype edits rejected by the subset check",
		},
		[]string{"target"},
	)

	notificationsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_queued_total",
			Help: "Total number of notification intents handed to the notifier",
		},
		[]string{"template", "status"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so case IDs do
// not end up as label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordCaseCreated records a case creation
func RecordCaseCreated(channel, source string) {
	casesCreated.WithLabelValues(channel, source).Inc()
}

// RecordCaseStateChange records a case state transition
func RecordCaseStateChange(fromState, toState string) {
	casesStateChanged.WithLabelValues(fromState, toState).Inc()
}

// RecordTransitionRejected records a transition refused by the state graph,
// a guard or a permission check.
func RecordTransitionRejected(reason string) {
	transitionsRejected.WithLabelValues(reason).Inc()
}

// RecordCredentialLookup records a public lookup outcome
func RecordCredentialLookup(ok bool) {
	outcome := "invalid"
	if ok {
		outcome = "ok"
	}
	credentialLookups.WithLabelValues(outcome).Inc()
}

// RecordAuthorizationDecision records an authorization decision
func RecordAuthorizationDecision(permission string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(permission, decision).Inc()
}

// RecordPermissionSubsetRejection records a rejected role or archetype edit
func RecordPermissionSubsetRejection(target string) {
	permissionSubsetRejections.WithLabelValues(target).Inc()
}

// RecordNotification records a notification hand-off
func RecordNotification(template string, err error) {
	status := "queued"
	if err != nil {
		status = "failed"
	}
	notificationsQueued.WithLabelValues(template, status).Inc()
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
