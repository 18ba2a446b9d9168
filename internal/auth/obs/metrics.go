// Package obs exposes Prometheus metrics for the auth service and the HTTP
// instrumentation middleware that feeds the request-level ones.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginsTotal counts successful logins, including first-login branches.
	LoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "logins_total",
		Help:      "Successful logins.",
	})

	// FailedLoginsTotal counts rejected login attempts by reason
	// (bad_credentials, locked, disabled).
	FailedLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "failed_logins_total",
		Help:      "Rejected login attempts by reason.",
	}, []string{"reason"})

	// LockoutsTotal counts accounts transitioning into the locked state.
	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "lockouts_total",
		Help:      "Accounts locked after repeated failures.",
	})

	// RefreshRotationsTotal counts successful refresh-token rotations.
	RefreshRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "refresh_rotations_total",
		Help:      "Successful refresh token rotations.",
	})

	// SessionsInvalidatedTotal counts sessions deactivated, by cause
	// (logout, logout_all, evicted, expired, password_change).
	SessionsInvalidatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "sessions_invalidated_total",
		Help:      "Sessions invalidated by cause.",
	}, []string{"cause"})

	// CSRFRejectionsTotal counts requests rejected by the CSRF guard.
	CSRFRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "csrf_rejections_total",
		Help:      "Requests rejected by the double-submit CSRF check.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolauth",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method, and status.",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "schoolauth",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with request counting and latency observation.
// route should be the registered pattern, not the raw path, to bound
// cardinality.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
