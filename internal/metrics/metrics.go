// Package metrics holds the Prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parking_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LoginAttemptsTotal counts logins by entry point and outcome.
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_login_attempts_total",
			Help: "Login attempts by entry point and outcome",
		},
		[]string{"entry", "outcome"},
	)

	// SessionsStartedTotal counts parking sessions opened.
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_sessions_started_total",
		Help: "Parking sessions started",
	})

	// SessionsEndedTotal counts parking sessions closed.
	SessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_sessions_ended_total",
		Help: "Parking sessions ended",
	})

	// SessionConflictsTotal counts start attempts rejected because the vehicle was already parked.
	SessionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_session_conflicts_total",
		Help: "Start-session attempts rejected by the one-active-session rule",
	})

	// FinesIssuedTotal counts fines by reason.
	FinesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_fines_issued_total",
			Help: "Fines issued by reason",
		},
		[]string{"reason"},
	)

	// FineTransitionsTotal counts fine status changes by target status.
	FineTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_fine_transitions_total",
			Help: "Fine status transitions by target status",
		},
		[]string{"status"},
	)

	// AccountsBlockedTotal counts recounts that left an account blocked.
	AccountsBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_accounts_blocked_total",
		Help: "Violation recounts that left a user blocked",
	})

	// ShiftsStartedTotal counts officer shifts opened.
	ShiftsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_shifts_started_total",
		Help: "Officer shifts started",
	})

	// ConsistencyErrorsTotal counts impossible states found at runtime.
	ConsistencyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_consistency_errors_total",
			Help: "Internal consistency violations detected",
		},
		[]string{"kind"},
	)

	// RequestsThrottledTotal counts requests refused by a rate limiter, by limiter scope.
	RequestsThrottledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_requests_throttled_total",
			Help: "Requests rejected with 429 by limiter scope",
		},
		[]string{"scope"},
	)

	// MailFailuresTotal counts outbound e-mails that could not be delivered.
	MailFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_mail_failures_total",
		Help: "Outbound e-mails that failed",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
