// Package metrics provides Prometheus instrumentation for the bet slip engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuotesTotal counts parlay quotes, partitioned by selection count.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betslip_quotes_total",
		Help: "Total number of parlay quotes computed",
	}, []string{"selections"})

	// SubmissionsTotal counts submissions by program function and result
	// (submitted, invalid, precondition, external_error).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betslip_submissions_total",
		Help: "Total transaction submissions by function and result",
	}, []string{"function", "result"})

	// SignerLatency tracks how long the external signer takes to return.
	SignerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betslip_signer_latency_seconds",
		Help:    "External signer latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"function"})

	// TxTerminalTotal counts transactions reaching a terminal status.
	TxTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betslip_tx_terminal_total",
		Help: "Transactions reaching a terminal lifecycle status",
	}, []string{"status"})

	// ConfirmationLatency tracks time from submission to confirmation.
	ConfirmationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betslip_confirmation_latency_seconds",
		Help:    "Time from submission to confirmation in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	// InFlightTransactions tracks sessions with a transaction processing.
	InFlightTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betslip_inflight_transactions",
		Help: "Number of sessions with a transaction in flight",
	})

	// ActiveSessions tracks open betting sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betslip_active_sessions",
		Help: "Number of open betting sessions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betslip_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betslip_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betslip_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Session and market IDs live in the path; label by route pattern.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
