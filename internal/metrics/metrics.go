// Package metrics provides Prometheus instrumentation for the arbitrage engine.
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
	// TradesTotal counts simulated pair trades executed.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_trades_total",
		Help: "Total number of simulated pair trades executed",
	})

	// TradeRejections counts rejected trades by validation kind.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trade_rejections_total",
		Help: "Trades rejected by validation, by kind",
	}, []string{"kind"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Opportunities is the number of profitable pairs found by the last scan.
	Opportunities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_opportunities",
		Help: "Profitable pairs found by the most recent scan",
	})

	// PairsLoaded is the number of pairs in the current catalog snapshot.
	PairsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_pairs_loaded",
		Help: "Number of pairs in the loaded catalog snapshot",
	})

	// FeedUpdates counts streamed price updates applied, by event type.
	FeedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_feed_updates_total",
		Help: "Streamed price updates applied",
	}, []string{"event"})

	// FeedReconnects counts price feed reconnections.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_feed_reconnects_total",
		Help: "Price feed reconnections",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arb_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so pair ids don't explode
// cardinality. Unrouted requests fall back to the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
