// Package metrics provides Prometheus instrumentation for the market API.
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
	// OrdersSettled counts orders that settled, by order type.
	OrdersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_orders_settled_total",
		Help: "Total number of orders settled",
	}, []string{"type"})

	// OrderRejections counts orders refused before or during settlement.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_order_rejections_total",
		Help: "Orders rejected, by error code",
	}, []string{"code"})

	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "previsao_settlement_latency_seconds",
		Help:    "Order settlement transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// MarketVolume tracks cumulative settled notional in BRL per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_market_volume_brl_total",
		Help: "Cumulative settled notional in BRL",
	}, []string{"market_id"})

	// IdempotentReplays counts requests answered from a stored response.
	IdempotentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_idempotent_replays_total",
		Help: "Requests answered from a stored idempotent response",
	}, []string{"endpoint"})

	// PixDeposits counts Pix deposit transitions (created, completed).
	PixDeposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_pix_deposits_total",
		Help: "Pix deposit state transitions",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "previsao_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsao_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "previsao_http_request_duration_seconds",
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

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
