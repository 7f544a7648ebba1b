// Package metrics holds the Prometheus collectors of the client. They are
// exposed by `macworp serve` when MACWORP_METRICS_ADDR is set.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "macworp"

var (
	gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "http_requests_total",
		Help:      "Gateway requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "http_request_duration_seconds",
		Help:      "Gateway request latency by method and route pattern.",
		Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 10, 30},
	}, []string{"method", "route"})

	loginValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "validations_total",
		Help:      "Login validations by outcome.",
	}, []string{"outcome"})

	retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "attempts_total",
		Help:      "Finished retrieval attempts by mode and terminal status.",
	}, []string{"mode", "status"})

	tokenMints = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "one_time_tokens_total",
		Help:      "One-time-use token requests by result.",
	}, []string{"result"})

	downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "downloaded_bytes_total",
		Help:      "Bytes read from result file downloads.",
	})

	surfacedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "surfaced_errors_total",
		Help:      "Entries added to the error list shown to the user.",
	})

	openSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "open",
		Help:      "Backend sockets currently open.",
	})
)

func Handler() http.Handler { return promhttp.Handler() }

// RecordLoginValidation counts one session check. outcome is a
// client.LoginOutcome string (valid, invalid, refreshed) or "error" for an
// answer the check could not interpret.
func RecordLoginValidation(outcome string) {
	loginValidations.WithLabelValues(outcome).Inc()
}

func RecordRetrieval(mode, status string) {
	retrievals.WithLabelValues(mode, status).Inc()
}

func RecordOneTimeToken(ok bool) {
	result := "minted"
	if !ok {
		result = "failed"
	}
	tokenMints.WithLabelValues(result).Inc()
}

func AddBytesDownloaded(n int64) {
	if n <= 0 {
		return
	}
	downloadedBytes.Add(float64(n))
}

func RecordSurfacedError() { surfacedErrors.Inc() }

func SocketOpened() { openSockets.Inc() }
func SocketClosed() { openSockets.Dec() }

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (c *codeRecorder) WriteHeader(code int) {
	c.code = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *codeRecorder) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *codeRecorder) Unwrap() http.ResponseWriter { return c.ResponseWriter }

// Middleware counts gateway requests. Routes are labelled by the ServeMux
// pattern set on the request, so it must wrap the mux without replacing r.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		gatewayRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
		gatewayLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
