package prom

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP counts and times requests served by the edge listeners.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers request metrics labelled by listener, mode and status code.
func NewHTTP(reg prometheus.Registerer, ns string) *HTTP {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &HTTP{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by listener, mode and status code",
		}, []string{"listener", "mode", "code"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by listener and mode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"listener", "mode"})),
	}
}

// Observe records one finished request.
func (h *HTTP) Observe(listener, mode string, code int, d time.Duration) {
	h.requests.WithLabelValues(listener, mode, strconv.Itoa(code)).Inc()
	h.duration.WithLabelValues(listener, mode).Observe(d.Seconds())
}

// Middleware wraps next and records every request it serves.
func (h *HTTP) Middleware(listener, mode string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.Observe(listener, mode, sw.code, time.Since(start))
	})
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
