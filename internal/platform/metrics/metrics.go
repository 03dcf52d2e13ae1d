package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP holds request metrics labelled by chi route pattern so path parameters
// (identities) never become label values.
type HTTP struct {
	reqCnt *prometheus.CounterVec
	reqDur *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		reqCnt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_http_requests_total",
			Help: "Number of HTTP requests by status, method and route",
		}, []string{"code", "method", "route"}),
		reqDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatgate_http_request_duration_seconds",
			Help:    "HTTP request latency by status, method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"code", "method", "route"}),
	}
}

// Middleware records one observation per request. /metrics itself is skipped.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
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
		code := strconv.Itoa(status)

		m.reqCnt.WithLabelValues(code, r.Method, route).Inc()
		m.reqDur.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
