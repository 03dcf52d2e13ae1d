package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatgate/pkg/platform/middleware/metadata"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

type routerConfig struct {
	middleware []func(http.Handler) http.Handler
	metrics    http.Handler
}

// RouterOption configures the router.
type RouterOption func(*routerConfig)

// WithMiddleware appends middleware after the request-scoped defaults.
func WithMiddleware(mw ...func(http.Handler) http.Handler) RouterOption {
	return func(c *routerConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithMetricsHandler exposes h at GET /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(c *routerConfig) {
		c.metrics = h
	}
}

// NewRouter wires the middleware chain and every handler's routes.
func NewRouter(handlers []Registrar, opts ...RouterOption) http.Handler {
	cfg := &routerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.RequestTime)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Recoverer)
	r.Use(cfg.middleware...)

	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}
	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
