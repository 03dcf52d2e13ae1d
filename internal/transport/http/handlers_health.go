package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatgate/pkg/platform/httputil"
)

// HealthCheck pings a backing dependency.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	check  HealthCheck
	logger *slog.Logger
}

func NewHealthHandler(check HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{check: check, logger: logger}
}

func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
}

// HandleHealth handles GET /health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.check == nil {
		httputil.WriteJSON(w, http.StatusOK, &HealthResponse{Status: "healthy", Storage: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.check(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed", "error", err)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, &HealthResponse{Status: "unhealthy", Storage: "unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &HealthResponse{Status: "healthy", Storage: "ok"})
}
