package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatgate/internal/moderation/models"
	dErrors "chatgate/pkg/domain-errors"
	"chatgate/pkg/platform/httputil"
	"chatgate/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_chat.go -destination=mocks/chat-mocks.go -package=mocks Moderator,Completer

// Moderator decides whether a message may be forwarded.
type Moderator interface {
	Evaluate(ctx context.Context, message, identity string) (*models.Decision, error)
}

// Completer produces the downstream reply.
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

type ChatHandler struct {
	moderator Moderator
	completer Completer
	logger    *slog.Logger
}

func NewChatHandler(moderator Moderator, completer Completer, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{moderator: moderator, completer: completer, logger: logger}
}

func (h *ChatHandler) Register(r chi.Router) {
	r.Post("/chat/{identity}", h.HandleChat)
}

// HandleChat handles POST /chat/{identity}. Only a lockout that predates the
// message rejects it; the strike that trips a lockout is still forwarded.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	identity, err := validateIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ChatRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	decision, err := h.moderator.Evaluate(ctx, req.Text(), identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "moderation failed",
			"request_id", requestID,
			"identity", identity,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if decision.Rejected() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeIdentityBlocked, "identity is blocked due to policy violations"))
		return
	}

	reply, err := h.completer.Complete(ctx, req.Text())
	if err != nil {
		h.logger.ErrorContext(ctx, "completion failed",
			"request_id", requestID,
			"identity", identity,
			"error", err,
		)
		if _, ok := dErrors.As(err); !ok {
			err = dErrors.Wrap(err, dErrors.CodeUpstream, "completion request failed")
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "chat forwarded",
		"request_id", requestID,
		"identity", identity,
		"has_violation", decision.HasViolation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, &ChatResponse{Response: reply, UserID: identity})
}
