package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"chatgate/internal/moderation/models"
	dErrors "chatgate/pkg/domain-errors"
	"chatgate/pkg/platform/httputil"
	"chatgate/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_admin.go -destination=mocks/admin-mocks.go -package=mocks IdentityAdmin

// IdentityAdmin is the operator surface of the identity ledger.
type IdentityAdmin interface {
	Exists(ctx context.Context, identity string) (bool, error)
	Unblock(ctx context.Context, identity string) (*models.IdentityRecord, error)
	Status(ctx context.Context, identity string) (*models.IdentityRecord, error)
	AllIdentities(ctx context.Context) ([]string, error)
}

type AdminHandler struct {
	ledger IdentityAdmin
	logger *slog.Logger
}

func NewAdminHandler(ledger IdentityAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Put("/unblock/{identity}", h.HandleUnblock)
		r.Get("/identities", h.HandleList)
		r.Get("/identities/{identity}", h.HandleStatus)
	})
}

// HandleUnblock handles PUT /admin/unblock/{identity}.
func (h *AdminHandler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identity, err := validateIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	exists, err := h.ledger.Exists(ctx, identity)
	if err != nil {
		h.fail(ctx, w, "identity lookup failed", requestID, identity, err)
		return
	}
	if !exists {
		httputil.WriteError(w, dErrors.New(dErrors.CodeIdentityNotFound, "identity not found"))
		return
	}

	record, err := h.ledger.Unblock(ctx, identity)
	if err != nil {
		h.fail(ctx, w, "unblock failed", requestID, identity, err)
		return
	}

	h.logger.InfoContext(ctx, "identity unblocked by operator",
		"request_id", requestID,
		"identity", identity,
	)
	httputil.WriteJSON(w, http.StatusOK, fromRecord(record))
}

// HandleStatus handles GET /admin/identities/{identity}.
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	identity, err := validateIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.ledger.Status(ctx, identity)
	if err != nil {
		h.fail(ctx, w, "identity status failed", requestID, identity, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromRecord(record))
}

// HandleList handles GET /admin/identities.
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids, err := h.ledger.AllIdentities(ctx)
	if err != nil {
		h.fail(ctx, w, "identity listing failed", requestcontext.RequestID(ctx), "", err)
		return
	}
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, &IdentityListResponse{Identities: ids, Count: len(ids)})
}

func (h *AdminHandler) fail(ctx context.Context, w http.ResponseWriter, msg, requestID, identity string, err error) {
	if !dErrors.HasCode(err, dErrors.CodeIdentityNotFound) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"identity", identity,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
