package audit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/tenant"
)

// Handler provides the read-only audit log listing endpoint.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler creates an audit log Handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	scope := tenant.FromContext(r.Context())
	entries, err := h.store.List(r.Context(), scope, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
