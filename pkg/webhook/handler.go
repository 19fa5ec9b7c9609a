package webhook

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// Handler provides HTTP handlers for the webhooks API.
type Handler struct {
	logger   *slog.Logger
	store    *Store
	pipeline *Pipeline
}

// NewHandler creates a webhook Handler.
func NewHandler(logger *slog.Logger, store *Store, pipeline *Pipeline) *Handler {
	return &Handler{logger: logger, store: store, pipeline: pipeline}
}

// Routes returns a chi.Router with all webhook routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Get("/{id}/deliveries", h.handleListDeliveries)
	r.Post("/{id}/deliveries/{deliveryID}/retry", h.handleRetryDelivery)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p := identity.FromContext(r.Context())
	scope := tenant.FromContext(r.Context())
	var tenantID *uuid.UUID
	if !scope.System {
		t := scope.TenantID
		tenantID = &t
	}

	secret := GenerateSecret()
	wh, err := h.store.Create(r.Context(), CreateParams{
		Name: req.Name, URL: req.URL, Events: req.Events, Secret: secret,
		CreatedBy: p.Identity.ID, TenantID: tenantID,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, CreateResponse{Response: toResponse(wh), Secret: secret})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope := tenant.FromContext(r.Context())
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, err := h.store.List(r.Context(), scope, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing webhooks", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list webhooks")
		return
	}

	out := make([]Response, 0, len(items))
	for _, wh := range items {
		out = append(out, toResponse(wh))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"webhooks": out, "count": len(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	scope := tenant.FromContext(r.Context())
	wh, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(wh))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	scope := tenant.FromContext(r.Context())
	existing, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	if !scope.CanWriteAs(rowTenant(existing.TenantID)) {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "update", "webhook", nil))
		return
	}

	wh, err := h.store.Update(r.Context(), id, req.Name, req.URL, req.Events, req.IsActive)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(wh))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	scope := tenant.FromContext(r.Context())
	existing, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	if !scope.CanWriteAs(rowTenant(existing.TenantID)) {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "delete", "webhook", nil))
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	scope := tenant.FromContext(r.Context())
	if _, err := h.store.Get(r.Context(), scope, id); err != nil {
		httpserver.WriteError(w, r, err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	items, err := h.store.ListDeliveries(r.Context(), id, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing webhook deliveries", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list deliveries")
		return
	}

	out := make([]DeliveryResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDeliveryResponse(d))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"deliveries": out, "count": len(out)})
}

// handleRetryDelivery forces an immediate retry of a single delivery,
// regardless of its next_retry_at, for operator-triggered recovery
// (spec.md §6, §4 supplemented feature).
func (h *Handler) handleRetryDelivery(w http.ResponseWriter, r *http.Request) {
	webhookIDParam, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	deliveryID, ok := parseIDParam(w, r, "deliveryID")
	if !ok {
		return
	}

	scope := tenant.FromContext(r.Context())
	wh, err := h.store.Get(r.Context(), scope, webhookIDParam)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}

	delivery, err := h.store.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	if delivery.WebhookID != wh.ID {
		httpserver.WriteError(w, r, apierr.NotFound("webhook delivery"))
		return
	}

	h.pipeline.attempt(r.Context(), wh, delivery)

	updated, err := h.store.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toDeliveryResponse(updated))
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
