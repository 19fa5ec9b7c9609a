package memory

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// Handler provides HTTP handlers for the memory API.
type Handler struct {
	service *Service
}

// NewHandler creates a memory Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a chi.Router with all memory routes mounted. /search is
// registered before /{id} so chi's wildcard segment doesn't shadow it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/search", h.handleSearch)
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
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

	m, err := h.service.Create(r.Context(), CreateInput{
		IdentityID: p.Identity.ID, Text: req.Text, Type: req.Type,
		Metadata: req.Metadata, TTLDays: req.TTLDays, TenantID: tenantID,
		ActorID: &p.Identity.ID,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, toResponse(m))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var memType *string
	if t := r.URL.Query().Get("type"); t != "" {
		memType = &t
	}

	items, err := h.service.List(r.Context(), p.Identity.ID, memType, params.PageSize, params.Offset)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}

	out := make([]Response, 0, len(items))
	for _, m := range items {
		out = append(out, toResponse(m))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"memories": out, "count": len(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	scope := tenant.FromContext(r.Context())
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	m, err := h.service.Get(r.Context(), scope, id, includeDeleted)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(m))
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

	p := identity.FromContext(r.Context())
	scope := tenant.FromContext(r.Context())
	m, err := h.service.Update(r.Context(), scope, id, UpdateInput{
		Text: req.Text, Type: req.Type, Metadata: req.Metadata,
		TTLDays: req.TTLDays, ClearTTL: req.ClearTTL, ActorID: &p.Identity.ID,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(m))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	p := identity.FromContext(r.Context())
	scope := tenant.FromContext(r.Context())
	hard := r.URL.Query().Get("hard") == "true"

	if err := h.service.Delete(r.Context(), scope, id, hard, &p.Identity.ID); err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p := identity.FromContext(r.Context())
	scope := tenant.FromContext(r.Context())
	results, err := h.service.Search(r.Context(), scope, SearchInput{
		IdentityID: p.Identity.ID, QueryText: req.Query, Type: req.Type,
		K: req.K, MinScore: req.MinScore,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toSearchResponse(results))
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
