package policy

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// Handler provides HTTP handlers for the policy API.
type Handler struct {
	logger *slog.Logger
	store  *Store
	engine *Engine
}

// NewHandler creates a policy Handler.
func NewHandler(logger *slog.Logger, store *Store, engine *Engine) *Handler {
	return &Handler{logger: logger, store: store, engine: engine}
}

// Routes returns a chi.Router with all policy routes mounted. Note that
// /test and /bulk-delete must be registered before the /{id} wildcard so
// chi doesn't treat "test"/"bulk-delete" as an id.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/test", h.handleTest)
	r.Post("/bulk-delete", h.handleBulkDelete)
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

	scope := tenant.FromContext(r.Context())
	var tenantID *uuid.UUID
	if !scope.System {
		t := scope.TenantID
		tenantID = &t
	}

	p, err := h.store.Create(r.Context(), CreateParams{
		Role: req.Role, Rule: req.Rule, Description: req.Description, Priority: req.Priority, TenantID: tenantID,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	h.engine.InvalidateCache(scope, p.Role)
	httpserver.Respond(w, http.StatusCreated, toResponse(p))
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
		h.logger.Error("listing policies", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list policies")
		return
	}

	out := make([]Response, 0, len(items))
	for _, p := range items {
		out = append(out, toResponse(p))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"policies": out, "count": len(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	scope := tenant.FromContext(r.Context())
	p, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(p))
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
		httpserver.WriteError(w, r, apierr.AccessDenied("", "update", "policy", nil))
		return
	}

	p, err := h.store.Update(r.Context(), id, req.Rule, req.Description, req.Priority, req.IsActive)
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	h.engine.InvalidateCache(scope, p.Role)
	httpserver.Respond(w, http.StatusOK, toResponse(p))
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
		httpserver.WriteError(w, r, apierr.AccessDenied("", "delete", "policy", nil))
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.WriteError(w, r, err)
		return
	}
	h.engine.InvalidateCache(scope, existing.Role)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, s := range req.IDs {
		id, err := uuid.Parse(s)
		if err != nil {
			httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "invalid id: "+s)
			return
		}
		ids = append(ids, id)
	}

	scope := tenant.FromContext(r.Context())
	count, err := h.store.BulkDelete(r.Context(), scope, ids)
	if err != nil {
		h.logger.Error("bulk deleting policies", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to bulk delete policies")
		return
	}
	// A scope's rule cache may span several roles; the cheapest correct
	// response to a bulk delete is to drop the whole cache rather than
	// look up which roles were affected.
	h.engine.mu.Lock()
	h.engine.cache = make(map[cacheKey][]Policy)
	h.engine.mu.Unlock()

	httpserver.Respond(w, http.StatusOK, map[string]any{"deleted": count})
}

// handleTest runs a dry-run evaluation against caller-supplied principal
// facts, without needing a real session (spec.md §4 supplemented feature).
func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	scope := tenant.FromContext(r.Context())
	principal := identity.Identity{Role: req.Role, Claims: req.Claims}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = requestIP(r)
	}

	decision, err := h.engine.Evaluate(r.Context(), scope, principal, req.Action, req.Resource, EvalContext{
		ClientIP: clientIP,
		Resource: req.Context,
	})
	if err != nil {
		httpserver.WriteError(w, r, err)
		return
	}

	var policyID *string
	if decision.PolicyID != nil {
		s := decision.PolicyID.String()
		policyID = &s
	}
	httpserver.Respond(w, http.StatusOK, TestResponse{Allowed: decision.Allowed, PolicyID: policyID})
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
