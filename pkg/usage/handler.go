package usage

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// Handler provides HTTP handlers for the usage API.
type Handler struct {
	logger  *slog.Logger
	store   *Store
	service *Service
}

// NewHandler creates a usage Handler.
func NewHandler(logger *slog.Logger, store *Store, service *Service) *Handler {
	return &Handler{logger: logger, store: store, service: service}
}

// Routes returns a chi.Router with all usage routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.handleListEvents)
	r.Get("/daily", h.handleListDaily)
	r.Get("/summary", h.handleSummary)
	r.Post("/aggregate", h.handleAggregate)
	return r
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	scope := tenant.FromContext(r.Context())
	if scope.System {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "list", "usage_events", nil))
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	from, to := parseRange(r)

	events, err := h.store.ListEvents(r.Context(), scope.TenantID, from, to, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing usage events", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list usage events")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) handleListDaily(w http.ResponseWriter, r *http.Request) {
	scope := tenant.FromContext(r.Context())
	if scope.System {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "list", "usage_daily", nil))
		return
	}
	from, to := parseRange(r)

	rows, err := h.store.ListDaily(r.Context(), scope.TenantID, from, to)
	if err != nil {
		h.logger.Error("listing usage daily", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to list usage daily")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"daily": rows, "count": len(rows)})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	scope := tenant.FromContext(r.Context())
	if scope.System {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "summary", "usage_daily", nil))
		return
	}
	from, to := parseRange(r)

	rows, err := h.store.ListDaily(r.Context(), scope.TenantID, from, to)
	if err != nil {
		h.logger.Error("summarizing usage", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to summarize usage")
		return
	}

	totals := make(map[string]int)
	for _, d := range rows {
		totals[d.EventName] += d.Units
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"totals": totals, "from": from, "to": to})
}

// handleAggregate triggers an immediate aggregation, normally driven by the
// worker's hourly aggregate_usage job (spec.md §4.11). System principals
// only: this forces a recompute across tenants.
func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	p := identity.FromContext(r.Context())
	if p == nil || p.Identity.Role != identity.RoleSystem {
		httpserver.WriteError(w, r, apierr.AccessDenied("", "aggregate", "usage_daily", nil))
		return
	}

	if err := h.service.Aggregate(r.Context(), time.Now()); err != nil {
		h.logger.Error("aggregating usage", "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "failed to aggregate usage")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "aggregated"})
}

func parseRange(r *http.Request) (from, to time.Time) {
	to = time.Now().UTC()
	from = to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}
