package usage

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
)

// Handler provides HTTP handlers for the Usage RPC surface (spec.md §6).
type Handler struct {
	service *Service
	gate    *authn.Gate
}

func NewHandler(service *Service, gate *authn.Gate) *Handler {
	return &Handler{service: service, gate: gate}
}

// ProjectScopedRoutes returns a chi.Router for /projects/{project_id}/usage.
func (h *Handler) ProjectScopedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/", h.handleReport)
	return r
}

// AggregatedRoutes returns a chi.Router for /usage, the cross-project
// aggregated view by billing period.
func (h *Handler) AggregatedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/", h.handleReportAggregated)
	return r
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "usage", apperr.CommandMalformed("invalid project id"))
		return
	}

	page, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "usage", err)
		return
	}

	principal, _ := authn.FromContext(r.Context())
	if err := h.gate.AssertPermission(r.Context(), principal, projectID, ""); err != nil {
		httpserver.RespondDomainError(w, "http", "usage", err)
		return
	}

	lines, total, err := h.service.FindUsageReport(r.Context(), projectID, page.Offset, page.PageSize)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "usage", err)
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(lines, page, total))
}

func (h *Handler) handleReportAggregated(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		httpserver.RespondDomainError(w, "http", "usage", apperr.CommandMalformed("period query parameter is required"))
		return
	}

	principal, _ := authn.FromContext(r.Context())
	if err := authn.RejectApiKey(principal); err != nil {
		httpserver.RespondDomainError(w, "http", "usage", err)
		return
	}

	lines, err := h.service.FindUsageReportAggregated(r.Context(), period)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "usage", err)
		return
	}

	httpserver.Respond(w, http.StatusOK, lines)
}
