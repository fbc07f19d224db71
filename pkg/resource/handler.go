package resource

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/audit"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
)

// ProjectNamespaceResolver resolves a project_id to its namespace, used
// to stamp project_namespace onto Resource* events (spec.md §4.6 step 6).
type ProjectNamespaceResolver interface {
	FetchProjectNamespace(ctx context.Context, id uuid.UUID) (string, error)
}

// Handler provides HTTP handlers for the resource API.
type Handler struct {
	service  *Service
	projects ProjectNamespaceResolver
	audit    *audit.Writer
}

func NewHandler(service *Service, projects ProjectNamespaceResolver, auditWriter *audit.Writer) *Handler {
	return &Handler{service: service, projects: projects, audit: auditWriter}
}

// ProjectScopedRoutes returns a chi.Router for /projects/{project_id}/resources.
func (h *Handler) ProjectScopedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	return r
}

// ResourceRoutes returns a chi.Router for /resources/{id}.
func (h *Handler) ResourceRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("invalid project id"))
		return
	}

	page, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}

	principal, _ := authn.FromContext(r.Context())

	resp, err := h.service.FetchResources(r.Context(), principal, projectID, page)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("invalid project id"))
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	namespace, err := h.projects.FetchProjectNamespace(r.Context(), projectID)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("unknown project"))
		return
	}

	principal, _ := authn.FromContext(r.Context())

	resp, err := h.service.CreateResource(r.Context(), principal, projectID, namespace, req)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}
	h.audit.LogFromRequest(r, projectID, "create", "resource", resp.ID, nil)
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("invalid resource id"))
		return
	}

	principal, _ := authn.FromContext(r.Context())

	resp, err := h.service.FetchResourceByID(r.Context(), principal, id)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("invalid resource id"))
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	existing, err := h.service.FetchResourceByID(r.Context(), principal, id)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}

	namespace, err := h.projects.FetchProjectNamespace(r.Context(), existing.ProjectID)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("unknown project"))
		return
	}

	if err := h.service.UpdateResource(r.Context(), principal, id, namespace, req); err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}
	h.audit.LogFromRequest(r, existing.ProjectID, "update", "resource", id, nil)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("invalid resource id"))
		return
	}

	principal, _ := authn.FromContext(r.Context())

	existing, err := h.service.FetchResourceByID(r.Context(), principal, id)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}

	namespace, err := h.projects.FetchProjectNamespace(r.Context(), existing.ProjectID)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "resource", apperr.CommandMalformed("unknown project"))
		return
	}

	if err := h.service.DeleteResource(r.Context(), principal, id, namespace); err != nil {
		httpserver.RespondDomainError(w, "http", "resource", err)
		return
	}
	h.audit.LogFromRequest(r, existing.ProjectID, "delete", "resource", id, nil)
	httpserver.Respond(w, http.StatusNoContent, nil)
}
