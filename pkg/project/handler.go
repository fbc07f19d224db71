package project

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/audit"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
)

// Handler provides HTTP handlers for the project API.
type Handler struct {
	service *Service
	audit   *audit.Writer
}

func NewHandler(service *Service, auditWriter *audit.Writer) *Handler {
	return &Handler{service: service, audit: auditWriter}
}

// Routes returns a chi.Router with all project routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Patch("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/invites", h.handleInvite)
	return r
}

// AcceptInviteRoute mounts the separate, non-project-scoped accept-invite endpoint.
func (h *Handler) AcceptInviteRoute() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Post("/", h.handleAcceptInvite)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, _ := authn.FromContext(r.Context())

	page, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}

	resp, err := h.service.FetchProjects(r.Context(), principal, page)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	resp, err := h.service.CreateProject(r.Context(), principal, req)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	h.audit.LogFromRequest(r, resp.ID, "create", "project", resp.ID, nil)
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", apperr.CommandMalformed("invalid project id"))
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	if err := h.service.UpdateProject(r.Context(), principal, id, req); err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	h.audit.LogFromRequest(r, id, "update", "project", id, nil)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", apperr.CommandMalformed("invalid project id"))
		return
	}

	principal, _ := authn.FromContext(r.Context())

	if err := h.service.DeleteProject(r.Context(), principal, id); err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	h.audit.LogFromRequest(r, id, "delete", "project", id, nil)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "project", apperr.CommandMalformed("invalid project id"))
		return
	}

	var req InviteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	if err := h.service.InviteUser(r.Context(), principal, id, req); err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	h.audit.LogFromRequest(r, id, "invite", "project", id, nil)
	httpserver.Respond(w, http.StatusCreated, nil)
}

func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req AcceptInviteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	if err := h.service.AcceptInvite(r.Context(), principal, req); err != nil {
		httpserver.RespondDomainError(w, "http", "project", err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
