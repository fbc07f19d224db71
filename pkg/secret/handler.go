package secret

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/audit"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
)

// Handler provides HTTP handlers for the secret API, mounted under a
// project's resource tree (POST /projects/{project_id}/secrets).
type Handler struct {
	service *Service
	pepper  []byte
	audit   *audit.Writer
}

// NewHandler creates a secret Handler. pepper is the deployment-wide
// Argon2 pepper passed as the "secret" parameter to CreateSecret.
func NewHandler(service *Service, pepper []byte, auditWriter *audit.Writer) *Handler {
	return &Handler{service: service, pepper: pepper, audit: auditWriter}
}

// Routes returns a chi.Router with all secret routes mounted, nested
// under a project ID URL parameter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Post("/", h.handleCreate)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "secret", apperr.CommandMalformed("invalid project id"))
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	principal, _ := authn.FromContext(r.Context())

	resp, err := h.service.CreateSecret(r.Context(), principal, projectID, req, h.pepper)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "secret", err)
		return
	}
	h.audit.LogFromRequest(r, projectID, "create", "secret", resp.ID, nil)

	httpserver.Respond(w, http.StatusCreated, resp)
}
