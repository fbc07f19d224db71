package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
)

// Handler provides HTTP handlers for the audit log API, scoped to a
// single project.
type Handler struct {
	pool   *pgxpool.Pool
	gate   *authn.Gate
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(pool *pgxpool.Pool, gate *authn.Gate, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, gate: gate, logger: logger}
}

// Routes returns a chi.Router for /projects/{project_id}/audit-log.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(authn.RequireAuth)
	r.Get("/", h.handleList)
	return r
}

type listResponse struct {
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := authn.FromContext(ctx)

	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		httpserver.RespondDomainError(w, "http", "audit", apperr.CommandMalformed("project_id must be a valid UUID"))
		return
	}
	if err := h.gate.AssertPermission(ctx, principal, projectID, authn.RoleOwner); err != nil {
		httpserver.RespondDomainError(w, "http", "audit", err)
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondDomainError(w, "http", "audit", err)
		return
	}

	rows, err := h.pool.Query(ctx, `
		SELECT action, resource, resource_id, created_at
		FROM audit_log WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, projectID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	var out []listResponse
	for rows.Next() {
		var entry listResponse
		var resourceID *uuid.UUID
		if err := rows.Scan(&entry.Action, &entry.Resource, &resourceID, &entry.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			continue
		}
		if resourceID != nil {
			entry.ResourceID = resourceID.String()
		}
		out = append(out, entry)
	}

	httpserver.Respond(w, http.StatusOK, out)
}
