// Package resource implements the Resource Aggregate (C6, spec.md §4.6):
// CRUD over tenant resources, CRD schema lookup, and status-field
// derivation.
package resource

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive  = "Active"
	StatusDeleted = "Deleted"
)

// CreateRequest is the JSON body for POST /projects/{project_id}/resources.
type CreateRequest struct {
	Kind string          `json:"kind" validate:"required"`
	Spec json.RawMessage `json:"spec" validate:"required"`
}

// UpdateRequest is the JSON body for PATCH /resources/{id}: an RFC 7396
// JSON merge patch document, applied by the Cache Projector (C9).
type UpdateRequest struct {
	SpecPatch json.RawMessage `json:"spec_patch" validate:"required"`
}

// Response is the JSON response for a single resource. Annotations are
// rendered best-effort from the metadata Handlebars template.
type Response struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Category    string          `json:"category"`
	Spec        json.RawMessage `json:"spec"`
	Status      string          `json:"status"`
	Annotations string          `json:"annotations,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Row is a read-model row from the resources table.
type Row struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Kind      string
	Category  string
	Spec      json.RawMessage
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Row) ToResponse() Response {
	return Response{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Name:      r.Name,
		Kind:      r.Kind,
		Category:  r.Category,
		Spec:      r.Spec,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
