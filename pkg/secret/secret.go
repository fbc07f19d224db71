// Package secret implements the Secret Aggregate (C5, spec.md §4.5):
// issuing bech32m-encoded API keys backed by a pepper-bound Argon2id
// hash, and verifying them.
package secret

import (
	"time"

	"github.com/google/uuid"
)

// MaxSecretsPerProject is spec.md §4.5's MAX_SECRET.
const MaxSecretsPerProject = 2

// ApiKeyHRP is the bech32m human-readable prefix for issued API keys
// (spec.md §6).
const ApiKeyHRP = "dmtr_apikey"

// CreateRequest is the JSON body for POST /projects/{id}/secrets.
type CreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

// Response is the JSON response for a secret without its clear key.
type Response struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateResponse includes the bech32m-encoded key, shown only once.
type CreateResponse struct {
	Response
	Key string `json:"key"`
}

// Row is a read-model row from the project_secrets table.
type Row struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	PHC          string
	SaltedSecret []byte
	CreatedAt    time.Time
}

func (r Row) ToResponse() Response {
	return Response{ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, CreatedAt: r.CreatedAt}
}
