// Package events implements the closed tagged union of domain events
// (spec.md §4.1) and its wire codec: a short type tag carried as the
// event-bus record header plus a JSON payload.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the wire tag identifying which event variant a payload decodes as.
type Type string

const (
	TypeProjectCreated            Type = "ProjectCreated"
	TypeProjectUpdated            Type = "ProjectUpdated"
	TypeProjectDeleted            Type = "ProjectDeleted"
	TypeProjectSecretCreated      Type = "ProjectSecretCreated"
	TypeProjectUserInviteCreated  Type = "ProjectUserInviteCreated"
	TypeProjectUserInviteAccepted Type = "ProjectUserInviteAccepted"
	TypeProjectUserDeleted        Type = "ProjectUserDeleted"
	TypeResourceCreated           Type = "ResourceCreated"
	TypeResourceUpdated           Type = "ResourceUpdated"
	TypeResourceDeleted           Type = "ResourceDeleted"
	TypeUsageCreated              Type = "UsageCreated"
)

// ProjectCreated is emitted by CreateProject (spec.md §4.4). It carries the
// richer shape resolved in §9's open question: status, timestamps, and
// billing fields are always present (defaulted on decode for any legacy
// record lacking them).
type ProjectCreated struct {
	ID                uuid.UUID `json:"id"`
	Namespace         string    `json:"namespace"`
	Name              string    `json:"name"`
	Owner             uuid.UUID `json:"owner"`
	Status            string    `json:"status"`
	BillingProvider   string    `json:"billing_provider"`
	BillingProviderID string    `json:"billing_provider_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProjectUpdated carries only the fields present in the patch; nil means unset.
type ProjectUpdated struct {
	ID        uuid.UUID `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Status    *string   `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProjectDeleted struct {
	ID        uuid.UUID `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ProjectSecretCreated never carries the clear-text key (spec.md §4.5).
type ProjectSecretCreated struct {
	ID            uuid.UUID `json:"id"`
	ProjectID     uuid.UUID `json:"project_id"`
	Name          string    `json:"name"`
	PHC           string    `json:"phc"`
	SaltedSecret  []byte    `json:"salted_secret"`
	CreatedAt     time.Time `json:"created_at"`
}

type ProjectUserInviteCreated struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ProjectUserInviteAccepted struct {
	InviteID   uuid.UUID `json:"invite_id"`
	UserID     uuid.UUID `json:"user_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type ProjectUserDeleted struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ResourceCreated struct {
	ID               uuid.UUID       `json:"id"`
	ProjectID        uuid.UUID       `json:"project_id"`
	ProjectNamespace string          `json:"project_namespace"`
	Name             string          `json:"name"`
	Kind             string          `json:"kind"`
	Category         string          `json:"category"`
	Spec             json.RawMessage `json:"spec"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ResourceUpdated struct {
	ID               uuid.UUID       `json:"id"`
	ProjectID        uuid.UUID       `json:"project_id"`
	ProjectNamespace string          `json:"project_namespace"`
	Name             string          `json:"name"`
	Kind             string          `json:"kind"`
	SpecPatch        json.RawMessage `json:"spec_patch"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ResourceDeleted struct {
	ID               uuid.UUID `json:"id"`
	ProjectID        uuid.UUID `json:"project_id"`
	ProjectNamespace string    `json:"project_namespace"`
	Name             string    `json:"name"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	DeletedAt        time.Time `json:"deleted_at"`
}

// UsageLine is one resource's usage within a scrape window.
type UsageLine struct {
	ProjectNamespace string `json:"project_namespace"`
	ResourceName     string `json:"resource_name"`
	Tier             string `json:"tier"`
	Units            int64  `json:"units"`
	IntervalSeconds  int64  `json:"interval_seconds"`
}

type UsageCreated struct {
	ID        uuid.UUID   `json:"id"`
	ClusterID string      `json:"cluster_id"`
	Lines     []UsageLine `json:"lines"`
	CreatedAt time.Time   `json:"created_at"`
}

// Envelope is the decoded, ready-to-apply form of a bus record: the type
// tag plus the concrete payload (one of the structs above).
type Envelope struct {
	Type    Type
	Key     []byte
	Payload any
}

// Encode marshals a payload to JSON for the bus record value. The type tag
// itself travels as a record header, not inside the JSON value (see
// SPEC_FULL.md's sarama framing decision).
func Encode(payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}
	return b, nil
}

// Decode unmarshals value into the concrete struct registered for typ.
// Unknown tags are a typed error (spec.md §4.1: "unknown tags are
// rejected with a typed error").
func Decode(typ Type, value []byte) (any, error) {
	var payload any
	switch typ {
	case TypeProjectCreated:
		var p ProjectCreated
		payload = &p
	case TypeProjectUpdated:
		var p ProjectUpdated
		payload = &p
	case TypeProjectDeleted:
		var p ProjectDeleted
		payload = &p
	case TypeProjectSecretCreated:
		var p ProjectSecretCreated
		payload = &p
	case TypeProjectUserInviteCreated:
		var p ProjectUserInviteCreated
		payload = &p
	case TypeProjectUserInviteAccepted:
		var p ProjectUserInviteAccepted
		payload = &p
	case TypeProjectUserDeleted:
		var p ProjectUserDeleted
		payload = &p
	case TypeResourceCreated:
		var p ResourceCreated
		payload = &p
	case TypeResourceUpdated:
		var p ResourceUpdated
		payload = &p
	case TypeResourceDeleted:
		var p ResourceDeleted
		payload = &p
	case TypeUsageCreated:
		var p UsageCreated
		payload = &p
	default:
		return nil, &UnknownTypeError{Type: typ}
	}

	if err := json.Unmarshal(value, payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", typ, err)
	}

	if pc, ok := payload.(*ProjectCreated); ok {
		defaultProjectCreated(pc)
	}

	return payload, nil
}

// defaultProjectCreated fills in fields absent from an older record shape,
// per spec.md §9's resolved open question.
func defaultProjectCreated(p *ProjectCreated) {
	if p.Status == "" {
		p.Status = "Active"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
}

// UnknownTypeError is returned by Decode for an unrecognised type tag.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}
