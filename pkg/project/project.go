// Package project implements the Project Aggregate (C4, spec.md §4.4):
// project lifecycle, membership, and invitations.
package project

import (
	"time"

	"github.com/google/uuid"
)

// Roles, mirroring pkg/authn's (kept distinct to avoid an import cycle
// between the aggregate and the gate it's asserted through).
const (
	RoleOwner  = "Owner"
	RoleMember = "Member"
)

const (
	StatusActive  = "Active"
	StatusDeleted = "Deleted"
)

// InviteExpiry is spec.md §4.4's "now + 7 days".
const InviteExpiry = 7 * 24 * time.Hour

// CreateRequest is the JSON body for POST /projects.
type CreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

// UpdateRequest is the JSON body for PATCH /projects/{id}. Fields absent
// from the request stay nil and are left untouched by UpdateProject.
type UpdateRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=Active Deleted"`
}

// InviteRequest is the JSON body for POST /projects/{id}/invites.
type InviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=Owner Member"`
}

// AcceptInviteRequest is the JSON body for POST /invites.
type AcceptInviteRequest struct {
	Code string `json:"code" validate:"required"`
}

// Response is the JSON response for a single project.
type Response struct {
	ID                uuid.UUID `json:"id"`
	Namespace         string    `json:"namespace"`
	Name              string    `json:"name"`
	OwnerUserID       uuid.UUID `json:"owner_user_id"`
	Status            string    `json:"status"`
	BillingProvider   string    `json:"billing_provider,omitempty"`
	BillingProviderID string    `json:"billing_provider_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Row is a read-model row from the projects table.
type Row struct {
	ID                uuid.UUID
	Namespace         string
	Name              string
	OwnerUserID       uuid.UUID
	Status            string
	BillingProvider   string
	BillingProviderID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r Row) ToResponse() Response {
	return Response{
		ID:                r.ID,
		Namespace:         r.Namespace,
		Name:              r.Name,
		OwnerUserID:       r.OwnerUserID,
		Status:            r.Status,
		BillingProvider:   r.BillingProvider,
		BillingProviderID: r.BillingProviderID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// InviteRow is a read-model row from the project_user_invites table.
type InviteRow struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Email      string
	Code       string
	Role       string
	ExpiresAt  time.Time
	AcceptedBy *uuid.UUID
	AcceptedAt *time.Time
}
