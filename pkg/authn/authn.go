// Package authn implements the Auth & Permission Gate (spec.md §4.3):
// resolving a credential envelope into a principal, and asserting that a
// principal may act against a given project at a required role.
package authn

import (
	"context"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
)

// Role is one of the two project roles in spec.md §3 (Owner, Member).
const (
	RoleOwner  = "Owner"
	RoleMember = "Member"
)

var roleLevel = map[string]int{
	RoleOwner:  20,
	RoleMember: 10,
}

// Principal is either a Token principal (verified OIDC access token) or
// an ApiKey principal (bech32 key bound to a project_id), per spec.md §4.3.
type Principal struct {
	// Kind is "token" or "apikey".
	Kind string

	// UserID is set for a Token principal.
	UserID uuid.UUID

	// ApiKeyProjectID and ApiKeySecretID are set for an ApiKey principal.
	ApiKeyProjectID uuid.UUID
	ApiKeySecretID  uuid.UUID
}

const (
	KindToken  = "token"
	KindApiKey = "apikey"
)

// IsApiKey reports whether this principal authenticated via an API key.
func (p Principal) IsApiKey() bool { return p.Kind == KindApiKey }

// MembershipFinder resolves a user's role on a project from the C9 read
// model. Implemented by pkg/project's Store.
type MembershipFinder interface {
	FindMembership(ctx context.Context, userID, projectID uuid.UUID) (role string, err error)
}

// Gate implements assert_permission from spec.md §4.3.
type Gate struct {
	memberships MembershipFinder
}

// NewGate constructs a Gate backed by the given membership read model.
func NewGate(memberships MembershipFinder) *Gate {
	return &Gate{memberships: memberships}
}

// AssertPermission enforces spec.md §4.3's rule:
//   - Token principal: membership must exist and, if requiredRole is set,
//     must be at least that role (Owner > Member).
//   - ApiKey principal: the key's bound project_id must equal projectID;
//     requiredRole is not checked against ApiKey principals (a key's
//     effective role on its own project is always sufficient to act on
//     that project, since ApiKeys rejected unconditionally for multi-
//     project operations are handled by RejectApiKey before reaching here).
func (g *Gate) AssertPermission(ctx context.Context, p Principal, projectID uuid.UUID, requiredRole string) error {
	if p.IsApiKey() {
		if p.ApiKeyProjectID != projectID {
			return apperr.Unauthorized("api key is not bound to this project")
		}
		return nil
	}

	role, err := g.memberships.FindMembership(ctx, p.UserID, projectID)
	if err != nil {
		return apperr.Unauthorized("not a member of this project").Wrap(err)
	}
	if role == "" {
		return apperr.Unauthorized("not a member of this project")
	}

	if requiredRole != "" && roleLevel[role] < roleLevel[requiredRole] {
		return apperr.Forbidden("insufficient role")
	}

	return nil
}

// RejectApiKey enforces operations that "reject ApiKey unconditionally"
// (spec.md §4.3), such as FetchProjects.
func RejectApiKey(p Principal) error {
	if p.IsApiKey() {
		return apperr.Unauthorized("not supported")
	}
	return nil
}
