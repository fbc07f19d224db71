package authn

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

type fakeMemberships struct {
	roles map[[2]uuid.UUID]string
}

func (f *fakeMemberships) FindMembership(_ context.Context, userID, projectID uuid.UUID) (string, error) {
	return f.roles[[2]uuid.UUID{userID, projectID}], nil
}

func TestGate_AssertPermission_Token(t *testing.T) {
	user := uuid.New()
	project := uuid.New()
	other := uuid.New()

	members := &fakeMemberships{roles: map[[2]uuid.UUID]string{
		{user, project}: RoleMember,
	}}
	gate := NewGate(members)

	if err := gate.AssertPermission(context.Background(), Principal{Kind: KindToken, UserID: user}, project, ""); err != nil {
		t.Errorf("member should pass with no required role: %v", err)
	}

	if err := gate.AssertPermission(context.Background(), Principal{Kind: KindToken, UserID: user}, project, RoleOwner); err == nil {
		t.Error("member should fail when Owner is required")
	}

	if err := gate.AssertPermission(context.Background(), Principal{Kind: KindToken, UserID: user}, other, ""); err == nil {
		t.Error("non-member should fail")
	}
}

func TestGate_AssertPermission_ApiKey(t *testing.T) {
	project := uuid.New()
	other := uuid.New()
	gate := NewGate(&fakeMemberships{})

	p := Principal{Kind: KindApiKey, ApiKeyProjectID: project}

	if err := gate.AssertPermission(context.Background(), p, project, RoleOwner); err != nil {
		t.Errorf("api key bound to project should pass regardless of required role: %v", err)
	}

	if err := gate.AssertPermission(context.Background(), p, other, ""); err == nil {
		t.Error("api key bound to a different project should fail")
	}
}

func TestRejectApiKey(t *testing.T) {
	if err := RejectApiKey(Principal{Kind: KindToken}); err != nil {
		t.Errorf("token principal should not be rejected: %v", err)
	}
	if err := RejectApiKey(Principal{Kind: KindApiKey}); err == nil {
		t.Error("api key principal should be rejected")
	}
}
