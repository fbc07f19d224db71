package authn

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
)

// userIDNamespace derives a stable UUID for principals whose identity
// provider issues a non-UUID subject. The identity provider is an
// external collaborator (spec.md §1); this keeps user_id a UUID
// throughout the read model regardless of what the provider emits.
var userIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Claims are the JWT claims extracted from a verified access token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	// UserIDClaim is an optional claim carrying the subject already mapped
	// to a UUID by the identity provider. When absent, the UserID method
	// derives one deterministically from Subject.
	UserIDClaim string `json:"user_id"`
}

// UserID returns the principal's UUID, preferring an explicit user_id
// claim and falling back to a deterministic derivation from sub.
func (c Claims) UserID() uuid.UUID {
	if c.UserIDClaim != "" {
		if id, err := uuid.Parse(c.UserIDClaim); err == nil {
			return id
		}
	}
	return uuid.NewSHA1(userIDNamespace, []byte(c.Subject))
}

// OIDCAuthenticator validates access tokens against the configured
// identity provider's public keys (spec.md §1: "the identity provider...
// is out of scope" — this is the thin verification shim the gate needs).
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCAuthenticator performs OIDC discovery against issuerURL.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, audience string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: audience})
	return &OIDCAuthenticator{verifier: verifier}, nil
}

// Authenticate verifies a raw "Bearer <token>" header value and returns
// the extracted claims.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, bearerHeader string) (*Claims, error) {
	token := strings.TrimPrefix(bearerHeader, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying access token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	return &claims, nil
}
