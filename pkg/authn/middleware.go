package authn

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/httpserver"
)

type ctxKey string

const principalKey ctxKey = "fabric_principal"

// NewContext stores the principal in the context.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal from the context. ok is false if no
// principal was authenticated.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// SecretVerifier checks an ApiKey credential (spec.md §4.5's
// VerifySecret) presented for a project_id and returns the secret_id it
// matches.
// Implemented by pkg/secret's Service.
type SecretVerifier interface {
	VerifySecret(ctx context.Context, projectID uuid.UUID, bech32Key string) (secretID uuid.UUID, err error)
}

// Middleware builds the credential envelope described in spec.md §6: a
// request carries either an Authorization: Bearer token (Token
// principal) or an X-Api-Key header alongside an X-Project-Id header
// (ApiKey principal, bound to that project). oidcAuth may be nil when
// OIDC is not configured.
func Middleware(oidcAuth *OIDCAuthenticator, secrets SecretVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if bearer := r.Header.Get("Authorization"); bearer != "" {
				if oidcAuth == nil {
					httpserver.RespondDomainError(w, "authn", "gate", apperr.Unauthorized("token authentication not configured"))
					return
				}
				claims, err := oidcAuth.Authenticate(ctx, bearer)
				if err != nil {
					logger.Debug("token authentication failed", "error", err)
					httpserver.RespondDomainError(w, "authn", "gate", apperr.Unauthorized("invalid access token"))
					return
				}
				p := Principal{Kind: KindToken, UserID: claims.UserID()}
				next.ServeHTTP(w, r.WithContext(NewContext(ctx, p)))
				return
			}

			if rawKey := r.Header.Get("X-Api-Key"); rawKey != "" {
				projectIDHeader := r.Header.Get("X-Project-Id")
				projectID, err := uuid.Parse(projectIDHeader)
				if err != nil {
					httpserver.RespondDomainError(w, "authn", "gate", apperr.CommandMalformed("X-Project-Id header must be a valid UUID"))
					return
				}

				secretID, err := secrets.VerifySecret(ctx, projectID, rawKey)
				if err != nil {
					logger.Debug("api key authentication failed", "error", err)
					httpserver.RespondDomainError(w, "authn", "gate", apperr.Unauthorized("invalid api key"))
					return
				}

				p := Principal{Kind: KindApiKey, ApiKeyProjectID: projectID, ApiKeySecretID: secretID}
				next.ServeHTTP(w, r.WithContext(NewContext(ctx, p)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests that carried no credential envelope.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			httpserver.RespondDomainError(w, "authn", "gate", apperr.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
