package secret

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/cryptoutil"
	"github.com/demeter-run/fabric/pkg/authn"
	"github.com/demeter-run/fabric/pkg/events"
)

// Publisher appends an event to the bus. Implemented by pkg/eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, key []byte, typ events.Type, payload any) error
}

// Service implements the Secret Aggregate (C5).
type Service struct {
	store  *Store
	bus    Publisher
	gate   *authn.Gate
	logger *slog.Logger
}

// NewService constructs the Secret Aggregate.
func NewService(store *Store, bus Publisher, gate *authn.Gate, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, gate: gate, logger: logger}
}

// CreateSecret implements spec.md §4.5's CreateSecret command. pepper is
// the secret mixed into the Argon2 hash, used as given; the HTTP handler
// passes the same deployment-wide pepper for every project (see
// internal/cryptoutil's HMAC-then-Argon2id construction).
func (s *Service) CreateSecret(ctx context.Context, principal authn.Principal, projectID uuid.UUID, req CreateRequest, pepper []byte) (CreateResponse, error) {
	if principal.IsApiKey() {
		return CreateResponse{}, apperr.Unauthorized("api keys cannot create secrets")
	}
	if err := s.gate.AssertPermission(ctx, principal, projectID, ""); err != nil {
		return CreateResponse{}, err
	}

	count, err := s.store.CountByProject(ctx, projectID)
	if err != nil {
		return CreateResponse{}, apperr.Unexpected("counting existing secrets", err)
	}
	if count >= MaxSecretsPerProject {
		return CreateResponse{}, apperr.SecretExceeded(fmt.Sprintf("project already holds the maximum of %d secrets", MaxSecretsPerProject))
	}

	clear, err := cryptoutil.RandomClearKey()
	if err != nil {
		return CreateResponse{}, apperr.Unexpected("generating secret key", err)
	}

	phc, err := cryptoutil.HashWithPepper(clear, pepper)
	if err != nil {
		return CreateResponse{}, apperr.Unexpected("hashing secret key", err)
	}

	encoded, err := cryptoutil.EncodeBech32m(ApiKeyHRP, []byte(clear))
	if err != nil {
		return CreateResponse{}, apperr.Unexpected("encoding secret key", err)
	}

	id := uuid.New()
	now := time.Now().UTC()

	// salted_secret stores the pepper itself (not the Argon2 salt, which
	// travels embedded in phc): VerifySecret is never handed the pepper
	// again, so it must be recoverable from the projected row.
	evt := events.ProjectSecretCreated{
		ID:           id,
		ProjectID:    projectID,
		Name:         req.Name,
		PHC:          phc,
		SaltedSecret: pepper,
		CreatedAt:    now,
	}

	if err := s.bus.Publish(ctx, projectID[:], events.TypeProjectSecretCreated, evt); err != nil {
		return CreateResponse{}, apperr.Unexpected("publishing ProjectSecretCreated", err)
	}

	return CreateResponse{
		Response: Response{ID: id, ProjectID: projectID, Name: req.Name, CreatedAt: now},
		Key:      encoded,
	}, nil
}

// VerifySecret implements spec.md §4.5's VerifySecret: decode the
// bech32m key, require HRP "dmtr_apikey", and iterate every secret of
// the project, verifying each in turn without short-circuiting based on
// metadata. Returns the matching secret's ID.
func (s *Service) VerifySecret(ctx context.Context, projectID uuid.UUID, bech32Key string) (uuid.UUID, error) {
	hrp, clearBytes, err := cryptoutil.DecodeBech32m(bech32Key)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("malformed api key")
	}
	if hrp != ApiKeyHRP {
		return uuid.Nil, apperr.Unauthorized("unexpected api key prefix")
	}

	rows, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		return uuid.Nil, apperr.Unexpected("listing project secrets", err)
	}

	var matched uuid.UUID
	found := false

	// Iterate every row regardless of an earlier match: constant-time
	// verification across all of a project's keys (spec.md §4.5). Each
	// row's own salted_secret (the pepper recorded at creation time) is
	// used to reconstruct its hash.
	for _, row := range rows {
		ok, err := cryptoutil.VerifyWithPepper(string(clearBytes), row.SaltedSecret, row.PHC)
		if err != nil {
			s.logger.Warn("verifying stored secret", "secret_id", row.ID, "error", err)
			continue
		}
		if ok && !found {
			matched = row.ID
			found = true
		}
	}

	if !found {
		return uuid.Nil, apperr.Unauthorized("invalid api key")
	}
	return matched, nil
}
