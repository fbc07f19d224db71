package resource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	raymond "github.com/mailgun/raymond/v2"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/cryptoutil"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/internal/metadata"
	"github.com/demeter-run/fabric/pkg/authn"
	"github.com/demeter-run/fabric/pkg/events"
)

// Publisher appends an event to the bus. Implemented by pkg/eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, key []byte, typ events.Type, payload any) error
}

// Service implements the Resource Aggregate (C6). CreateResource takes
// the project's namespace directly (resolved by the caller from
// pkg/project) rather than depending on that package, to avoid an
// import cycle.
type Service struct {
	store    *Store
	bus      Publisher
	gate     *authn.Gate
	registry *metadata.Registry
	logger   *slog.Logger
}

func NewService(store *Store, bus Publisher, gate *authn.Gate, registry *metadata.Registry, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, gate: gate, registry: registry, logger: logger}
}

// CreateResource implements spec.md §4.6's CreateResource.
func (s *Service) CreateResource(ctx context.Context, principal authn.Principal, projectID uuid.UUID, projectNamespace string, req CreateRequest) (Response, error) {
	if err := s.gate.AssertPermission(ctx, principal, projectID, ""); err != nil {
		return Response{}, err
	}

	kindMeta, ok := s.registry.Lookup(req.Kind)
	if !ok {
		return Response{}, apperr.CommandMalformed(fmt.Sprintf("unknown resource kind %q", req.Kind))
	}

	var specMap map[string]any
	if err := json.Unmarshal(req.Spec, &specMap); err != nil || specMap == nil {
		return Response{}, apperr.CommandMalformed("spec must be a JSON object")
	}

	id := uuid.New()
	hrp := metadata.HRP(req.Kind)

	var name string
	for attempt := 0; ; attempt++ {
		suffix, err := cryptoutil.RandomAlnumLower(6)
		if err != nil {
			return Response{}, apperr.Unexpected("generating resource name", err)
		}
		candidate := hrp + "-" + suffix

		taken, err := s.store.NameTaken(ctx, projectID, candidate)
		if err != nil {
			return Response{}, apperr.Unexpected("checking resource name uniqueness", err)
		}
		if !taken {
			name = candidate
			break
		}
		if attempt >= 10 {
			return Response{}, apperr.Unexpected("invalid random name, try again", nil)
		}
	}

	if err := s.deriveStatusFields(projectID, id, hrp, kindMeta, specMap); err != nil {
		return Response{}, apperr.Unexpected("deriving status fields", err)
	}

	spec, err := json.Marshal(specMap)
	if err != nil {
		return Response{}, apperr.Unexpected("encoding resource spec", err)
	}

	now := time.Now().UTC()

	evt := events.ResourceCreated{
		ID:               id,
		ProjectID:        projectID,
		ProjectNamespace: projectNamespace,
		Name:             name,
		Kind:             req.Kind,
		Category:         kindMeta.Category,
		Spec:             spec,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.bus.Publish(ctx, projectID[:], events.TypeResourceCreated, evt); err != nil {
		return Response{}, apperr.Unexpected("publishing ResourceCreated", err)
	}

	return Response{
		ID:        id,
		ProjectID: projectID,
		Name:      name,
		Kind:      req.Kind,
		Category:  kindMeta.Category,
		Spec:      spec,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// deriveStatusFields implements spec.md §4.6 step 5: for each of
// {authToken, username, password} recognised in the kind's CRD status
// schema, derive a deterministic per-resource value and inject it into
// spec before emission.
func (s *Service) deriveStatusFields(projectID, resourceID uuid.UUID, hrp string, kindMeta metadata.Kind, specMap map[string]any) error {
	ikm := append(append([]byte{}, projectID[:]...), resourceID[:]...)

	for _, field := range kindMeta.CRDStatusFields {
		switch field {
		case "authToken", "username":
			key, _, err := cryptoutil.DeriveKey(ikm, 8)
			if err != nil {
				return fmt.Errorf("deriving %s: %w", field, err)
			}
			encoded, err := cryptoutil.EncodeBech32m(hrp, key)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", field, err)
			}
			specMap[field] = encoded
		case "password":
			key, _, err := cryptoutil.DeriveKey(ikm, 8)
			if err != nil {
				return fmt.Errorf("deriving password: %w", err)
			}
			specMap[field] = base64.RawStdEncoding.EncodeToString(key)
		}
	}
	return nil
}

// UpdateResource implements spec.md §4.6's UpdateResource: the merge
// itself happens in the Cache Projector (C9); this only validates the
// patch shape and emits the event. projectNamespace is resolved by the
// caller (pkg/project) and stamped onto the event, as CreateResource
// does, since the Cluster Projector locates the object by namespace.
func (s *Service) UpdateResource(ctx context.Context, principal authn.Principal, id uuid.UUID, projectNamespace string, req UpdateRequest) error {
	row, err := s.store.FindByID(ctx, id)
	if err != nil {
		return apperr.Unexpected("finding resource", err)
	}
	if err := s.gate.AssertPermission(ctx, principal, row.ProjectID, ""); err != nil {
		return err
	}

	var patchMap map[string]any
	if err := json.Unmarshal(req.SpecPatch, &patchMap); err != nil || patchMap == nil {
		return apperr.CommandMalformed("spec_patch must be a JSON object")
	}

	evt := events.ResourceUpdated{
		ID:               id,
		ProjectID:        row.ProjectID,
		ProjectNamespace: projectNamespace,
		Name:             row.Name,
		Kind:             row.Kind,
		SpecPatch:        req.SpecPatch,
		UpdatedAt:        time.Now().UTC(),
	}

	if err := s.bus.Publish(ctx, row.ProjectID[:], events.TypeResourceUpdated, evt); err != nil {
		return apperr.Unexpected("publishing ResourceUpdated", err)
	}
	return nil
}

// DeleteResource implements spec.md §4.6's DeleteResource. projectNamespace
// is resolved by the caller, same as UpdateResource.
func (s *Service) DeleteResource(ctx context.Context, principal authn.Principal, id uuid.UUID, projectNamespace string) error {
	row, err := s.store.FindByID(ctx, id)
	if err != nil {
		return apperr.Unexpected("finding resource", err)
	}
	if err := s.gate.AssertPermission(ctx, principal, row.ProjectID, ""); err != nil {
		return err
	}

	evt := events.ResourceDeleted{
		ID:               id,
		ProjectID:        row.ProjectID,
		ProjectNamespace: projectNamespace,
		Name:             row.Name,
		Kind:             row.Kind,
		Status:           StatusDeleted,
		DeletedAt:        time.Now().UTC(),
	}

	if err := s.bus.Publish(ctx, row.ProjectID[:], events.TypeResourceDeleted, evt); err != nil {
		return apperr.Unexpected("publishing ResourceDeleted", err)
	}
	return nil
}

// FetchResources implements spec.md §4.6's FetchResources: read-only,
// with best-effort Handlebars annotation rendering.
func (s *Service) FetchResources(ctx context.Context, principal authn.Principal, projectID uuid.UUID, page httpserver.OffsetParams) (httpserver.OffsetPage[Response], error) {
	if err := s.gate.AssertPermission(ctx, principal, projectID, ""); err != nil {
		return httpserver.OffsetPage[Response]{}, err
	}

	rows, total, err := s.store.FindByProject(ctx, projectID, page.Offset, page.PageSize)
	if err != nil {
		return httpserver.OffsetPage[Response]{}, apperr.Unexpected("listing resources", err)
	}

	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.toResponseWithAnnotations(r))
	}

	return httpserver.NewOffsetPage(items, page, total), nil
}

// FetchResourceByID implements spec.md §4.6's FetchResourceById.
func (s *Service) FetchResourceByID(ctx context.Context, principal authn.Principal, id uuid.UUID) (Response, error) {
	row, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Response{}, apperr.Unexpected("finding resource", err)
	}
	if err := s.gate.AssertPermission(ctx, principal, row.ProjectID, ""); err != nil {
		return Response{}, err
	}
	return s.toResponseWithAnnotations(row), nil
}

// FindIDByProjectAndName satisfies pkg/usage's ResourceResolver, used to
// resolve a scraped UsageLine's resource_name back to a resource id.
func (s *Service) FindIDByProjectAndName(ctx context.Context, projectID uuid.UUID, name string) (uuid.UUID, error) {
	row, err := s.store.FindByProjectAndName(ctx, projectID, name)
	if err != nil {
		return uuid.UUID{}, apperr.Unexpected("finding resource by name", err)
	}
	return row.ID, nil
}

// toResponseWithAnnotations renders the kind's Handlebars template
// against spec; render failures are logged and annotations omitted
// (spec.md §4.6: "best-effort").
func (s *Service) toResponseWithAnnotations(row Row) Response {
	resp := row.ToResponse()

	kindMeta, ok := s.registry.Lookup(row.Kind)
	if !ok || kindMeta.HandlebarsTemplate == "" {
		return resp
	}

	var specMap map[string]any
	if err := json.Unmarshal(row.Spec, &specMap); err != nil {
		s.logger.Warn("rendering annotations: parsing spec", "resource_id", row.ID, "error", err)
		return resp
	}

	rendered, err := raymond.Render(kindMeta.HandlebarsTemplate, specMap)
	if err != nil {
		s.logger.Warn("rendering annotations", "resource_id", row.ID, "error", err)
		return resp
	}

	resp.Annotations = rendered
	return resp
}
