package project

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/cryptoutil"
	"github.com/demeter-run/fabric/internal/httpserver"
	"github.com/demeter-run/fabric/pkg/authn"
	"github.com/demeter-run/fabric/pkg/events"
)

// Publisher appends an event to the bus. Implemented by pkg/eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, key []byte, typ events.Type, payload any) error
}

// InviteMailer sends the invitation email after a successful publish
// (spec.md §4.4: "invoked after successful publish, best-effort"). Out
// of scope per spec.md §1; nil is a valid no-op mailer.
type InviteMailer interface {
	SendInvite(ctx context.Context, email, code string) error
}

// InviteGuard claims an invite code exactly once across concurrent API
// replicas, closing the read-then-act race in AcceptInvite: the store
// check for invite.AcceptedBy is a read against the projected model,
// which two racing requests can both pass before either's
// ProjectUserInviteAccepted is projected. Implemented by Redis SETNX
// in internal/app, since this is the one place the read model alone
// cannot serialize a command.
type InviteGuard interface {
	// Claim returns true if code was not already claimed, atomically
	// marking it claimed for ttl.
	Claim(ctx context.Context, code string, ttl time.Duration) (bool, error)
}

// Service implements the Project Aggregate (C4).
type Service struct {
	store  *Store
	bus    Publisher
	gate   *authn.Gate
	mailer InviteMailer
	guard  InviteGuard
	logger *slog.Logger
}

func NewService(store *Store, bus Publisher, gate *authn.Gate, mailer InviteMailer, guard InviteGuard, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, gate: gate, mailer: mailer, guard: guard, logger: logger}
}

// CreateProject implements spec.md §4.4's CreateProject.
func (s *Service) CreateProject(ctx context.Context, principal authn.Principal, req CreateRequest) (Response, error) {
	if err := authn.RejectApiKey(principal); err != nil {
		return Response{}, err
	}

	id := uuid.New()
	now := time.Now().UTC()

	var namespace string
	for attempt := 0; ; attempt++ {
		suffix, err := cryptoutil.RandomAlnumLower(6)
		if err != nil {
			return Response{}, apperr.Unexpected("generating namespace", err)
		}
		candidate := "prj-" + suffix

		taken, err := s.store.NamespaceTaken(ctx, candidate)
		if err != nil {
			return Response{}, apperr.Unexpected("checking namespace uniqueness", err)
		}
		if !taken {
			namespace = candidate
			break
		}
		if attempt >= 10 {
			return Response{}, apperr.CommandMalformed("could not allocate a unique namespace")
		}
	}

	evt := events.ProjectCreated{
		ID:        id,
		Namespace: namespace,
		Name:      req.Name,
		Owner:     principal.UserID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.bus.Publish(ctx, id[:], events.TypeProjectCreated, evt); err != nil {
		return Response{}, apperr.Unexpected("publishing ProjectCreated", err)
	}

	return Response{
		ID:          id,
		Namespace:   namespace,
		Name:        req.Name,
		OwnerUserID: principal.UserID,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateProject implements spec.md §4.4's UpdateProject: requires membership.
func (s *Service) UpdateProject(ctx context.Context, principal authn.Principal, id uuid.UUID, req UpdateRequest) error {
	if err := s.gate.AssertPermission(ctx, principal, id, ""); err != nil {
		return err
	}

	evt := events.ProjectUpdated{
		ID:        id,
		Name:      req.Name,
		Status:    req.Status,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.bus.Publish(ctx, id[:], events.TypeProjectUpdated, evt); err != nil {
		return apperr.Unexpected("publishing ProjectUpdated", err)
	}
	return nil
}

// DeleteProject implements spec.md §4.4's DeleteProject: requires Owner.
func (s *Service) DeleteProject(ctx context.Context, principal authn.Principal, id uuid.UUID) error {
	if err := s.gate.AssertPermission(ctx, principal, id, RoleOwner); err != nil {
		return err
	}

	evt := events.ProjectDeleted{ID: id, DeletedAt: time.Now().UTC()}
	if err := s.bus.Publish(ctx, id[:], events.TypeProjectDeleted, evt); err != nil {
		return apperr.Unexpected("publishing ProjectDeleted", err)
	}
	return nil
}

// InviteUser implements spec.md §4.4's InviteUser.
func (s *Service) InviteUser(ctx context.Context, principal authn.Principal, projectID uuid.UUID, req InviteRequest) error {
	if err := s.gate.AssertPermission(ctx, principal, projectID, ""); err != nil {
		return err
	}

	code, err := cryptoutil.RandomAlnumLower(12)
	if err != nil {
		return apperr.Unexpected("generating invite code", err)
	}

	evt := events.ProjectUserInviteCreated{
		ID:        uuid.New(),
		ProjectID: projectID,
		Email:     req.Email,
		Code:      code,
		Role:      req.Role,
		ExpiresAt: time.Now().UTC().Add(InviteExpiry),
	}

	if err := s.bus.Publish(ctx, projectID[:], events.TypeProjectUserInviteCreated, evt); err != nil {
		return apperr.Unexpected("publishing ProjectUserInviteCreated", err)
	}

	if s.mailer != nil {
		if err := s.mailer.SendInvite(ctx, req.Email, code); err != nil {
			s.logger.Warn("sending invite email", "email", req.Email, "error", err)
		}
	}
	return nil
}

// AcceptInvite implements spec.md §4.4's AcceptInvite.
func (s *Service) AcceptInvite(ctx context.Context, principal authn.Principal, req AcceptInviteRequest) error {
	if err := authn.RejectApiKey(principal); err != nil {
		return err
	}

	invite, err := s.store.FindInviteByCode(ctx, req.Code)
	if err != nil {
		return apperr.CommandMalformed("invite not found").Wrap(err)
	}
	if invite.AcceptedBy != nil {
		return apperr.CommandMalformed("invite already accepted")
	}
	if time.Now().UTC().After(invite.ExpiresAt) {
		return apperr.CommandMalformed("invite expired")
	}

	role, err := s.store.FindMembership(ctx, principal.UserID, invite.ProjectID)
	if err != nil {
		return apperr.Unexpected("checking existing membership", err)
	}
	if role != "" {
		return apperr.CommandMalformed("already a member of this project")
	}

	claimed, err := s.guard.Claim(ctx, req.Code, InviteExpiry)
	if err != nil {
		return apperr.Unexpected("claiming invite code", err)
	}
	if !claimed {
		return apperr.CommandMalformed("invite already accepted")
	}

	evt := events.ProjectUserInviteAccepted{
		InviteID:   invite.ID,
		UserID:     principal.UserID,
		AcceptedAt: time.Now().UTC(),
	}

	if err := s.bus.Publish(ctx, invite.ProjectID[:], events.TypeProjectUserInviteAccepted, evt); err != nil {
		return apperr.Unexpected("publishing ProjectUserInviteAccepted", err)
	}
	return nil
}

// FetchProjects implements spec.md §4.4's FetchProjects: rejects ApiKey;
// page_size is validated by internal/httpserver.ParseOffsetParams before
// reaching here.
func (s *Service) FetchProjects(ctx context.Context, principal authn.Principal, page httpserver.OffsetParams) (httpserver.OffsetPage[Response], error) {
	if err := authn.RejectApiKey(principal); err != nil {
		return httpserver.OffsetPage[Response]{}, err
	}

	rows, total, err := s.store.FindProjects(ctx, principal.UserID, page.Offset, page.PageSize)
	if err != nil {
		return httpserver.OffsetPage[Response]{}, apperr.Unexpected("listing projects", err)
	}

	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToResponse())
	}

	return httpserver.NewOffsetPage(items, page, total), nil
}

// FetchProjectByID is a convenience read that returns one project by id;
// it takes no principal and makes no permission check.
func (s *Service) FetchProjectByID(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.FindProjectByID(ctx, id)
	if err != nil {
		return Response{}, apperr.Unexpected("finding project", err)
	}
	return row.ToResponse(), nil
}

// FetchProjectNamespace satisfies pkg/resource's ProjectNamespaceResolver.
func (s *Service) FetchProjectNamespace(ctx context.Context, id uuid.UUID) (string, error) {
	row, err := s.store.FindProjectByID(ctx, id)
	if err != nil {
		return "", apperr.Unexpected("finding project", err)
	}
	return row.Namespace, nil
}

// FindProjectByNamespace satisfies pkg/usage's ProjectResolver, used to
// resolve a scraped UsageLine's project_namespace back to a project id.
func (s *Service) FindProjectByNamespace(ctx context.Context, namespace string) (uuid.UUID, error) {
	row, err := s.store.FindProjectByNamespace(ctx, namespace)
	if err != nil {
		return uuid.UUID{}, apperr.Unexpected("finding project by namespace", err)
	}
	return row.ID, nil
}
