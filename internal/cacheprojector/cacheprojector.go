// Package cacheprojector implements the Cache Projector (C9, spec.md
// §4.9): a single consumer-group subscription that applies every
// committed event to the Postgres read model, so RPC reads never touch
// the event log directly.
package cacheprojector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/demeter-run/fabric/pkg/eventbus"
	"github.com/demeter-run/fabric/pkg/events"
	"github.com/demeter-run/fabric/pkg/project"
	"github.com/demeter-run/fabric/pkg/resource"
	"github.com/demeter-run/fabric/pkg/secret"
	"github.com/demeter-run/fabric/pkg/usage"
)

// Projector applies Project, Secret, Resource, and Usage events to their
// respective read-model stores.
type Projector struct {
	projects  *project.Store
	secrets   *secret.Store
	resources *resource.Store
	usageSvc  *usage.Service
	logger    *slog.Logger
}

func New(projects *project.Store, secrets *secret.Store, resources *resource.Store, usageSvc *usage.Service, logger *slog.Logger) *Projector {
	return &Projector{projects: projects, secrets: secrets, resources: resources, usageSvc: usageSvc, logger: logger}
}

// Run subscribes to the event bus as groupID until ctx is cancelled
// (spec.md §6's "fabric-cache-projector" consumer group).
func (p *Projector) Run(ctx context.Context, bus *eventbus.Bus, groupID string) error {
	return bus.Subscribe(ctx, groupID, p.apply)
}

func (p *Projector) apply(ctx context.Context, rec eventbus.Record) error {
	payload, err := events.Decode(rec.Type, rec.Value)
	if err != nil {
		if _, ok := err.(*events.UnknownTypeError); ok {
			p.logger.Warn("dropping unknown event type", "type", rec.Type)
			return eventbus.ErrMalformed
		}
		p.logger.Error("dropping malformed event", "type", rec.Type, "error", err)
		return eventbus.ErrMalformed
	}

	switch evt := payload.(type) {
	case *events.ProjectCreated:
		return p.applyProjectCreated(ctx, evt)
	case *events.ProjectUpdated:
		return p.applyProjectUpdated(ctx, evt)
	case *events.ProjectDeleted:
		return p.applyProjectDeleted(ctx, evt)
	case *events.ProjectSecretCreated:
		return p.applyProjectSecretCreated(ctx, evt)
	case *events.ProjectUserInviteCreated:
		return p.applyProjectUserInviteCreated(ctx, evt)
	case *events.ProjectUserInviteAccepted:
		return p.applyProjectUserInviteAccepted(ctx, evt)
	case *events.ProjectUserDeleted:
		return p.applyProjectUserDeleted(ctx, evt)
	case *events.ResourceCreated:
		return p.applyResourceCreated(ctx, evt)
	case *events.ResourceUpdated:
		return p.applyResourceUpdated(ctx, evt)
	case *events.ResourceDeleted:
		return p.applyResourceDeleted(ctx, evt)
	case *events.UsageCreated:
		return p.applyUsageCreated(ctx, evt)
	default:
		p.logger.Warn("no projection rule for event type", "type", rec.Type)
		return eventbus.ErrMalformed
	}
}

func (p *Projector) applyProjectCreated(ctx context.Context, evt *events.ProjectCreated) error {
	err := p.projects.Insert(ctx, project.InsertParams{
		ID:                evt.ID,
		OwnerUserID:       evt.Owner,
		Namespace:         evt.Namespace,
		Name:              evt.Name,
		Status:            evt.Status,
		BillingProvider:   evt.BillingProvider,
		BillingProviderID: evt.BillingProviderID,
		CreatedAt:         evt.CreatedAt,
		UpdatedAt:         evt.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("projecting ProjectCreated: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectUpdated(ctx context.Context, evt *events.ProjectUpdated) error {
	err := p.projects.Update(ctx, project.UpdateParams{
		ID:        evt.ID,
		Name:      evt.Name,
		Status:    evt.Status,
		UpdatedAt: evt.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("projecting ProjectUpdated: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectDeleted(ctx context.Context, evt *events.ProjectDeleted) error {
	if err := p.projects.Delete(ctx, evt.ID, evt.DeletedAt); err != nil {
		return fmt.Errorf("projecting ProjectDeleted: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectSecretCreated(ctx context.Context, evt *events.ProjectSecretCreated) error {
	err := p.secrets.Insert(ctx, secret.InsertParams{
		ID:           evt.ID,
		ProjectID:    evt.ProjectID,
		Name:         evt.Name,
		PHC:          evt.PHC,
		SaltedSecret: evt.SaltedSecret,
	})
	if err != nil {
		return fmt.Errorf("projecting ProjectSecretCreated: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectUserInviteCreated(ctx context.Context, evt *events.ProjectUserInviteCreated) error {
	err := p.projects.InsertInvite(ctx, project.InviteInsertParams{
		ID:        evt.ID,
		ProjectID: evt.ProjectID,
		Email:     evt.Email,
		Code:      evt.Code,
		Role:      evt.Role,
		ExpiresAt: evt.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("projecting ProjectUserInviteCreated: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectUserInviteAccepted(ctx context.Context, evt *events.ProjectUserInviteAccepted) error {
	err := p.projects.AcceptInvite(ctx, evt.InviteID, evt.UserID, evt.AcceptedAt)
	if err != nil {
		return fmt.Errorf("projecting ProjectUserInviteAccepted: %w", err)
	}
	return nil
}

func (p *Projector) applyProjectUserDeleted(ctx context.Context, evt *events.ProjectUserDeleted) error {
	if err := p.projects.DeleteMembership(ctx, evt.ProjectID, evt.UserID); err != nil {
		return fmt.Errorf("projecting ProjectUserDeleted: %w", err)
	}
	return nil
}

func (p *Projector) applyResourceCreated(ctx context.Context, evt *events.ResourceCreated) error {
	err := p.resources.Insert(ctx, resource.InsertParams{
		ID:        evt.ID,
		ProjectID: evt.ProjectID,
		Name:      evt.Name,
		Kind:      evt.Kind,
		Category:  evt.Category,
		Spec:      evt.Spec,
		Status:    evt.Status,
		CreatedAt: evt.CreatedAt,
		UpdatedAt: evt.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("projecting ResourceCreated: %w", err)
	}
	return nil
}

func (p *Projector) applyResourceUpdated(ctx context.Context, evt *events.ResourceUpdated) error {
	if err := p.resources.ApplyMergePatch(ctx, evt.ID, evt.SpecPatch, evt.UpdatedAt); err != nil {
		return fmt.Errorf("projecting ResourceUpdated: %w", err)
	}
	return nil
}

func (p *Projector) applyResourceDeleted(ctx context.Context, evt *events.ResourceDeleted) error {
	if err := p.resources.Delete(ctx, evt.ID, evt.DeletedAt); err != nil {
		return fmt.Errorf("projecting ResourceDeleted: %w", err)
	}
	return nil
}

// applyUsageCreated resolves every line's resource_id and inserts the
// whole batch in one local transaction. An unresolved line (out-of-order
// with ResourceCreated) fails the whole batch so the event is retried
// on redelivery, rather than being treated as malformed (spec.md §4.9,
// scenario S6) — the failure here is transient, not a defect in the
// record itself.
func (p *Projector) applyUsageCreated(ctx context.Context, evt *events.UsageCreated) error {
	if err := p.usageSvc.ProjectUsageCreated(ctx, *evt); err != nil {
		return fmt.Errorf("projecting UsageCreated: %w", err)
	}
	return nil
}
