// Package clusterprojector implements the Cluster Projector (C8,
// spec.md §4.8): applies Resource and Project events to the Kubernetes
// orchestrator as dynamic CRD objects and Namespaces. It never writes
// back to the event log (spec.md §9).
package clusterprojector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/demeter-run/fabric/pkg/eventbus"
	"github.com/demeter-run/fabric/pkg/events"
)

const group = "demeter.run"
const version = "v1alpha1"

// NamespaceResolver resolves a project id to its namespace. ProjectDeleted
// carries only the id (spec.md §4.1's event table), so the Namespace
// delete step looks the namespace up from the read model rather than the
// event itself — the row's namespace column survives the C9 cascade,
// which only changes status.
type NamespaceResolver interface {
	FetchProjectNamespace(ctx context.Context, id uuid.UUID) (string, error)
}

// Projector applies committed events to the orchestrator (spec.md §4.8).
type Projector struct {
	client   dynamic.Interface
	projects NamespaceResolver
	logger   *slog.Logger
}

func New(client dynamic.Interface, projects NamespaceResolver, logger *slog.Logger) *Projector {
	return &Projector{client: client, projects: projects, logger: logger}
}

// Run subscribes to the event bus as groupID until ctx is cancelled.
func (p *Projector) Run(ctx context.Context, bus *eventbus.Bus, groupID string) error {
	return bus.Subscribe(ctx, groupID, p.apply)
}

func (p *Projector) apply(ctx context.Context, rec eventbus.Record) error {
	payload, err := events.Decode(rec.Type, rec.Value)
	if err != nil {
		if _, ok := err.(*events.UnknownTypeError); ok {
			return eventbus.ErrMalformed
		}
		p.logger.Error("dropping malformed event", "type", rec.Type, "error", err)
		return eventbus.ErrMalformed
	}

	switch evt := payload.(type) {
	case *events.ProjectCreated:
		return p.applyProjectCreated(ctx, evt)
	case *events.ProjectDeleted:
		return p.applyProjectDeleted(ctx, evt)
	case *events.ResourceCreated:
		return p.applyResourceCreated(ctx, evt)
	case *events.ResourceUpdated:
		return p.applyResourceUpdated(ctx, evt)
	case *events.ResourceDeleted:
		return p.applyResourceDeleted(ctx, evt)
	default:
		// Project* membership events, secrets, and usage never reach
		// the orchestrator.
		return nil
	}
}

func resourceInterface(client dynamic.Interface, kind, namespace string) dynamic.ResourceInterface {
	gvr := schema.GroupVersionResource{
		Group:    group,
		Version:  version,
		Resource: strings.ToLower(kind) + "s",
	}
	return client.Resource(gvr).Namespace(namespace)
}

func (p *Projector) applyProjectCreated(ctx context.Context, evt *events.ProjectCreated) error {
	ns := &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": "v1",
			"kind":       "Namespace",
			"metadata": map[string]any{
				"name": evt.Namespace,
			},
		},
	}

	nsGVR := schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}
	_, err := p.client.Resource(nsGVR).Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", evt.Namespace, err)
	}
	return nil
}

func (p *Projector) applyProjectDeleted(ctx context.Context, evt *events.ProjectDeleted) error {
	namespace, err := p.projects.FetchProjectNamespace(ctx, evt.ID)
	if err != nil {
		return fmt.Errorf("resolving namespace for project %s: %w", evt.ID, err)
	}

	nsGVR := schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}
	err = p.client.Resource(nsGVR).Delete(ctx, namespace, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	return nil
}

func (p *Projector) applyResourceCreated(ctx context.Context, evt *events.ResourceCreated) error {
	var spec map[string]any
	if err := json.Unmarshal(evt.Spec, &spec); err != nil {
		p.logger.Error("dropping ResourceCreated with unparseable spec", "id", evt.ID, "error", err)
		return eventbus.ErrMalformed
	}

	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": group + "/" + version,
			"kind":       evt.Kind,
			"metadata": map[string]any{
				"name":      evt.ID.String(),
				"namespace": evt.ProjectNamespace,
			},
			"spec": spec,
		},
	}

	ri := resourceInterface(p.client, evt.Kind, evt.ProjectNamespace)
	_, err := ri.Create(ctx, obj, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating %s/%s: %w", evt.Kind, evt.ID, err)
	}
	return nil
}

func (p *Projector) applyResourceUpdated(ctx context.Context, evt *events.ResourceUpdated) error {
	if !json.Valid(evt.SpecPatch) {
		p.logger.Error("dropping ResourceUpdated with invalid spec_patch", "id", evt.ID)
		return eventbus.ErrMalformed
	}

	mergePatch, err := json.Marshal(map[string]any{"spec": evt.SpecPatch})
	if err != nil {
		return fmt.Errorf("encoding merge patch: %w", err)
	}

	ri := resourceInterface(p.client, evt.Kind, evt.ProjectNamespace)
	_, err = ri.Patch(ctx, evt.ID.String(), types.MergePatchType, mergePatch, metav1.PatchOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("patching %s/%s: %w", evt.Kind, evt.ID, err)
	}
	return nil
}

func (p *Projector) applyResourceDeleted(ctx context.Context, evt *events.ResourceDeleted) error {
	ri := resourceInterface(p.client, evt.Kind, evt.ProjectNamespace)
	err := ri.Delete(ctx, evt.ID.String(), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting %s/%s: %w", evt.Kind, evt.ID, err)
	}
	return nil
}
