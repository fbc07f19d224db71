// Package notifyprojector implements the Notify Projector (C10, spec.md
// §4.10): forwards an allowlisted subset of the event stream to an
// outbound webhook.
package notifyprojector

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/demeter-run/fabric/pkg/eventbus"
	"github.com/demeter-run/fabric/pkg/events"
)

// defaultAllowlist names the event kinds worth forwarding to chat; purely
// internal bookkeeping events (invites, secrets) are never forwarded, so
// their fields never leave the process.
var defaultAllowlist = map[events.Type]bool{
	events.TypeProjectCreated:  true,
	events.TypeProjectDeleted:  true,
	events.TypeResourceCreated: true,
	events.TypeResourceDeleted: true,
}

// Projector posts a formatted message to webhookURL for each allowlisted
// event. Delivery failures are logged and skipped — the record is still
// committed (spec.md §4.10: "the event remains processed").
type Projector struct {
	webhookURL string
	allowlist  map[events.Type]bool
	logger     *slog.Logger
}

func New(webhookURL string, logger *slog.Logger) *Projector {
	return &Projector{webhookURL: webhookURL, allowlist: defaultAllowlist, logger: logger}
}

// IsEnabled reports whether a webhook URL is configured.
func (p *Projector) IsEnabled() bool {
	return p.webhookURL != ""
}

// Run subscribes to the event bus as groupID until ctx is cancelled.
func (p *Projector) Run(ctx context.Context, bus *eventbus.Bus, groupID string) error {
	return bus.Subscribe(ctx, groupID, p.apply)
}

func (p *Projector) apply(ctx context.Context, rec eventbus.Record) error {
	if !p.allowlist[rec.Type] {
		return nil
	}
	if !p.IsEnabled() {
		return nil
	}

	payload, err := events.Decode(rec.Type, rec.Value)
	if err != nil {
		p.logger.Error("dropping malformed event", "type", rec.Type, "error", err)
		return eventbus.ErrMalformed
	}

	msg := &goslack.WebhookMessage{
		Text: fmt.Sprintf("%s: %+v", rec.Type, payload),
	}

	if err := goslack.PostWebhookContext(ctx, p.webhookURL, msg); err != nil {
		p.logger.Warn("delivering webhook notification, skipping", "type", rec.Type, "error", err)
	}

	return nil
}
