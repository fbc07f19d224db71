package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/demeter-run/fabric/internal/apperr"
	"github.com/demeter-run/fabric/internal/metadata"
	"github.com/demeter-run/fabric/internal/telemetry"
	"github.com/demeter-run/fabric/pkg/events"
)

// Publisher appends an event to the bus. Implemented by pkg/eventbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, key []byte, typ events.Type, payload any) error
}

// ProjectResolver resolves a project namespace to its id, needed to
// resolve a usage line's (project_namespace, resource_name) pair
// (spec.md §4.9).
type ProjectResolver interface {
	FindProjectByNamespace(ctx context.Context, namespace string) (uuid.UUID, error)
}

// ResourceResolver resolves a (project_id, resource_name) pair to its
// resource id.
type ResourceResolver interface {
	FindIDByProjectAndName(ctx context.Context, projectID uuid.UUID, name string) (uuid.UUID, error)
}

// Service implements the Usage Aggregate (C7): the scheduled scrape loop
// and the aggregation/costing read path.
type Service struct {
	store     *Store
	bus       Publisher
	prom      promv1.API
	projects  ProjectResolver
	resources ResourceResolver
	registry  *metadata.Registry
	clusterID string
	logger    *slog.Logger
}

// NewService constructs the Usage Aggregate. promURL is dialed once at
// construction (spec.md §6's "prometheus.url"). httpClient carries
// whatever transport the caller wants scrape requests sent over
// (plain, or OAuth2 client-credentials authenticated); pass
// http.DefaultClient for an unauthenticated Prometheus.
func NewService(store *Store, bus Publisher, promURL string, httpClient *http.Client, projects ProjectResolver, resources ResourceResolver, registry *metadata.Registry, clusterID string, logger *slog.Logger) (*Service, error) {
	client, err := promapi.NewClient(promapi.Config{Address: promURL, Client: httpClient})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}

	return &Service{
		store:     store,
		bus:       bus,
		prom:      promv1.NewAPI(client),
		projects:  projects,
		resources: resources,
		registry:  registry,
		clusterID: clusterID,
		logger:    logger,
	}, nil
}

// Run executes the scheduled scrape loop (spec.md §4.7): every interval,
// compute (start=cursor, end=now), scrape, and emit UsageCreated. Blocks
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			outcome := "success"
			if err := s.scrapeOnce(ctx); err != nil {
				s.logger.Error("usage scrape failed", "cluster_id", s.clusterID, "error", err)
				outcome = "error"
			}
			telemetry.UsageScrapeTotal.WithLabelValues(s.clusterID, outcome).Inc()
		}
	}
}

// scrapeOnce performs one scrape-and-publish cycle.
func (s *Service) scrapeOnce(ctx context.Context) error {
	start, err := s.store.Cursor(ctx, s.clusterID)
	if err != nil {
		return fmt.Errorf("reading cursor: %w", err)
	}
	end := time.Now().UTC()
	if start.IsZero() {
		start = end.Add(-5 * time.Second)
	}

	lines, err := s.queryWindow(ctx, start, end)
	if err != nil {
		return fmt.Errorf("querying metrics: %w", err)
	}

	if len(lines) == 0 {
		return s.store.AdvanceCursor(ctx, s.clusterID, end)
	}

	evt := events.UsageCreated{
		ID:        uuid.New(),
		ClusterID: s.clusterID,
		Lines:     lines,
		CreatedAt: end,
	}

	if err := s.bus.Publish(ctx, []byte(s.clusterID), events.TypeUsageCreated, evt); err != nil {
		return fmt.Errorf("publishing UsageCreated: %w", err)
	}
	telemetry.EventsPublishedTotal.WithLabelValues(string(events.TypeUsageCreated)).Inc()

	return s.store.AdvanceCursor(ctx, s.clusterID, end)
}

// queryWindow computes a windowed sum per (project_namespace,
// resource_name, tier), restricted to tiers != "0", rounded to integer
// units (spec.md §4.7).
func (s *Service) queryWindow(ctx context.Context, start, end time.Time) ([]events.UsageLine, error) {
	window := int64(end.Sub(start).Seconds())
	if window < 1 {
		window = 1
	}
	query := fmt.Sprintf(`sum by (project_namespace, resource_name, tier) (increase(fabric_resource_usage_total{tier!="0"}[%ds]))`, window)

	value, warnings, err := s.prom.Query(ctx, query, end)
	if err != nil {
		return nil, fmt.Errorf("prometheus query: %w", err)
	}
	for _, w := range warnings {
		s.logger.Warn("prometheus query warning", "warning", w)
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected prometheus result type %T", value)
	}

	interval := int64(end.Sub(start).Seconds())

	lines := make([]events.UsageLine, 0, len(vector))
	for _, sample := range vector {
		tier := string(sample.Metric["tier"])
		if tier == "0" {
			continue
		}
		lines = append(lines, events.UsageLine{
			ProjectNamespace: string(sample.Metric["project_namespace"]),
			ResourceName:     string(sample.Metric["resource_name"]),
			Tier:             tier,
			Units:            int64(math.Round(float64(sample.Value))),
			IntervalSeconds:  interval,
		})
	}
	return lines, nil
}

// ProjectUsageCreated resolves and inserts one UsageCreated event's lines
// (the Cache Projector's, C9, handler for this event type). If any
// line's resource cannot be resolved, the whole batch is rejected so the
// event is retried on redelivery (spec.md §4.9, scenario S6).
func (s *Service) ProjectUsageCreated(ctx context.Context, evt events.UsageCreated) error {
	rows := make([]InsertParams, 0, len(evt.Lines))

	for _, line := range evt.Lines {
		projectID, err := s.projects.FindProjectByNamespace(ctx, line.ProjectNamespace)
		if err != nil {
			return fmt.Errorf("resolving project %q: %w", line.ProjectNamespace, err)
		}
		resourceID, err := s.resources.FindIDByProjectAndName(ctx, projectID, line.ResourceName)
		if err != nil {
			return fmt.Errorf("resolving resource %q: %w", line.ResourceName, err)
		}

		rows = append(rows, InsertParams{
			ID:              usageRowID(evt.ID, resourceID, line.Tier),
			EventID:         evt.ID,
			ClusterID:       evt.ClusterID,
			ResourceID:      resourceID,
			Tier:            line.Tier,
			Units:           line.Units,
			IntervalSeconds: line.IntervalSeconds,
			CreatedAt:       evt.CreatedAt,
		})
	}

	return s.store.InsertBatch(ctx, rows)
}

// usageRowID derives a deterministic row id for one usage line within a
// UsageCreated event, so redelivery of the same event resolves to the
// same id and the store's ON CONFLICT (id) guard can actually fire
// (spec.md §4.9, scenario S6: the row must exist exactly once).
func usageRowID(eventID, resourceID uuid.UUID, tier string) uuid.UUID {
	return uuid.NewSHA1(eventID, []byte(resourceID.String()+"|"+tier))
}

// FindUsageReport implements spec.md §4.9's FindUsageReport read,
// applying cost-tier pricing from the metadata registry.
func (s *Service) FindUsageReport(ctx context.Context, projectID uuid.UUID, offset, limit int) ([]ReportLine, int, error) {
	lines, total, err := s.store.FindReportLines(ctx, projectID, offset, limit)
	if err != nil {
		return nil, 0, apperr.Unexpected("finding usage report", err)
	}
	s.applyCosting(lines)
	return lines, total, nil
}

// FindUsageReportAggregated implements spec.md §4.9's
// FindUsageReportAggregated(period), grouping by (project, resource,
// tier, period) and costing each group (spec.md §4.7).
func (s *Service) FindUsageReportAggregated(ctx context.Context, period string) ([]ReportLine, error) {
	raw, err := s.store.FindReportLinesByPeriod(ctx, period)
	if err != nil {
		return nil, apperr.Unexpected("finding aggregated usage report", err)
	}

	type key struct {
		projectID, resourceID uuid.UUID
		tier, period          string
	}
	grouped := make(map[key]*ReportLine)
	order := make([]key, 0)

	for _, l := range raw {
		k := key{l.ProjectID, l.ResourceID, l.Tier, l.Period}
		g, ok := grouped[k]
		if !ok {
			copyLine := l
			copyLine.Units = 0
			copyLine.IntervalSecs = 0
			grouped[k] = &copyLine
			order = append(order, k)
			g = grouped[k]
		}
		g.Units += l.Units
		g.IntervalSecs += l.IntervalSecs
	}

	out := make([]ReportLine, 0, len(order))
	for _, k := range order {
		out = append(out, *grouped[k])
	}
	s.applyCosting(out)
	return out, nil
}

func (s *Service) applyCosting(lines []ReportLine) {
	for i := range lines {
		kindMeta, ok := s.resourceKindOf(lines[i])
		if !ok {
			continue
		}
		daysInMonth := daysInPeriod(lines[i].Period)
		unitsCost, minimumCost, hasMinimum := kindMeta.CostForUnits(lines[i].Tier, lines[i].Units, lines[i].IntervalSecs, daysInMonth)
		lines[i].UnitsCost = unitsCost
		lines[i].MinimumCost = minimumCost
		lines[i].HasMinimum = hasMinimum
	}
}

func (s *Service) resourceKindOf(line ReportLine) (metadata.Kind, bool) {
	return s.registry.Lookup(line.ResourceKind)
}

func daysInPeriod(period string) int {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return 30
	}
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	firstOfThis := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return int(firstOfNext.Sub(firstOfThis).Hours() / 24)
}
