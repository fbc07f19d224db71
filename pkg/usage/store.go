package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides read-model database operations for usage, plus the
// per-cluster scrape cursor (supplemented feature, SPEC_FULL.md).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var ErrNotFound = pgx.ErrNoRows

// InsertBatch projects one UsageCreated event: all resolved lines are
// inserted in a single local transaction (spec.md §4.9). Callers must
// resolve resource_id for every line before calling this; an
// unresolved line means the whole event is retried later.
func (s *Store) InsertBatch(ctx context.Context, rows []InsertParams) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO usage (id, event_id, cluster_id, resource_id, tier, units, interval_seconds, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.EventID, r.ClusterID, r.ResourceID, r.Tier, r.Units, r.IntervalSeconds, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting usage row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// FindReportLines returns unaggregated usage rows joined against their
// project and resource, for a given project, offset-paginated. Costing is
// done by the caller (spec.md §4.7's read path) since it's pure
// computation over these rows; the rows are not grouped into periods.
func (s *Store) FindReportLines(ctx context.Context, projectID uuid.UUID, offset, limit int) ([]ReportLine, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM usage u
		JOIN resources r ON r.id = u.resource_id
		WHERE r.project_id = $1`, projectID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting usage rows: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, r.id, r.name, r.kind, u.tier, u.units, u.interval_seconds, to_char(u.created_at, 'YYYY-MM')
		FROM usage u
		JOIN resources r ON r.id = u.resource_id
		JOIN projects p ON p.id = r.project_id
		WHERE r.project_id = $1
		ORDER BY u.created_at ASC
		OFFSET $2 LIMIT $3`,
		projectID, offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing usage rows: %w", err)
	}
	defer rows.Close()

	var out []ReportLine
	for rows.Next() {
		var l ReportLine
		if err := rows.Scan(&l.ProjectID, &l.ProjectName, &l.ResourceID, &l.ResourceName, &l.ResourceKind, &l.Tier, &l.Units, &l.IntervalSecs, &l.Period); err != nil {
			return nil, 0, fmt.Errorf("scanning usage row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating usage rows: %w", err)
	}
	return out, total, nil
}

// FindReportLinesByPeriod returns every usage row for a given "YYYY-MM"
// period, across all projects, for FindUsageReportAggregated.
func (s *Store) FindReportLinesByPeriod(ctx context.Context, period string) ([]ReportLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, r.id, r.name, r.kind, u.tier, u.units, u.interval_seconds, to_char(u.created_at, 'YYYY-MM')
		FROM usage u
		JOIN resources r ON r.id = u.resource_id
		JOIN projects p ON p.id = r.project_id
		WHERE to_char(u.created_at, 'YYYY-MM') = $1
		ORDER BY p.id, r.id`,
		period,
	)
	if err != nil {
		return nil, fmt.Errorf("listing usage rows by period: %w", err)
	}
	defer rows.Close()

	var out []ReportLine
	for rows.Next() {
		var l ReportLine
		if err := rows.Scan(&l.ProjectID, &l.ProjectName, &l.ResourceID, &l.ResourceName, &l.ResourceKind, &l.Tier, &l.Units, &l.IntervalSecs, &l.Period); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return out, nil
}

// --- Scrape cursor (supplemented feature) ---

// Cursor returns the last successfully-scraped timestamp for a cluster,
// or the zero time if none has been recorded yet.
func (s *Store) Cursor(ctx context.Context, clusterID string) (time.Time, error) {
	var cursor time.Time
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM usage_cursor WHERE cluster_id = $1`, clusterID).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading usage cursor: %w", err)
	}
	return cursor, nil
}

// AdvanceCursor persists the scrape cursor for a cluster, upserting the
// single row for that cluster_id.
func (s *Store) AdvanceCursor(ctx context.Context, clusterID string, cursor time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_cursor (cluster_id, cursor) VALUES ($1, $2)
		ON CONFLICT (cluster_id) DO UPDATE SET cursor = EXCLUDED.cursor`,
		clusterID, cursor,
	)
	if err != nil {
		return fmt.Errorf("advancing usage cursor: %w", err)
	}
	return nil
}
