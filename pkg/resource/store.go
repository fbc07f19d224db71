package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evanphx/json-patch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resourceColumns = `id, project_id, name, kind, category, spec, status, created_at, updated_at`

// Store provides read-model database operations for resources, projected
// by the Cache Projector (C9) from Resource* events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var ErrNotFound = pgx.ErrNoRows

type InsertParams struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Kind      string
	Category  string
	Spec      json.RawMessage
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Insert projects ResourceCreated. A primary-key conflict is success
// (spec.md §4.9: "already projected").
func (s *Store) Insert(ctx context.Context, p InsertParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resources (id, project_id, name, kind, category, spec, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.ProjectID, p.Name, p.Kind, p.Category, p.Spec, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting resource: %w", err)
	}
	return nil
}

// NameTaken reports whether a non-Deleted resource already holds this
// name within the project (spec.md §3's per-project uniqueness invariant).
func (s *Store) NameTaken(ctx context.Context, projectID uuid.UUID, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM resources WHERE project_id = $1 AND name = $2 AND status != $3)`,
		projectID, name, StatusDeleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking resource name uniqueness: %w", err)
	}
	return exists, nil
}

// ApplyMergePatch projects ResourceUpdated: RFC 7396 JSON merge patch of
// the current spec with evt.spec_patch (spec.md §4.9), applied in one
// transaction that locks the row with SELECT ... FOR UPDATE so a
// concurrent writer cannot interleave.
func (s *Store) ApplyMergePatch(ctx context.Context, id uuid.UUID, patch json.RawMessage, updatedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current json.RawMessage
	if err := tx.QueryRow(ctx, `SELECT spec FROM resources WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		return fmt.Errorf("locking resource row: %w", err)
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return fmt.Errorf("applying merge patch: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE resources SET spec = $2, updated_at = $3 WHERE id = $1`, id, merged, updatedAt); err != nil {
		return fmt.Errorf("updating resource spec: %w", err)
	}

	return tx.Commit(ctx)
}

// Delete projects ResourceDeleted.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE resources SET status = $2, updated_at = $3 WHERE id = $1`, id, StatusDeleted, deletedAt)
	if err != nil {
		return fmt.Errorf("marking resource deleted: %w", err)
	}
	return nil
}

// FindByProject returns a project's resources, offset-paginated.
func (s *Store) FindByProject(ctx context.Context, projectID uuid.UUID, offset, limit int) ([]Row, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM resources WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting resources: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+resourceColumns+` FROM resources
		WHERE project_id = $1
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3`,
		projectID, offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Kind, &r.Category, &r.Spec, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning resource row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating resource rows: %w", err)
	}
	return out, total, nil
}

// FindByID returns a single resource by id.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (Row, error) {
	return s.scanOne(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
}

// FindByProjectAndName resolves (project_id, resource_name) for
// the Usage Aggregate's (C7) line resolution (spec.md §4.9).
func (s *Store) FindByProjectAndName(ctx context.Context, projectID uuid.UUID, name string) (Row, error) {
	return s.scanOne(ctx, `SELECT `+resourceColumns+` FROM resources WHERE project_id = $1 AND name = $2`, projectID, name)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (Row, error) {
	var r Row
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&r.ID, &r.ProjectID, &r.Name, &r.Kind, &r.Category, &r.Spec, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return Row{}, err
	}
	return r, nil
}
