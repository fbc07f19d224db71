package secret

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const secretColumns = `id, project_id, name, phc, salted_secret, created_at`

// Store provides read-model database operations for secrets, projected
// by the Cache Projector (C9) from ProjectSecretCreated events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a secret Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertParams are the fields projected from a ProjectSecretCreated event.
type InsertParams struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	PHC          string
	SaltedSecret []byte
}

// Insert projects a ProjectSecretCreated event. A primary-key conflict is
// treated as success, per spec.md §4.9's idempotence requirement.
func (s *Store) Insert(ctx context.Context, p InsertParams) error {
	query := `INSERT INTO project_secrets (id, project_id, name, phc, salted_secret)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, p.ID, p.ProjectID, p.Name, p.PHC, p.SaltedSecret)
	if err != nil {
		return fmt.Errorf("inserting project secret: %w", err)
	}
	return nil
}

// CountByProject returns the number of secrets currently held by a project.
func (s *Store) CountByProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM project_secrets WHERE project_id = $1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting project secrets: %w", err)
	}
	return count, nil
}

// ListByProject returns all secrets for a project, in creation order.
// VerifySecret iterates this list in full, never short-circuiting on
// name or other metadata (spec.md §4.5: "no short-circuit based on key
// metadata").
func (s *Store) ListByProject(ctx context.Context, projectID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + secretColumns + ` FROM project_secrets WHERE project_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing project secrets: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.PHC, &r.SaltedSecret, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project secret row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project secret rows: %w", err)
	}
	return out, nil
}

var ErrNotFound = pgx.ErrNoRows
