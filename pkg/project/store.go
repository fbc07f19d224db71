package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, namespace, name, owner_user_id, status, billing_provider, billing_provider_id, created_at, updated_at`

// Store provides read-model database operations for projects,
// memberships and invites, projected by the Cache Projector (C9).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var ErrNotFound = pgx.ErrNoRows

// --- Projection (C9 write side) ---

type InsertParams struct {
	ID                uuid.UUID
	Namespace         string
	Name              string
	OwnerUserID       uuid.UUID
	Status            string
	BillingProvider   string
	BillingProviderID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Insert projects ProjectCreated: inserts the project and the owner's
// membership row. A primary-key conflict on either is treated as success
// (spec.md §4.9).
func (s *Store) Insert(ctx context.Context, p InsertParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, namespace, name, owner_user_id, status, billing_provider, billing_provider_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Namespace, p.Name, p.OwnerUserID, p.Status, p.BillingProvider, p.BillingProviderID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO project_users (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO NOTHING`,
		p.ID, p.OwnerUserID, RoleOwner, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	return tx.Commit(ctx)
}

// NamespaceTaken reports whether a non-Deleted project already holds
// this namespace (spec.md §4.4's uniqueness invariant).
func (s *Store) NamespaceTaken(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM projects WHERE namespace = $1 AND status != $2)`,
		namespace, StatusDeleted,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking namespace uniqueness: %w", err)
	}
	return exists, nil
}

type UpdateParams struct {
	ID        uuid.UUID
	Name      *string
	Status    *string
	UpdatedAt time.Time
}

// Update projects ProjectUpdated: applies only the fields present in the patch.
func (s *Store) Update(ctx context.Context, p UpdateParams) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET
			name = COALESCE($2, name),
			status = COALESCE($3, status),
			updated_at = $4
		WHERE id = $1`,
		p.ID, p.Name, p.Status, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return nil
}

// Delete projects ProjectDeleted: marks the project Deleted and cascades
// the same status to its resources (spec.md §4.9).
func (s *Store) Delete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE projects SET status = $2, updated_at = $3 WHERE id = $1`,
		id, StatusDeleted, deletedAt)
	if err != nil {
		return fmt.Errorf("marking project deleted: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE resources SET status = $2, updated_at = $3 WHERE project_id = $1`,
		id, StatusDeleted, deletedAt)
	if err != nil {
		return fmt.Errorf("cascading delete to resources: %w", err)
	}

	return tx.Commit(ctx)
}

type InviteInsertParams struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Email     string
	Code      string
	Role      string
	ExpiresAt time.Time
}

// InsertInvite projects ProjectUserInviteCreated.
func (s *Store) InsertInvite(ctx context.Context, p InviteInsertParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_user_invites (id, project_id, email, code, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.ProjectID, p.Email, p.Code, p.Role, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting invite: %w", err)
	}
	return nil
}

// AcceptInvite projects ProjectUserInviteAccepted: in one transaction,
// marks the invite accepted and inserts the membership row (spec.md §4.9).
func (s *Store) AcceptInvite(ctx context.Context, inviteID, userID uuid.UUID, acceptedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var projectID uuid.UUID
	var role string
	err = tx.QueryRow(ctx, `SELECT project_id, role FROM project_user_invites WHERE id = $1`, inviteID).Scan(&projectID, &role)
	if err != nil {
		return fmt.Errorf("looking up invite: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE project_user_invites SET accepted_by = $2, accepted_at = $3
		WHERE id = $1 AND accepted_by IS NULL`,
		inviteID, userID, acceptedAt,
	)
	if err != nil {
		return fmt.Errorf("marking invite accepted: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO project_users (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID, role, acceptedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting accepted membership: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteMembership projects ProjectUserDeleted.
func (s *Store) DeleteMembership(ctx context.Context, projectID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM project_users WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

// --- Reads (C9 read side, spec.md §4.9) ---

// FindMembership implements authn.MembershipFinder. Returns "" with no
// error if the user has no membership row for the project.
func (s *Store) FindMembership(ctx context.Context, userID, projectID uuid.UUID) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM project_users WHERE user_id = $1 AND project_id = $2`, userID, projectID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding membership: %w", err)
	}
	return role, nil
}

// FindProjects returns the projects a user is a member of, offset-paginated.
func (s *Store) FindProjects(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Row, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM projects p
		JOIN project_users pu ON pu.project_id = p.id
		WHERE pu.user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting projects: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.namespace, p.name, p.owner_user_id, p.status, p.billing_provider, p.billing_provider_id, p.created_at, p.updated_at
		FROM projects p
		JOIN project_users pu ON pu.project_id = p.id
		WHERE pu.user_id = $1
		ORDER BY p.created_at ASC
		OFFSET $2 LIMIT $3`,
		userID, offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Name, &r.OwnerUserID, &r.Status, &r.BillingProvider, &r.BillingProviderID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning project row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating project rows: %w", err)
	}
	return out, total, nil
}

// FindProjectByNamespace returns the project with the given namespace.
func (s *Store) FindProjectByNamespace(ctx context.Context, namespace string) (Row, error) {
	return s.scanOne(ctx, `SELECT `+projectColumns+` FROM projects WHERE namespace = $1`, namespace)
}

// FindProjectByID returns the project with the given id.
func (s *Store) FindProjectByID(ctx context.Context, id uuid.UUID) (Row, error) {
	return s.scanOne(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (Row, error) {
	var r Row
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&r.ID, &r.Namespace, &r.Name, &r.OwnerUserID, &r.Status, &r.BillingProvider, &r.BillingProviderID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return Row{}, err
	}
	return r, nil
}

// FindInviteByCode returns the invite with the given code.
func (s *Store) FindInviteByCode(ctx context.Context, code string) (InviteRow, error) {
	var r InviteRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, email, code, role, expires_at, accepted_by, accepted_at
		FROM project_user_invites WHERE code = $1`, code,
	).Scan(&r.ID, &r.ProjectID, &r.Email, &r.Code, &r.Role, &r.ExpiresAt, &r.AcceptedBy, &r.AcceptedAt)
	if err != nil {
		return InviteRow{}, err
	}
	return r, nil
}
