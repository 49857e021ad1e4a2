package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	RoleProjectAdmin  = "project-admin"
	RoleProjectViewer = "project-viewer"
)

var ErrMembershipNotFound = errors.New("membership not found")

// Membership is the (user, project, role) tuple. Server admins have implicit
// project-admin access everywhere without a row.
type Membership struct {
	UserID    uuid.UUID `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type MembershipModel struct {
	DB DBTX
}

// Upsert creates the membership or updates its role.
func (m MembershipModel) Upsert(ctx context.Context, mem *Membership) error {
	query := `
		INSERT INTO project_memberships (user_id, project_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, project_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING created_at`
	return m.DB.QueryRowContext(ctx, query, mem.UserID, mem.ProjectID, mem.Role).Scan(&mem.CreatedAt)
}

func (m MembershipModel) Get(ctx context.Context, userID, projectID uuid.UUID) (*Membership, error) {
	query := `
		SELECT user_id, project_id, role, created_at
		FROM project_memberships
		WHERE user_id = $1 AND project_id = $2`
	var mem Membership
	err := m.DB.QueryRowContext(ctx, query, userID, projectID).Scan(
		&mem.UserID, &mem.ProjectID, &mem.Role, &mem.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mem, nil
}

func (m MembershipModel) Delete(ctx context.Context, userID, projectID uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM project_memberships WHERE user_id = $1 AND project_id = $2`, userID, projectID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (m MembershipModel) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Membership, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT user_id, project_id, role, created_at
		FROM project_memberships
		WHERE project_id = $1
		ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		var mem Membership
		if err := rows.Scan(&mem.UserID, &mem.ProjectID, &mem.Role, &mem.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &mem)
	}
	return out, rows.Err()
}

func (m MembershipModel) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT user_id, project_id, role, created_at
		FROM project_memberships
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		var mem Membership
		if err := rows.Scan(&mem.UserID, &mem.ProjectID, &mem.Role, &mem.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &mem)
	}
	return out, rows.Err()
}
