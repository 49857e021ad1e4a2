package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailDuplicate = errors.New("email already exists")
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	IsActive      bool      `json:"is_active"`
	IsVerified    bool      `json:"is_verified"`
	IsServerAdmin bool      `json:"is_server_admin"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type UserModel struct {
	DB DBTX
}

func (m UserModel) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (email, password_hash, is_active, is_verified, is_server_admin)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := m.DB.QueryRowContext(ctx, query,
		u.Email, u.PasswordHash, u.IsActive, u.IsVerified, u.IsServerAdmin,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrEmailDuplicate
	}
	return err
}

func (m UserModel) GetByEmail(ctx context.Context, email string) (*User, error) {
	return m.get(ctx, `
		SELECT id, email, password_hash, is_active, is_verified, is_server_admin, created_at, updated_at
		FROM users WHERE email = $1`, email)
}

func (m UserModel) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return m.get(ctx, `
		SELECT id, email, password_hash, is_active, is_verified, is_server_admin, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

func (m UserModel) get(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	err := m.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &u.IsServerAdmin,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m UserModel) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
