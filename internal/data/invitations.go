package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationUsed     = errors.New("invitation already used")
)

const invitationTTL = 7 * 24 * time.Hour

// Invitation gates registration: the token proves both intent and mailbox
// ownership, and carries the membership the new account receives.
type Invitation struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	CreatedAt time.Time  `json:"created_at"`
}

type InvitationModel struct {
	DB DBTX
}

func (m InvitationModel) Create(ctx context.Context, inv *Invitation) error {
	if inv.Token == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return err
		}
		inv.Token = base64.RawURLEncoding.EncodeToString(raw)
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = time.Now().UTC().Add(invitationTTL)
	}
	query := `
		INSERT INTO user_invitations (email, role, project_id, token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query,
		inv.Email, inv.Role, inv.ProjectID, inv.Token, inv.ExpiresAt.UTC(),
	).Scan(&inv.ID, &inv.CreatedAt)
}

func (m InvitationModel) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, email, role, project_id, token, expires_at, used, created_at
		FROM user_invitations
		WHERE token = $1`
	var inv Invitation
	err := m.DB.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.Email, &inv.Role, &inv.ProjectID, &inv.Token,
		&inv.ExpiresAt, &inv.Used, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkUsed is conditional on the token still being unused, so two racing
// registrations cannot both consume it.
func (m InvitationModel) MarkUsed(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE user_invitations SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrInvitationUsed
	}
	return nil
}
