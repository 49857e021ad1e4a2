package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/tokens"
)

var (
	ErrInvalidInvitation  = errors.New("invalid or expired invitation")
	ErrEmailMismatch      = errors.New("invitation email does not match")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type UserRepo interface {
	Create(ctx context.Context, u *data.User) error
	GetByEmail(ctx context.Context, email string) (*data.User, error)
}

type InvitationRepo interface {
	Create(ctx context.Context, inv *data.Invitation) error
	GetByToken(ctx context.Context, token string) (*data.Invitation, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

type MembershipRepo interface {
	Upsert(ctx context.Context, mem *data.Membership) error
}

type Service struct {
	Users       UserRepo
	Invitations InvitationRepo
	Memberships MembershipRepo
	TokenMgr    *tokens.Manager
}

func NewService(users UserRepo, invs InvitationRepo, mems MembershipRepo, tm *tokens.Manager) *Service {
	return &Service{Users: users, Invitations: invs, Memberships: mems, TokenMgr: tm}
}

// Register consumes an invitation token: the token must be unused, unexpired
// and issued for the submitted email. On success the account is auto-verified
// and the invitation's membership is created.
func (s *Service) Register(ctx context.Context, token, email, password string) (*data.User, error) {
	inv, err := s.Invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrInvalidInvitation
	}
	if inv.Used || time.Now().UTC().After(inv.ExpiresAt) {
		return nil, ErrInvalidInvitation
	}
	if !strings.EqualFold(inv.Email, email) {
		return nil, ErrEmailMismatch
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &data.User{
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   true, // mailbox ownership proven by the token
	}
	if err := s.Users.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.Invitations.MarkUsed(ctx, inv.ID); err != nil {
		return nil, err
	}

	if inv.ProjectID != nil {
		mem := &data.Membership{UserID: u.ID, ProjectID: *inv.ProjectID, Role: inv.Role}
		if err := s.Memberships.Upsert(ctx, mem); err != nil {
			return nil, err
		}
	}
	return u, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login verifies credentials and issues a token pair. Inactive or unverified
// accounts fail with the same error as a bad password.
func (s *Service) Login(ctx context.Context, email, password string) (*data.User, *TokenPair, error) {
	u, err := s.Users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !u.IsActive || !u.IsVerified {
		return nil, nil, ErrInvalidCredentials
	}

	match, err := auth.CheckPassword(password, u.PasswordHash)
	if err != nil || !match {
		return nil, nil, ErrInvalidCredentials
	}

	access, err := s.TokenMgr.GenerateAccessToken(u.ID.String(), u.IsServerAdmin)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.TokenMgr.GenerateRefreshToken(u.ID.String(), u.IsServerAdmin)
	if err != nil {
		return nil, nil, err
	}
	return u, &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Invite issues a registration invitation for an email, optionally tied to a
// project role.
func (s *Service) Invite(ctx context.Context, email, role string, projectID *uuid.UUID) (*data.Invitation, error) {
	if role != data.RoleProjectAdmin && role != data.RoleProjectViewer {
		return nil, errors.New("invalid role")
	}
	inv := &data.Invitation{
		Email:     strings.ToLower(email),
		Role:      role,
		ProjectID: projectID,
	}
	if err := s.Invitations.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}
