package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/tokens"
	"github.com/technosupport/ts-trapnet/internal/users"
)

type mockUsers struct {
	byEmail map[string]*data.User
	created []*data.User
}

func (m *mockUsers) Create(ctx context.Context, u *data.User) error {
	if _, ok := m.byEmail[u.Email]; ok {
		return data.ErrEmailDuplicate
	}
	u.ID = uuid.New()
	m.byEmail[u.Email] = u
	m.created = append(m.created, u)
	return nil
}

func (m *mockUsers) GetByEmail(ctx context.Context, email string) (*data.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, data.ErrUserNotFound
	}
	return u, nil
}

type mockInvitations struct {
	byToken map[string]*data.Invitation
	used    []uuid.UUID
}

func (m *mockInvitations) Create(ctx context.Context, inv *data.Invitation) error {
	inv.ID = uuid.New()
	if inv.Token == "" {
		inv.Token = "tok-" + inv.ID.String()
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = time.Now().Add(7 * 24 * time.Hour)
	}
	m.byToken[inv.Token] = inv
	return nil
}

func (m *mockInvitations) GetByToken(ctx context.Context, token string) (*data.Invitation, error) {
	inv, ok := m.byToken[token]
	if !ok {
		return nil, data.ErrInvitationNotFound
	}
	return inv, nil
}

func (m *mockInvitations) MarkUsed(ctx context.Context, id uuid.UUID) error {
	m.used = append(m.used, id)
	for _, inv := range m.byToken {
		if inv.ID == id {
			inv.Used = true
		}
	}
	return nil
}

type mockMemberships struct {
	upserts []*data.Membership
}

func (m *mockMemberships) Upsert(ctx context.Context, mem *data.Membership) error {
	m.upserts = append(m.upserts, mem)
	return nil
}

func newService() (*users.Service, *mockUsers, *mockInvitations, *mockMemberships) {
	u := &mockUsers{byEmail: make(map[string]*data.User)}
	i := &mockInvitations{byToken: make(map[string]*data.Invitation)}
	mm := &mockMemberships{}
	return users.NewService(u, i, mm, tokens.NewManager("test-key")), u, i, mm
}

func TestRegisterWithInvitation(t *testing.T) {
	svc, userRepo, invRepo, memRepo := newService()
	ctx := context.Background()

	projectID := uuid.New()
	inv, err := svc.Invite(ctx, "jane@example.org", data.RoleProjectViewer, &projectID)
	require.NoError(t, err)

	u, err := svc.Register(ctx, inv.Token, "Jane@Example.org", "hunter2hunter2")
	require.NoError(t, err)

	assert.Equal(t, "jane@example.org", u.Email)
	assert.True(t, u.IsVerified, "invitation token proves the mailbox")
	assert.True(t, u.IsActive)
	assert.False(t, u.IsServerAdmin)

	require.Len(t, memRepo.upserts, 1)
	assert.Equal(t, projectID, memRepo.upserts[0].ProjectID)
	assert.Equal(t, data.RoleProjectViewer, memRepo.upserts[0].Role)

	assert.Len(t, invRepo.used, 1)
	assert.Len(t, userRepo.created, 1)
}

func TestRegisterEmailMismatch(t *testing.T) {
	svc, _, _, _ := newService()
	ctx := context.Background()

	inv, err := svc.Invite(ctx, "jane@example.org", data.RoleProjectViewer, nil)
	require.NoError(t, err)

	_, err = svc.Register(ctx, inv.Token, "someone-else@example.org", "hunter2hunter2")
	assert.ErrorIs(t, err, users.ErrEmailMismatch)
}

func TestRegisterUsedInvitation(t *testing.T) {
	svc, _, invRepo, _ := newService()
	ctx := context.Background()

	inv, err := svc.Invite(ctx, "jane@example.org", data.RoleProjectAdmin, nil)
	require.NoError(t, err)
	invRepo.byToken[inv.Token].Used = true

	_, err = svc.Register(ctx, inv.Token, "jane@example.org", "hunter2hunter2")
	assert.ErrorIs(t, err, users.ErrInvalidInvitation)
}

func TestRegisterExpiredInvitation(t *testing.T) {
	svc, _, invRepo, _ := newService()
	ctx := context.Background()

	inv, err := svc.Invite(ctx, "jane@example.org", data.RoleProjectAdmin, nil)
	require.NoError(t, err)
	invRepo.byToken[inv.Token].ExpiresAt = time.Now().Add(-time.Hour)

	_, err = svc.Register(ctx, inv.Token, "jane@example.org", "hunter2hunter2")
	assert.ErrorIs(t, err, users.ErrInvalidInvitation)
}

func TestLogin(t *testing.T) {
	svc, userRepo, _, _ := newService()
	ctx := context.Background()

	hash, err := auth.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	userRepo.byEmail["jane@example.org"] = &data.User{
		ID: uuid.New(), Email: "jane@example.org", PasswordHash: hash,
		IsActive: true, IsVerified: true,
	}

	u, pair, err := svc.Login(ctx, "jane@example.org", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "jane@example.org", u.Email)

	_, _, err = svc.Login(ctx, "jane@example.org", "wrong")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	svc, userRepo, _, _ := newService()
	ctx := context.Background()

	hash, _ := auth.HashPassword("hunter2hunter2")
	userRepo.byEmail["bob@example.org"] = &data.User{
		ID: uuid.New(), Email: "bob@example.org", PasswordHash: hash,
		IsActive: false, IsVerified: true,
	}

	_, _, err := svc.Login(ctx, "bob@example.org", "hunter2hunter2")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)
}
