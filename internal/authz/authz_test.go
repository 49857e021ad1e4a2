package authz_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/authz"
	"github.com/technosupport/ts-trapnet/internal/data"
)

type mockMemberships struct {
	roles map[string]string // user|project -> role
	calls int
}

func (m *mockMemberships) Get(ctx context.Context, userID, projectID uuid.UUID) (*data.Membership, error) {
	m.calls++
	role, ok := m.roles[userID.String()+"|"+projectID.String()]
	if !ok {
		return nil, data.ErrMembershipNotFound
	}
	return &data.Membership{UserID: userID, ProjectID: projectID, Role: role}, nil
}

func setup(t *testing.T) (*authz.Service, *mockMemberships, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &mockMemberships{roles: make(map[string]string)}
	return authz.NewService(repo, rdb), repo, func() { rdb.Close() }
}

func TestServerAdminBypassesMembership(t *testing.T) {
	svc, repo, cleanup := setup(t)
	defer cleanup()

	admin := &data.User{ID: uuid.New(), IsServerAdmin: true}
	project := uuid.New()

	ok, err := svc.CanRead(context.Background(), admin, project)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanAdmin(context.Background(), admin, project)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 0, repo.calls, "server admin must not hit the membership table")
}

func TestViewerCanReadNotAdmin(t *testing.T) {
	svc, repo, cleanup := setup(t)
	defer cleanup()

	user := &data.User{ID: uuid.New()}
	project := uuid.New()
	repo.roles[user.ID.String()+"|"+project.String()] = data.RoleProjectViewer

	ok, err := svc.CanRead(context.Background(), user, project)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanAdmin(context.Background(), user, project)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoMembershipDenied(t *testing.T) {
	svc, _, cleanup := setup(t)
	defer cleanup()

	user := &data.User{ID: uuid.New()}

	ok, err := svc.CanRead(context.Background(), user, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleLookupIsCached(t *testing.T) {
	svc, repo, cleanup := setup(t)
	defer cleanup()

	user := &data.User{ID: uuid.New()}
	project := uuid.New()
	repo.roles[user.ID.String()+"|"+project.String()] = data.RoleProjectAdmin

	for i := 0; i < 5; i++ {
		ok, err := svc.CanAdmin(context.Background(), user, project)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, repo.calls, "repeated checks within the TTL should hit Redis")
}

func TestInvalidateDropsCachedRole(t *testing.T) {
	svc, repo, cleanup := setup(t)
	defer cleanup()

	user := &data.User{ID: uuid.New()}
	project := uuid.New()
	key := user.ID.String() + "|" + project.String()
	repo.roles[key] = data.RoleProjectAdmin

	ok, err := svc.CanAdmin(context.Background(), user, project)
	require.NoError(t, err)
	assert.True(t, ok)

	// Role revoked: without invalidation the stale grant would survive.
	delete(repo.roles, key)
	svc.Invalidate(context.Background(), user.ID, project)

	ok, err = svc.CanAdmin(context.Background(), user, project)
	require.NoError(t, err)
	assert.False(t, ok)
}
