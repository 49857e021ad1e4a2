// Package authz enforces project-scoped role-based access on every core
// operation. Server admins have implicit project-admin access everywhere.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-trapnet/internal/data"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

const cacheTTL = 30 * time.Second

// roleNone is cached for users with no membership so repeated denials do not
// hammer the DB.
const roleNone = "none"

type MembershipProvider interface {
	Get(ctx context.Context, userID, projectID uuid.UUID) (*data.Membership, error)
}

// Service answers the three authorization questions with a short-TTL Redis
// cache in front of the membership table.
type Service struct {
	memberships MembershipProvider
	cache       *redis.Client
}

func NewService(memberships MembershipProvider, cache *redis.Client) *Service {
	return &Service{memberships: memberships, cache: cache}
}

func cacheKey(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("authz:%s:%s", userID, projectID)
}

func (s *Service) roleFor(ctx context.Context, user *data.User, projectID uuid.UUID) (string, error) {
	key := cacheKey(user.ID, projectID)
	if s.cache != nil {
		if role, err := s.cache.Get(ctx, key).Result(); err == nil {
			return role, nil
		}
	}

	role := roleNone
	mem, err := s.memberships.Get(ctx, user.ID, projectID)
	if err == nil {
		role = mem.Role
	} else if !errors.Is(err, data.ErrMembershipNotFound) {
		return "", err
	}

	if s.cache != nil {
		// Best effort; a cache write failure must not block the request.
		_ = s.cache.Set(ctx, key, role, cacheTTL).Err()
	}
	return role, nil
}

// CanRead: server admin or any membership on the project.
func (s *Service) CanRead(ctx context.Context, user *data.User, projectID uuid.UUID) (bool, error) {
	if user.IsServerAdmin {
		return true, nil
	}
	role, err := s.roleFor(ctx, user, projectID)
	if err != nil {
		return false, err
	}
	return role == data.RoleProjectAdmin || role == data.RoleProjectViewer, nil
}

// CanAdmin: server admin or project-admin membership.
func (s *Service) CanAdmin(ctx context.Context, user *data.User, projectID uuid.UUID) (bool, error) {
	if user.IsServerAdmin {
		return true, nil
	}
	role, err := s.roleFor(ctx, user, projectID)
	if err != nil {
		return false, err
	}
	return role == data.RoleProjectAdmin, nil
}

// CanAdminServer: server admin flag only.
func (s *Service) CanAdminServer(user *data.User) bool {
	return user.IsServerAdmin
}

// Invalidate drops the cached role after a membership mutation.
func (s *Service) Invalidate(ctx context.Context, userID, projectID uuid.UUID) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, cacheKey(userID, projectID)).Err()
	}
}
