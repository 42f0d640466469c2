package rbac

import (
	"context"
	"fmt"

	"github.com/marcoraddatz/entrust/internal/platform/cache"
)

// RoleResolver materializes a user's effective role set.
type RoleResolver interface {
	RolesFor(ctx context.Context, userID int64) ([]Role, error)
}

// PermissionResolver materializes a role's effective permission set.
type PermissionResolver interface {
	PermissionsFor(ctx context.Context, roleID int64) ([]Permission, error)
}

// CachedResolver reads assignment snapshots through the cache store.
// Entries are keyed by entity identity and tagged by the relation name so
// the mutation coordinator can drop a whole relation's snapshots at once.
type CachedResolver struct {
	store cache.Store
	repo  AssignmentStore
	cfg   Config
}

// NewCachedResolver constructs a resolver over the given store.
func NewCachedResolver(store cache.Store, repo AssignmentStore, cfg Config) *CachedResolver {
	return &CachedResolver{store: store, repo: repo, cfg: cfg}
}

func roleCacheKey(userID int64) string {
	return fmt.Sprintf("roles_for_%d", userID)
}

func permissionCacheKey(roleID int64) string {
	return fmt.Sprintf("permissions_for_%d", roleID)
}

// RolesFor returns the user's effective roles, computing them from the
// assignment store on a cache miss.
func (r *CachedResolver) RolesFor(ctx context.Context, userID int64) ([]Role, error) {
	var roles []Role
	err := r.store.Fetch(ctx, roleCacheKey(userID), r.cfg.RoleUserTable, &roles, func(ctx context.Context) (any, error) {
		return r.repo.RolesForUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// PermissionsFor returns the role's effective permissions, computing them
// from the assignment store on a cache miss.
func (r *CachedResolver) PermissionsFor(ctx context.Context, roleID int64) ([]Permission, error) {
	var perms []Permission
	err := r.store.Fetch(ctx, permissionCacheKey(roleID), r.cfg.PermissionRoleTable, &perms, func(ctx context.Context) (any, error) {
		return r.repo.PermissionsForRole(ctx, roleID)
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}
