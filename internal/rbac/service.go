package rbac

import (
	"context"
	"log/slog"

	"github.com/marcoraddatz/entrust/internal/platform/cache"
)

// Service is the facade exposed to callers: cached resolution, boolean
// evaluation, and cache-coherent assignment mutations.
type Service struct {
	repo        AssignmentStore
	cfg         Config
	resolver    *CachedResolver
	engine      *Engine
	coordinator *Coordinator
}

// NewService wires resolvers, engine and coordinator over one store and
// one assignment repository. warmer may be nil.
func NewService(repo AssignmentStore, store cache.Store, cfg Config, logger *slog.Logger, warmer Warmer) *Service {
	resolver := NewCachedResolver(store, repo, cfg)
	return &Service{
		repo:        repo,
		cfg:         cfg,
		resolver:    resolver,
		engine:      NewEngine(resolver, resolver),
		coordinator: NewCoordinator(repo, store, cfg, logger, warmer),
	}
}

// RolesFor returns the user's effective role snapshot.
func (s *Service) RolesFor(ctx context.Context, userID int64) ([]Role, error) {
	return s.resolver.RolesFor(ctx, userID)
}

// PermissionsFor returns the role's effective permission snapshot.
func (s *Service) PermissionsFor(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.resolver.PermissionsFor(ctx, roleID)
}

// HasRole checks role membership. names accepts a single name, a
// comma-separated string, or a list.
func (s *Service) HasRole(ctx context.Context, userID int64, names any, requireAll bool) (bool, error) {
	list, err := NormalizeNames(names)
	if err != nil {
		return false, err
	}
	return s.engine.HasRole(ctx, userID, list, requireAll)
}

// Can checks permission possession under wildcard matching. names accepts
// the same shapes as HasRole.
func (s *Service) Can(ctx context.Context, userID int64, names any, requireAll bool) (bool, error) {
	list, err := NormalizeNames(names)
	if err != nil {
		return false, err
	}
	return s.engine.Can(ctx, userID, list, requireAll)
}

// Ability runs the combined role/permission query.
func (s *Service) Ability(ctx context.Context, userID int64, roleNames, permissionNames any, opts AbilityOptions) (AbilityResult, error) {
	roles, err := NormalizeNames(roleNames)
	if err != nil {
		return AbilityResult{}, err
	}
	permissions, err := NormalizeNames(permissionNames)
	if err != nil {
		return AbilityResult{}, err
	}
	return s.engine.Ability(ctx, userID, roles, permissions, opts)
}

// AttachRole assigns a role to a user.
func (s *Service) AttachRole(ctx context.Context, userID int64, target any) error {
	return s.coordinator.AttachRole(ctx, userID, target)
}

// DetachRole removes a role from a user.
func (s *Service) DetachRole(ctx context.Context, userID int64, target any) error {
	return s.coordinator.DetachRole(ctx, userID, target)
}

// AttachRoles assigns several roles to a user.
func (s *Service) AttachRoles(ctx context.Context, userID int64, targets []any) error {
	return s.coordinator.AttachRoles(ctx, userID, targets)
}

// DetachRoles removes the given roles, or every assigned role when no
// targets are supplied.
func (s *Service) DetachRoles(ctx context.Context, userID int64, targets []any) error {
	return s.coordinator.DetachRoles(ctx, userID, targets)
}

// AttachPermission grants a permission to a role.
func (s *Service) AttachPermission(ctx context.Context, roleID int64, target any) error {
	return s.coordinator.AttachPermission(ctx, roleID, target)
}

// DetachPermission revokes a permission from a role.
func (s *Service) DetachPermission(ctx context.Context, roleID int64, target any) error {
	return s.coordinator.DetachPermission(ctx, roleID, target)
}

// AttachPermissions grants several permissions to a role.
func (s *Service) AttachPermissions(ctx context.Context, roleID int64, targets []any) error {
	return s.coordinator.AttachPermissions(ctx, roleID, targets)
}

// DetachPermissions revokes the given permissions, or every granted
// permission when no targets are supplied.
func (s *Service) DetachPermissions(ctx context.Context, roleID int64, targets []any) error {
	return s.coordinator.DetachPermissions(ctx, roleID, targets)
}

// SavePermissions replaces a role's full grant set.
func (s *Service) SavePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return s.coordinator.SavePermissions(ctx, roleID, permissionIDs)
}

// DeleteUser removes a user and runs the delete hook so the stale role
// snapshot is dropped.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	return s.coordinator.OnDelete(ctx, s.cfg.PrincipalEntity, id)
}

// DeleteRole removes a role and runs the delete hook, dropping both the
// assignment and grant snapshots it participated in.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	return s.coordinator.OnDelete(ctx, s.cfg.RoleEntity, id)
}

// RestoreUser reverses a user's soft delete and runs the restore hook.
// The hook only invalidates when the row was actually restored.
func (s *Service) RestoreUser(ctx context.Context, id int64) error {
	err := s.repo.RestoreUser(ctx, id)
	s.coordinator.OnRestore(ctx, s.cfg.PrincipalEntity, id, err == nil)
	return err
}

// RestoreRole reverses a role's soft delete and runs the restore hook.
func (s *Service) RestoreRole(ctx context.Context, id int64) error {
	err := s.repo.RestoreRole(ctx, id)
	s.coordinator.OnRestore(ctx, s.cfg.RoleEntity, id, err == nil)
	return err
}

// OnSave is the persistence hook for principal/role/permission writes.
func (s *Service) OnSave(ctx context.Context, entityType string, id int64, saved bool) bool {
	return s.coordinator.OnSave(ctx, entityType, id, saved)
}

// OnDelete is the persistence hook for entity deletion.
func (s *Service) OnDelete(ctx context.Context, entityType string, id int64) error {
	return s.coordinator.OnDelete(ctx, entityType, id)
}

// OnRestore is the persistence hook for soft-delete reversal.
func (s *Service) OnRestore(ctx context.Context, entityType string, id int64, restored bool) bool {
	return s.coordinator.OnRestore(ctx, entityType, id, restored)
}
