package rbac

import (
	"context"
	"log/slog"

	"github.com/marcoraddatz/entrust/internal/platform/cache"
)

// Warmer enqueues a background cache warm-up for an entity after its
// snapshots were invalidated. Optional; a nil Warmer disables warm-up.
type Warmer interface {
	EnqueueWarmup(ctx context.Context, entityType string, id int64) error
}

// Coordinator applies assignment mutations and keeps the cache coherent
// by invalidating the affected relation tags after every successful
// write. Invalidation happens on write, never on read.
type Coordinator struct {
	repo   AssignmentStore
	store  cache.Store
	cfg    Config
	logger *slog.Logger
	warmer Warmer
}

// NewCoordinator constructs a Coordinator. warmer may be nil.
func NewCoordinator(repo AssignmentStore, store cache.Store, cfg Config, logger *slog.Logger, warmer Warmer) *Coordinator {
	return &Coordinator{repo: repo, store: store, cfg: cfg, logger: logger, warmer: warmer}
}

// AttachRole assigns a role to a user. The target may be an id, a Role,
// or a record shaped like {id: ...}.
func (c *Coordinator) AttachRole(ctx context.Context, userID int64, target any) error {
	roleID, err := NormalizeTarget(target)
	if err != nil {
		return err
	}
	if err := c.repo.Attach(ctx, c.cfg.roleUser(), userID, roleID); err != nil {
		return err
	}
	return c.invalidate(ctx, c.cfg.PrincipalEntity, userID, c.cfg.RoleUserTable)
}

// DetachRole removes a role from a user.
func (c *Coordinator) DetachRole(ctx context.Context, userID int64, target any) error {
	roleID, err := NormalizeTarget(target)
	if err != nil {
		return err
	}
	if err := c.repo.Detach(ctx, c.cfg.roleUser(), userID, roleID); err != nil {
		return err
	}
	return c.invalidate(ctx, c.cfg.PrincipalEntity, userID, c.cfg.RoleUserTable)
}

// AttachRoles assigns several roles at once. All targets are normalized
// before the first write so a malformed target fails fast.
func (c *Coordinator) AttachRoles(ctx context.Context, userID int64, targets []any) error {
	roleIDs, err := NormalizeTargets(targets)
	if err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if err := c.repo.Attach(ctx, c.cfg.roleUser(), userID, roleID); err != nil {
			return err
		}
	}
	return c.invalidate(ctx, c.cfg.PrincipalEntity, userID, c.cfg.RoleUserTable)
}

// DetachRoles removes the given roles; with no targets it removes every
// currently assigned role, determined by the store, not the cache.
func (c *Coordinator) DetachRoles(ctx context.Context, userID int64, targets []any) error {
	if len(targets) == 0 {
		if err := c.repo.DetachAll(ctx, c.cfg.roleUser(), userID); err != nil {
			return err
		}
		return c.invalidate(ctx, c.cfg.PrincipalEntity, userID, c.cfg.RoleUserTable)
	}
	roleIDs, err := NormalizeTargets(targets)
	if err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if err := c.repo.Detach(ctx, c.cfg.roleUser(), userID, roleID); err != nil {
			return err
		}
	}
	return c.invalidate(ctx, c.cfg.PrincipalEntity, userID, c.cfg.RoleUserTable)
}

// AttachPermission grants a permission to a role.
func (c *Coordinator) AttachPermission(ctx context.Context, roleID int64, target any) error {
	permID, err := NormalizeTarget(target)
	if err != nil {
		return err
	}
	if err := c.repo.Attach(ctx, c.cfg.permissionRole(), roleID, permID); err != nil {
		return err
	}
	return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
}

// DetachPermission revokes a permission from a role.
func (c *Coordinator) DetachPermission(ctx context.Context, roleID int64, target any) error {
	permID, err := NormalizeTarget(target)
	if err != nil {
		return err
	}
	if err := c.repo.Detach(ctx, c.cfg.permissionRole(), roleID, permID); err != nil {
		return err
	}
	return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
}

// AttachPermissions grants several permissions at once.
func (c *Coordinator) AttachPermissions(ctx context.Context, roleID int64, targets []any) error {
	permIDs, err := NormalizeTargets(targets)
	if err != nil {
		return err
	}
	for _, permID := range permIDs {
		if err := c.repo.Attach(ctx, c.cfg.permissionRole(), roleID, permID); err != nil {
			return err
		}
	}
	return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
}

// DetachPermissions revokes the given permissions; with no targets it
// revokes every currently granted permission.
func (c *Coordinator) DetachPermissions(ctx context.Context, roleID int64, targets []any) error {
	if len(targets) == 0 {
		if err := c.repo.DetachAll(ctx, c.cfg.permissionRole(), roleID); err != nil {
			return err
		}
		return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
	}
	permIDs, err := NormalizeTargets(targets)
	if err != nil {
		return err
	}
	for _, permID := range permIDs {
		if err := c.repo.Detach(ctx, c.cfg.permissionRole(), roleID, permID); err != nil {
			return err
		}
	}
	return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
}

// SavePermissions replaces a role's full grant set; an empty id list
// revokes everything.
func (c *Coordinator) SavePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := c.repo.Sync(ctx, c.cfg.permissionRole(), roleID, permissionIDs); err != nil {
		return err
	}
	return c.invalidate(ctx, c.cfg.RoleEntity, roleID, c.cfg.PermissionRoleTable)
}

// OnSave is invoked by the persistence layer after writing a principal,
// role or permission row. A failed write reports false and must not
// invalidate, so stale entries are never dropped for data that was never
// persisted.
func (c *Coordinator) OnSave(ctx context.Context, entityType string, id int64, saved bool) bool {
	if !saved {
		return false
	}
	if err := c.invalidate(ctx, entityType, id, c.cfg.outboundTags(entityType)...); err != nil {
		c.logger.Error("invalidate after save", slog.String("entity", entityType), slog.Int64("id", id), slog.Any("error", err))
	}
	return true
}

// OnDelete cascades detachment of the entity's relations unless its type
// is soft-deletable (soft-deleted rows keep their relations so they can
// be restored), then invalidates the affected tags.
func (c *Coordinator) OnDelete(ctx context.Context, entityType string, id int64) error {
	if !c.repo.SupportsSoftDelete(entityType) {
		if err := c.cascadeDetach(ctx, entityType, id); err != nil {
			return err
		}
	}
	return c.invalidate(ctx, entityType, id, c.cfg.outboundTags(entityType)...)
}

// OnRestore is invoked after reversing a soft delete; it invalidates so
// stale negative lookups are not served. Principal and role restores
// follow the same convention: invalidate only when the restore succeeded.
func (c *Coordinator) OnRestore(ctx context.Context, entityType string, id int64, restored bool) bool {
	if !restored {
		return false
	}
	if err := c.invalidate(ctx, entityType, id, c.cfg.outboundTags(entityType)...); err != nil {
		c.logger.Error("invalidate after restore", slog.String("entity", entityType), slog.Int64("id", id), slog.Any("error", err))
	}
	return true
}

func (c *Coordinator) cascadeDetach(ctx context.Context, entityType string, id int64) error {
	switch entityType {
	case c.cfg.PrincipalEntity:
		return c.repo.DetachAll(ctx, c.cfg.roleUser(), id)
	case c.cfg.RoleEntity:
		if err := c.repo.DetachAllTargets(ctx, c.cfg.roleUser(), id); err != nil {
			return err
		}
		return c.repo.DetachAll(ctx, c.cfg.permissionRole(), id)
	case c.cfg.PermissionEntity:
		return c.repo.DetachAllTargets(ctx, c.cfg.permissionRole(), id)
	}
	return nil
}

func (c *Coordinator) invalidate(ctx context.Context, entityType string, id int64, tags ...string) error {
	for _, tag := range tags {
		if err := c.store.Invalidate(ctx, tag); err != nil {
			return err
		}
	}
	if c.warmer != nil {
		if err := c.warmer.EnqueueWarmup(ctx, entityType, id); err != nil {
			c.logger.Warn("enqueue cache warmup", slog.String("entity", entityType), slog.Int64("id", id), slog.Any("error", err))
		}
	}
	return nil
}
