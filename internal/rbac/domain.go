package rbac

import (
	"time"
)

// Role represents a named permission grouping assignable to users.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// GetID implements Identifiable.
func (r Role) GetID() int64 { return r.ID }

// Permission represents an atomic capability attached to roles. Permission
// checks match its name against shell-style wildcard patterns.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GetID implements Identifiable.
func (p Permission) GetID() int64 { return p.ID }

// Identifiable is implemented by entities that can act as attach or
// detach targets.
type Identifiable interface {
	GetID() int64
}

// Relation describes a many-to-many join table between an owning entity
// and its targets. The table name doubles as the cache tag for entries
// resolved through it.
type Relation struct {
	Table        string
	OwnerColumn  string
	TargetColumn string
}

// Config carries the relation names, cache TTL and entity type names the
// core requires at initialization.
type Config struct {
	// RoleUserTable names the user<->role join table and the cache tag
	// for resolved role snapshots.
	RoleUserTable string
	// PermissionRoleTable names the role<->permission join table and the
	// cache tag for resolved permission snapshots.
	PermissionRoleTable string

	CacheTTL time.Duration

	PrincipalEntity  string
	RoleEntity       string
	PermissionEntity string

	// SoftDeleteEntities lists the entity types whose rows are soft
	// deleted; cascades are skipped for them on delete.
	SoftDeleteEntities []string
}

// SupportsSoftDelete reports whether the entity type keeps its rows
// addressable after deletion.
func (c Config) SupportsSoftDelete(entityType string) bool {
	for _, e := range c.SoftDeleteEntities {
		if e == entityType {
			return true
		}
	}
	return false
}

func (c Config) roleUser() Relation {
	return Relation{Table: c.RoleUserTable, OwnerColumn: "user_id", TargetColumn: "role_id"}
}

func (c Config) permissionRole() Relation {
	return Relation{Table: c.PermissionRoleTable, OwnerColumn: "role_id", TargetColumn: "permission_id"}
}

// outboundTags returns the cache tags touched by relations the entity
// type participates in.
func (c Config) outboundTags(entityType string) []string {
	switch entityType {
	case c.PrincipalEntity:
		return []string{c.RoleUserTable}
	case c.RoleEntity:
		return []string{c.RoleUserTable, c.PermissionRoleTable}
	case c.PermissionEntity:
		return []string{c.PermissionRoleTable}
	}
	return nil
}
