package rbac

import (
	"context"
	"fmt"
	"path"

	"github.com/marcoraddatz/entrust/internal/shared"
)

// Ability return types.
const (
	ReturnBoolean = "boolean"
	ReturnArray   = "array"
	ReturnBoth    = "both"
)

// AbilityOptions configures the combined role/permission query.
type AbilityOptions struct {
	// ValidateAll must be a bool when set: true requires every named role
	// and permission to hold, false grants on any single match. Any other
	// type fails with ErrInvalidArgument.
	ValidateAll any
	// ReturnType is one of boolean, array or both; empty defaults to
	// boolean.
	ReturnType string
}

// AbilityResult carries the outcome of an Ability query. Which fields are
// populated follows the requested return type: boolean sets only Granted,
// array sets only the per-name maps, both sets all three. The zero fields
// marshal away, so the result serializes in the requested shape as is.
type AbilityResult struct {
	Granted     *bool           `json:"granted,omitempty"`
	Roles       map[string]bool `json:"roles,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

// Allowed reports the combined boolean; false when the requested shape
// carries no boolean.
func (r AbilityResult) Allowed() bool {
	return r.Granted != nil && *r.Granted
}

// Engine answers role and permission checks against resolved snapshots.
type Engine struct {
	roles       RoleResolver
	permissions PermissionResolver
}

// NewEngine constructs an Engine over the given resolvers.
func NewEngine(roles RoleResolver, permissions PermissionResolver) *Engine {
	return &Engine{roles: roles, permissions: permissions}
}

// HasRole reports whether the user holds the named roles. Matching is
// exact and case-sensitive. With requireAll the check fails on the first
// missing name; without it the check passes on the first present name.
// When every name has been evaluated without an early exit the result is
// requireAll itself, so an empty name list under requireAll is vacuously
// true.
func (e *Engine) HasRole(ctx context.Context, userID int64, names []string, requireAll bool) (bool, error) {
	for _, name := range names {
		ok, err := e.hasRole(ctx, userID, name)
		if err != nil {
			return false, err
		}
		if ok && !requireAll {
			return true, nil
		}
		if !ok && requireAll {
			return false, nil
		}
	}
	return requireAll, nil
}

// Can reports whether the user holds the named permissions through any of
// its roles. Unlike HasRole, each queried name is a shell-style wildcard
// pattern matched against stored permission names ("posts.*" covers
// "posts.edit"). Multi-name semantics mirror HasRole.
func (e *Engine) Can(ctx context.Context, userID int64, names []string, requireAll bool) (bool, error) {
	for _, name := range names {
		ok, err := e.can(ctx, userID, name)
		if err != nil {
			return false, err
		}
		if ok && !requireAll {
			return true, nil
		}
		if !ok && requireAll {
			return false, nil
		}
	}
	return requireAll, nil
}

// Ability combines independent per-name role and permission checks.
// Invalid options fail before any evaluation happens.
func (e *Engine) Ability(ctx context.Context, userID int64, roleNames, permissionNames []string, opts AbilityOptions) (AbilityResult, error) {
	validateAll := false
	switch v := opts.ValidateAll.(type) {
	case nil:
	case bool:
		validateAll = v
	default:
		return AbilityResult{}, fmt.Errorf("%w: validate_all must be a boolean, got %T", shared.ErrInvalidArgument, opts.ValidateAll)
	}

	returnType := opts.ReturnType
	if returnType == "" {
		returnType = ReturnBoolean
	}
	switch returnType {
	case ReturnBoolean, ReturnArray, ReturnBoth:
	default:
		return AbilityResult{}, fmt.Errorf("%w: return_type must be boolean, array or both, got %q", shared.ErrInvalidArgument, opts.ReturnType)
	}

	roleChecks := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		ok, err := e.hasRole(ctx, userID, name)
		if err != nil {
			return AbilityResult{}, err
		}
		roleChecks[name] = ok
	}
	permissionChecks := make(map[string]bool, len(permissionNames))
	for _, name := range permissionNames {
		ok, err := e.can(ctx, userID, name)
		if err != nil {
			return AbilityResult{}, err
		}
		permissionChecks[name] = ok
	}

	anyTrue := false
	noneFalse := true
	for _, ok := range roleChecks {
		anyTrue = anyTrue || ok
		noneFalse = noneFalse && ok
	}
	for _, ok := range permissionChecks {
		anyTrue = anyTrue || ok
		noneFalse = noneFalse && ok
	}
	granted := (validateAll && noneFalse) || (!validateAll && anyTrue)

	switch returnType {
	case ReturnArray:
		return AbilityResult{Roles: roleChecks, Permissions: permissionChecks}, nil
	case ReturnBoth:
		return AbilityResult{Granted: &granted, Roles: roleChecks, Permissions: permissionChecks}, nil
	default:
		return AbilityResult{Granted: &granted}, nil
	}
}

func (e *Engine) hasRole(ctx context.Context, userID int64, name string) (bool, error) {
	roles, err := e.roles.RolesFor(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) can(ctx context.Context, userID int64, name string) (bool, error) {
	roles, err := e.roles.RolesFor(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		perms, err := e.permissions.PermissionsFor(ctx, role.ID)
		if err != nil {
			return false, err
		}
		for _, perm := range perms {
			if matchWildcard(name, perm.Name) {
				return true, nil
			}
		}
	}
	return false, nil
}

// matchWildcard matches a stored permission name against a query pattern
// using path.Match glob semantics. A malformed pattern never matches.
func matchWildcard(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}
