package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcoraddatz/entrust/internal/platform/db"
	"github.com/marcoraddatz/entrust/internal/shared"
)

// AssignmentStore is the persistence contract the resolvers and the
// mutation coordinator consume. It is the single authority for role and
// permission assignments; cache entries only mirror its answers.
type AssignmentStore interface {
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)

	Attach(ctx context.Context, rel Relation, ownerID, targetID int64) error
	Detach(ctx context.Context, rel Relation, ownerID, targetID int64) error
	DetachAll(ctx context.Context, rel Relation, ownerID int64) error
	DetachAllTargets(ctx context.Context, rel Relation, targetID int64) error
	Sync(ctx context.Context, rel Relation, ownerID int64, targetIDs []int64) error

	DeleteUser(ctx context.Context, id int64) error
	DeleteRole(ctx context.Context, id int64) error
	RestoreUser(ctx context.Context, id int64) error
	RestoreRole(ctx context.Context, id int64) error

	SupportsSoftDelete(entityType string) bool
}

// Repository provides PostgreSQL backed persistence for assignments.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, cfg Config) *Repository {
	return &Repository{pool: pool, cfg: cfg}
}

// RolesForUser returns the roles currently assigned to a user. Soft
// deleted roles stay out of the effective set until restored.
func (r *Repository) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	query := fmt.Sprintf(`SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN %s ru ON ru.role_id = r.id
		WHERE ru.user_id = $1 AND r.deleted_at IS NULL
		ORDER BY r.id`, r.cfg.RoleUserTable)
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// PermissionsForRole returns the permissions currently granted to a role.
func (r *Repository) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	query := fmt.Sprintf(`SELECT p.id, p.name, p.description
		FROM permissions p
		JOIN %s pr ON pr.permission_id = p.id
		WHERE pr.role_id = $1
		ORDER BY p.id`, r.cfg.PermissionRoleTable)
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// Attach inserts a relation row. Attaching an existing pair is a no-op so
// repeated attaches never duplicate the grant.
func (r *Repository) Attach(ctx context.Context, rel Relation, ownerID, targetID int64) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		rel.Table, rel.OwnerColumn, rel.TargetColumn)
	_, err := r.pool.Exec(ctx, query, ownerID, targetID)
	return mapPgError(err)
}

// Detach removes a relation row; detaching an absent pair is a no-op.
func (r *Repository) Detach(ctx context.Context, rel Relation, ownerID, targetID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		rel.Table, rel.OwnerColumn, rel.TargetColumn)
	_, err := r.pool.Exec(ctx, query, ownerID, targetID)
	return err
}

// DetachAll removes every relation row owned by ownerID.
func (r *Repository) DetachAll(ctx context.Context, rel Relation, ownerID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, rel.Table, rel.OwnerColumn)
	_, err := r.pool.Exec(ctx, query, ownerID)
	return err
}

// DetachAllTargets removes every relation row pointing at targetID.
func (r *Repository) DetachAllTargets(ctx context.Context, rel Relation, targetID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, rel.Table, rel.TargetColumn)
	_, err := r.pool.Exec(ctx, query, targetID)
	return err
}

// Sync replaces the owner's full target set with targetIDs. An empty set
// detaches everything. Runs in one transaction so readers never observe a
// partially replaced set.
func (r *Repository) Sync(ctx context.Context, rel Relation, ownerID int64, targetIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		existingQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
			rel.TargetColumn, rel.Table, rel.OwnerColumn)
		rows, err := tx.Query(ctx, existingQuery, ownerID)
		if err != nil {
			return err
		}
		existing := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		keep := make(map[int64]struct{}, len(targetIDs))
		insertQuery := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			rel.Table, rel.OwnerColumn, rel.TargetColumn)
		for _, id := range targetIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; !ok {
				if _, err := tx.Exec(ctx, insertQuery, ownerID, id); err != nil {
					return mapPgError(err)
				}
			}
		}
		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
			rel.Table, rel.OwnerColumn, rel.TargetColumn)
		for id := range existing {
			if _, ok := keep[id]; !ok {
				if _, err := tx.Exec(ctx, deleteQuery, ownerID, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SupportsSoftDelete reports the capability flag for the entity type.
func (r *Repository) SupportsSoftDelete(entityType string) bool {
	return r.cfg.SupportsSoftDelete(entityType)
}

// DeleteUser removes a user. Soft-deletable users keep their relation
// rows and are only stamped; otherwise the role assignments are cascaded
// away in the same transaction as the row.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	if r.cfg.SupportsSoftDelete(r.cfg.PrincipalEntity) {
		return r.softDelete(ctx, "users", id)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		cascade := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, r.cfg.RoleUserTable)
		if _, err := tx.Exec(ctx, cascade, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// DeleteRole removes a role, cascading its user assignments and
// permission grants unless the role type is soft-deletable.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	if r.cfg.SupportsSoftDelete(r.cfg.RoleEntity) {
		return r.softDelete(ctx, "roles", id)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		userCascade := fmt.Sprintf(`DELETE FROM %s WHERE role_id = $1`, r.cfg.RoleUserTable)
		if _, err := tx.Exec(ctx, userCascade, id); err != nil {
			return err
		}
		permCascade := fmt.Sprintf(`DELETE FROM %s WHERE role_id = $1`, r.cfg.PermissionRoleTable)
		if _, err := tx.Exec(ctx, permCascade, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

func (r *Repository) softDelete(ctx context.Context, table string, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, table)
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RestoreUser reverses a soft delete on a user row.
func (r *Repository) RestoreUser(ctx context.Context, id int64) error {
	return r.restore(ctx, "users", id)
}

// RestoreRole reverses a soft delete on a role row.
func (r *Repository) RestoreRole(ctx context.Context, id int64) error {
	return r.restore(ctx, "roles", id)
}

func (r *Repository) restore(ctx context.Context, table string, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`, table)
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// mapPgError translates foreign key violations into ErrNotFound: the
// referenced principal, role or permission does not exist.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, pgErr.Detail)
	}
	return err
}
