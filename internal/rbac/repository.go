package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-bim/atlas-bim/internal/platform/db"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ReadPort defines the lookups the resolver depends on.
type ReadPort interface {
	UserRole(ctx context.Context, userID int64) (Role, error)
	GrantedPermissions(ctx context.Context, roleID int64) ([]string, error)
	UserRoleIDs(ctx context.Context, userIDs []int64) (map[int64]int64, error)
	GrantedPermissionSets(ctx context.Context, roleIDs []int64) (map[int64][]string, error)
}

// RepositoryPort defines data access methods for matrix administration.
type RepositoryPort interface {
	ReadPort
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	PermissionByCode(ctx context.Context, code string) (Permission, error)
	ListGrants(ctx context.Context) ([]Grant, error)
	UpsertGrant(ctx context.Context, roleID, permissionID int64, granted bool, grantedBy int64) error
	ReplaceGrants(ctx context.Context, updates []MatrixUpdate, grantedBy int64) error
	SetUserRole(ctx context.Context, userID, roleID int64) error
	IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserRole returns the role of a user. ErrNotFound when the user is unknown.
func (r *Repository) UserRole(ctx context.Context, userID int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT ur.id, ur.code, ur.name, ur.name_local, ur.color, ur.is_active, ur.created_at, ur.updated_at
		FROM users u
		JOIN user_roles ur ON ur.id = u.role_id
		WHERE u.id = $1`, userID)
	var role Role
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.NameLocal, &role.Color, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// GrantedPermissions returns the codes of active permissions granted to a role.
func (r *Repository) GrantedPermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.code
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.granted AND p.is_active
		ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// UserRoleIDs resolves the role id of every listed user in one round trip.
// Unknown users are absent from the result map.
func (r *Repository) UserRoleIDs(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, role_id FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID, roleID int64
		if err := rows.Scan(&userID, &roleID); err != nil {
			return nil, err
		}
		result[userID] = roleID
	}
	return result, rows.Err()
}

// GrantedPermissionSets fetches the granted codes for every listed role in one
// round trip.
func (r *Repository) GrantedPermissionSets(ctx context.Context, roleIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT rp.role_id, p.code
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1) AND rp.granted AND p.is_active`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var code string
		if err := rows.Scan(&roleID, &code); err != nil {
			return nil, err
		}
		result[roleID] = append(result[roleID], code)
	}
	return result, rows.Err()
}

// ListRoles returns all roles ordered by code.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, name_local, color, is_active, created_at, updated_at FROM user_roles ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.NameLocal, &role.Color, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns all permissions ordered by category then code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, name_local, category, is_active FROM permissions ORDER BY category, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.NameLocal, &p.Category, &p.IsActive); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// PermissionByCode returns one permission by its unique code.
func (r *Repository) PermissionByCode(ctx context.Context, code string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, code, name, name_local, category, is_active FROM permissions WHERE code = $1`, code)
	var p Permission
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.NameLocal, &p.Category, &p.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// ListGrants returns every matrix row.
func (r *Repository) ListGrants(ctx context.Context) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id, permission_id, granted, granted_by, granted_at FROM role_permissions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.RoleID, &g.PermissionID, &g.Granted, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

const upsertGrantSQL = `
	INSERT INTO role_permissions (role_id, permission_id, granted, granted_by, granted_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (role_id, permission_id)
	DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by, granted_at = NOW()`

// UpsertGrant writes one matrix cell, at most one row per (role, permission).
func (r *Repository) UpsertGrant(ctx context.Context, roleID, permissionID int64, granted bool, grantedBy int64) error {
	_, err := r.pool.Exec(ctx, upsertGrantSQL, roleID, permissionID, granted, grantedBy)
	return err
}

// ReplaceGrants applies a batch of matrix cell updates in a single
// transaction. A partially applied matrix update would grant and deny
// permissions inconsistently, so all cells commit together or not at all.
func (r *Repository) ReplaceGrants(ctx context.Context, updates []MatrixUpdate, grantedBy int64) error {
	if len(updates) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, u := range updates {
			tag, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, granted, granted_by, granted_at)
				SELECT ur.id, p.id, $3, $4, NOW()
				FROM user_roles ur, permissions p
				WHERE ur.code = $1 AND p.code = $2
				ON CONFLICT (role_id, permission_id)
				DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by, granted_at = NOW()`,
				u.RoleCode, u.PermissionCode, u.Granted, grantedBy)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
}

// SetUserRole reassigns a user to a role.
func (r *Repository) SetUserRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsProjectMember reports whether a user is listed on a project.
func (r *Repository) IsProjectMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`, projectID, userID).Scan(&exists)
	return exists, err
}

var _ RepositoryPort = (*Repository)(nil)
