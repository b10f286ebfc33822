package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RoleRepository defines the interface for role and permission persistence.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	GetBySlug(ctx context.Context, teamID, slug string) (*Role, error)
	ListByTeam(ctx context.Context, teamID string) ([]Role, error)
	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermissionBySlug(ctx context.Context, slug string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID string) error
	DetachPermission(ctx context.Context, roleID, permissionID string) error
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

const roleColumns = `id, team_id, parent_id, name, slug, description, status, created_at, updated_at`

// Create inserts a new role. The ID is generated if empty and the status
// defaults to active.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = "role-" + uuid.NewString()[:8]
	}
	if role.Status == "" {
		role.Status = RoleActive
	}

	var now string
	role.CreatedAt, now = nowRFC3339()
	role.UpdatedAt = role.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, team_id, parent_id, name, slug, description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		role.ID, nullString(role.TeamID), nullString(role.ParentID), role.Name,
		role.Slug, nullString(role.Description), string(role.Status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("creating role: %w", err)
	}

	return nil
}

// GetByID retrieves a role by ID, with permissions eagerly loaded.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE id = ?", id)
}

// GetBySlug retrieves a team's role by slug, with permissions eagerly loaded.
func (r *SQLiteRoleRepository) GetBySlug(ctx context.Context, teamID, slug string) (*Role, error) {
	return r.getRole(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE team_id = ? AND slug = ?", teamID, slug)
}

// ListByTeam returns a team's roles ordered by creation date. Permissions
// are not loaded; use GetByID for the full record.
func (r *SQLiteRoleRepository) ListByTeam(ctx context.Context, teamID string) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+roleColumns+" FROM roles WHERE team_id = ? ORDER BY created_at ASC", teamID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRoleFrom(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}

	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// CreatePermission inserts a new permission. The ID is generated if empty.
func (r *SQLiteRoleRepository) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.ID == "" {
		perm.ID = "perm-" + uuid.NewString()[:8]
	}

	var now string
	perm.CreatedAt, now = nowRFC3339()
	perm.UpdatedAt = perm.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permissions (id, name, slug, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		perm.ID, perm.Name, perm.Slug, nullString(perm.Description), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("creating permission: %w", err)
	}

	return nil
}

// GetPermissionBySlug retrieves a permission by its slug.
func (r *SQLiteRoleRepository) GetPermissionBySlug(ctx context.Context, slug string) (*Permission, error) {
	return scanPermissionFrom(r.db.QueryRowContext(ctx,
		"SELECT id, name, slug, description, created_at, updated_at FROM permissions WHERE slug = ?", slug))
}

// ListPermissions returns all permissions ordered by slug.
func (r *SQLiteRoleRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, slug, description, created_at, updated_at FROM permissions ORDER BY slug ASC")
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermissionFrom(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}

	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// AttachPermission links a permission to a role. Attaching an already
// linked pair is a no-op.
func (r *SQLiteRoleRepository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("attaching permission: %w", err)
	}
	return nil
}

// DetachPermission unlinks a permission from a role.
func (r *SQLiteRoleRepository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("detaching permission: %w", err)
	}
	return nil
}

// getRole executes a query, scans a single role and attaches its permissions.
func (r *SQLiteRoleRepository) getRole(ctx context.Context, query string, args ...any) (*Role, error) {
	role, err := scanRoleFrom(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	role.Permissions, err = r.loadPermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// loadPermissions returns the permissions attached to a role.
func (r *SQLiteRoleRepository) loadPermissions(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.slug, p.description, p.created_at, p.updated_at
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = ?
		 ORDER BY p.slug ASC`, roleID)
	if err != nil {
		return nil, fmt.Errorf("loading role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermissionFrom(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}

	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// scanRoleFrom scans a role from any scanner (Row or Rows).
func scanRoleFrom(s scanner) (*Role, error) {
	var role Role
	var teamID, parentID, description sql.NullString
	var status string
	var createdAt, updatedAt string

	err := s.Scan(&role.ID, &teamID, &parentID, &role.Name, &role.Slug,
		&description, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	role.TeamID = teamID.String
	role.ParentID = parentID.String
	role.Description = description.String
	role.Status = RoleStatus(status)
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)

	return &role, nil
}

// scanPermissionFrom scans a permission from any scanner (Row or Rows).
func scanPermissionFrom(s scanner) (*Permission, error) {
	var p Permission
	var description sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.Name, &p.Slug, &description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPermissionNotFound
		}
		return nil, fmt.Errorf("scanning permission: %w", err)
	}

	p.Description = description.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	return &p, nil
}
