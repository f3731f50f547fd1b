// Copyright 2026 The Licentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/rbac"
	"github.com/jackc/pgx/v5"
)

// RoleRepository implements rbac.Repository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// ListRoles retrieves all defined roles
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, description
		FROM roles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}

	return roles, rows.Err()
}

// GetRole retrieves a role by ID
func (r *RoleRepository) GetRole(ctx context.Context, roleID string) (*rbac.Role, error) {
	var role rbac.Role

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, description
		FROM roles
		WHERE id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, rbac.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// GetUserRoles retrieves all roles assigned to a user
func (r *RoleRepository) GetUserRoles(ctx context.Context, userID string) ([]*rbac.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT r.id, r.name, r.description
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}

	return roles, rows.Err()
}

// CountAdministrators counts users holding the administrator role
func (r *RoleRepository) CountAdministrators(ctx context.Context) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.role_id = $1 AND u.active AND u.deleted_at IS NULL
	`, rbac.RoleIDAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count administrators: %w", err)
	}
	return count, nil
}

// InTx runs fn inside a single transaction
func (r *RoleRepository) InTx(ctx context.Context, fn func(ops rbac.TxOps) error) error {
	return r.db.withTx(ctx, func(tx pgx.Tx) error {
		return fn(&roleTxOps{tx: tx})
	})
}

// roleTxOps implements rbac.TxOps on an open transaction.
type roleTxOps struct {
	tx pgx.Tx
}

// CountAdministratorsForUpdate counts administrators while locking their
// role-assignment rows. Two concurrent removals serialize on these locks, so
// both cannot observe a count of two and each remove an administrator.
func (o *roleTxOps) CountAdministratorsForUpdate(ctx context.Context) (int, error) {
	var count int
	err := o.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT ur.user_id
			FROM user_roles ur
			JOIN users u ON u.id = ur.user_id
			WHERE ur.role_id = $1 AND u.active AND u.deleted_at IS NULL
			FOR UPDATE OF ur
		) locked
	`, rbac.RoleIDAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count administrators for update: %w", err)
	}
	return count, nil
}

// UserHasRole reports whether the user holds the role
func (o *roleTxOps) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	var exists bool
	err := o.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2
		)
	`, userID, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user role: %w", err)
	}
	return exists, nil
}

// Grant assigns a role to a user
func (o *roleTxOps) Grant(ctx context.Context, a *rbac.Assignment) error {
	if a.GrantedAt.IsZero() {
		a.GrantedAt = time.Now()
	}

	var grantedBy *string
	if a.GrantedBy != "" {
		grantedBy = &a.GrantedBy
	}

	_, err := o.tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, granted_at, granted_by)
		VALUES ($1, $2, $3, $4)
	`, a.UserID, a.RoleID, a.GrantedAt, grantedBy)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}

	return nil
}

// Revoke removes a role from a user
func (o *roleTxOps) Revoke(ctx context.Context, userID, roleID string) error {
	result, err := o.tx.Exec(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrRoleNotAssigned
	}
	return nil
}

// RevokeAll removes every role from a user
func (o *roleTxOps) RevokeAll(ctx context.Context, userID string) error {
	_, err := o.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke roles: %w", err)
	}
	return nil
}

// SetUserActive changes the account standing flag
func (o *roleTxOps) SetUserActive(ctx context.Context, userID string, active bool) error {
	result, err := o.tx.Exec(ctx, `
		UPDATE users SET active = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, userID, active)
	if err != nil {
		return fmt.Errorf("failed to update account standing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrUserNotFound
	}
	return nil
}

// SoftDeleteUser marks a user account as deleted
func (o *roleTxOps) SoftDeleteUser(ctx context.Context, userID string) error {
	result, err := o.tx.Exec(ctx, `
		UPDATE users SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return rbac.ErrUserNotFound
	}
	return nil
}
