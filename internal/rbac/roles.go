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

package rbac

import (
	"context"
	"errors"
	"time"
)

// System-defined Role IDs from the initial schema migration
// (001_initial_schema.up.sql). Seeded during database initialization and
// must remain stable. DO NOT modify these values without a corresponding
// migration and data migration plan.
const (
	// RoleIDAdmin grants full administrative privileges: product and
	// license management, assignment override, role and account management.
	RoleIDAdmin = "20000000-0000-0000-0000-000000000001"

	// RoleIDSelfService allows a user to activate and deactivate license
	// seats for their own account.
	RoleIDSelfService = "20000000-0000-0000-0000-000000000002"
)

// Role names as stored and as presented to callers.
const (
	RoleNameAdmin       = "admin"
	RoleNameSelfService = "self_service"
)

// Domain errors
var (
	// ErrAdminProtection signals that an operation would leave the system
	// without a single administrator account and was therefore refused.
	ErrAdminProtection = errors.New("operation would remove the last administrator")

	ErrRoleNotFound        = errors.New("role not found")
	ErrRoleNotAssigned     = errors.New("role is not assigned to this user")
	ErrRoleAlreadyAssigned = errors.New("role is already assigned to this user")
	ErrUserNotFound        = errors.New("user not found")
)

// Role is a named privilege bundle.
type Role struct {
	ID          string
	Name        string
	Description string
}

// Assignment links a user to a role (user<->role many-to-many).
type Assignment struct {
	UserID    string
	RoleID    string
	GrantedAt time.Time
	GrantedBy string
}

// Repository defines role persistence. Mutations run through InTx so the
// admin-floor check and the role mutation it guards share one transaction.
type Repository interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	GetRole(ctx context.Context, roleID string) (*Role, error)
	GetUserRoles(ctx context.Context, userID string) ([]*Role, error)
	CountAdministrators(ctx context.Context) (int, error)

	// InTx runs fn inside a single transaction; any error rolls back
	// every mutation fn performed.
	InTx(ctx context.Context, fn func(ops TxOps) error) error
}

// TxOps is the transaction-scoped operation set. CountAdministratorsForUpdate
// locks the administrator role-assignment rows so two concurrent removals
// cannot both observe a count of two.
type TxOps interface {
	CountAdministratorsForUpdate(ctx context.Context) (int, error)
	UserHasRole(ctx context.Context, userID, roleID string) (bool, error)
	Grant(ctx context.Context, a *Assignment) error
	Revoke(ctx context.Context, userID, roleID string) error
	RevokeAll(ctx context.Context, userID string) error

	// Account-standing mutations guarded by admin protection. Kept in the
	// same transaction scope as the role checks.
	SetUserActive(ctx context.Context, userID string, active bool) error
	SoftDeleteUser(ctx context.Context, userID string) error
}

// HasRole reports whether a role ID is contained in a role set.
func HasRole(roles []*Role, roleID string) bool {
	for _, r := range roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}
