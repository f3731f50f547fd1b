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
	"fmt"
	"log/slog"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/observability/logger"
)

// Service enforces the admin-protection invariant on every operation that
// can reduce the set of administrator accounts: role removal, full role-set
// replacement, account deactivation and account deletion. The invariant is
// that count(administrators) >= 1 at all times.
type Service struct {
	repo     Repository
	recorder audit.Recorder
}

// NewService creates a new rbac service.
func NewService(repo Repository, recorder audit.Recorder) *Service {
	return &Service{repo: repo, recorder: recorder}
}

// RemoveRole revokes one role from a user. Removing the administrator role
// is refused with ErrAdminProtection when the target is the last admin.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string, actor audit.Actor) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return ErrRoleNotFound
	}

	err := s.repo.InTx(ctx, func(ops TxOps) error {
		has, err := ops.UserHasRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !has {
			return ErrRoleNotAssigned
		}
		if roleID == RoleIDAdmin {
			if err := s.assertNotLastAdmin(ctx, ops); err != nil {
				return err
			}
		}
		return ops.Revoke(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}

	s.recordAccountUpdate(ctx, userID, actor, fmt.Sprintf("role %s removed", roleID))
	return nil
}

// AssignRole grants one role to a user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string, actor audit.Actor) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return ErrRoleNotFound
	}

	err := s.repo.InTx(ctx, func(ops TxOps) error {
		has, err := ops.UserHasRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if has {
			return ErrRoleAlreadyAssigned
		}
		return ops.Grant(ctx, &Assignment{
			UserID:    userID,
			RoleID:    roleID,
			GrantedAt: time.Now(),
			GrantedBy: actor.ID,
		})
	})
	if err != nil {
		return err
	}

	s.recordAccountUpdate(ctx, userID, actor, fmt.Sprintf("role %s assigned", roleID))
	return nil
}

// SetRoles replaces a user's full role set. The replacement is refused when
// it would strip the administrator role from the last admin.
func (s *Service) SetRoles(ctx context.Context, userID string, roleIDs []string, actor audit.Actor) error {
	for _, roleID := range roleIDs {
		if _, err := s.repo.GetRole(ctx, roleID); err != nil {
			return ErrRoleNotFound
		}
	}

	keepsAdmin := false
	for _, roleID := range roleIDs {
		if roleID == RoleIDAdmin {
			keepsAdmin = true
		}
	}

	err := s.repo.InTx(ctx, func(ops TxOps) error {
		isAdmin, err := ops.UserHasRole(ctx, userID, RoleIDAdmin)
		if err != nil {
			return err
		}
		if isAdmin && !keepsAdmin {
			if err := s.assertNotLastAdmin(ctx, ops); err != nil {
				return err
			}
		}
		if err := ops.RevokeAll(ctx, userID); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if err := ops.Grant(ctx, &Assignment{
				UserID:    userID,
				RoleID:    roleID,
				GrantedAt: time.Now(),
				GrantedBy: actor.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordAccountUpdate(ctx, userID, actor, fmt.Sprintf("role set replaced (%d roles)", len(roleIDs)))
	return nil
}

// DeactivateUser disables an account. Deactivating the last administrator
// is refused: a disabled admin cannot satisfy the admin-floor invariant.
func (s *Service) DeactivateUser(ctx context.Context, userID string, actor audit.Actor) error {
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		isAdmin, err := ops.UserHasRole(ctx, userID, RoleIDAdmin)
		if err != nil {
			return err
		}
		if isAdmin {
			if err := s.assertNotLastAdmin(ctx, ops); err != nil {
				return err
			}
		}
		return ops.SetUserActive(ctx, userID, false)
	})
	if err != nil {
		return err
	}

	if rerr := s.recorder.RecordSecurity(ctx, audit.ActionAccountDeactivated, "user:"+userID, actor, ""); rerr != nil {
		slog.WarnContext(ctx, "failed to record account deactivation", logger.Error(rerr), logger.UserID(userID))
	}
	return nil
}

// DeleteUser removes an account and its role assignments. Deleting the last
// administrator is refused.
func (s *Service) DeleteUser(ctx context.Context, userID string, actor audit.Actor) error {
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		isAdmin, err := ops.UserHasRole(ctx, userID, RoleIDAdmin)
		if err != nil {
			return err
		}
		if isAdmin {
			if err := s.assertNotLastAdmin(ctx, ops); err != nil {
				return err
			}
		}
		if err := ops.RevokeAll(ctx, userID); err != nil {
			return err
		}
		return ops.SoftDeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}

	if rerr := s.recorder.RecordSecurity(ctx, audit.ActionAccountDeleted, "user:"+userID, actor, ""); rerr != nil {
		slog.WarnContext(ctx, "failed to record account deletion", logger.Error(rerr), logger.UserID(userID))
	}
	return nil
}

// GetUserRoles returns the roles currently held by a user.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]*Role, error) {
	return s.repo.GetUserRoles(ctx, userID)
}

// ListRoles returns all defined roles.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.repo.ListRoles(ctx)
}

// CountAdministrators returns the number of accounts holding the admin role.
func (s *Service) CountAdministrators(ctx context.Context) (int, error) {
	return s.repo.CountAdministrators(ctx)
}

// assertNotLastAdmin locks the administrator assignment rows and verifies at
// least two admins exist. Called only when the guarded mutation would remove
// admin standing from the target.
func (s *Service) assertNotLastAdmin(ctx context.Context, ops TxOps) error {
	n, err := ops.CountAdministratorsForUpdate(ctx)
	if err != nil {
		return fmt.Errorf("failed to count administrators: %w", err)
	}
	if n <= 1 {
		return ErrAdminProtection
	}
	return nil
}

func (s *Service) recordAccountUpdate(ctx context.Context, userID string, actor audit.Actor, details string) {
	if err := s.recorder.RecordSecurity(ctx, audit.ActionAccountUpdated, "user:"+userID, actor, details); err != nil {
		slog.WarnContext(ctx, "failed to record account update", logger.Error(err), logger.UserID(userID))
	}
}
