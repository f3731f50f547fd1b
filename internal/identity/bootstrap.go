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

package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
)

const (
	EnvBootstrapAdminUsername = "LICENTRA_BOOTSTRAP_ADMIN_USERNAME"
	EnvBootstrapAdminEmail    = "LICENTRA_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminPassword = "LICENTRA_BOOTSTRAP_ADMIN_PASSWORD"
)

// BootstrapService provisions the initial administrator account so the
// admin-floor invariant (at least one administrator) is satisfiable from
// first boot.
type BootstrapService struct {
	identityService *Service
	rbacService     *rbac.Service
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service, rbacService *rbac.Service) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		rbacService:     rbacService,
	}
}

// Bootstrap checks for bootstrap configuration and executes it if necessary.
// It is a no-op when an administrator already exists or no configuration is
// present.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	username := os.Getenv(EnvBootstrapAdminUsername)
	email := os.Getenv(EnvBootstrapAdminEmail)
	password := os.Getenv(EnvBootstrapAdminPassword)

	if username == "" || email == "" {
		return nil
	}

	count, err := s.rbacService.CountAdministrators(ctx)
	if err != nil {
		return fmt.Errorf("failed to count administrators: %w", err)
	}
	if count > 0 {
		// Already bootstrapped, skip silently
		return nil
	}

	user, err := s.identityService.repo.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("failed to look up bootstrap user: %w", err)
		}
		if password == "" {
			return fmt.Errorf("bootstrap user %q does not exist and %s is not set", username, EnvBootstrapAdminPassword)
		}
		user, err = s.identityService.CreateUser(ctx, username, email, password, audit.SystemActor)
		if err != nil {
			return fmt.Errorf("failed to create bootstrap admin: %w", err)
		}
	}

	if err := s.rbacService.AssignRole(ctx, user.ID, rbac.RoleIDAdmin, audit.SystemActor); err != nil {
		if errors.Is(err, rbac.ErrRoleAlreadyAssigned) {
			return nil
		}
		return fmt.Errorf("failed to grant administrator role during bootstrap: %w", err)
	}

	fmt.Printf("Successfully bootstrapped initial administrator: %s\n", username)
	return nil
}
