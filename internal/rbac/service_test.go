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
	"testing"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleKey struct {
	userID string
	roleID string
}

// fakeRoleRepo is an in-memory Repository with rollback on a failing InTx.
type fakeRoleRepo struct {
	roles        map[string]*Role
	grants       map[roleKey]bool
	activeUsers  map[string]bool
	deletedUsers map[string]bool
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{
		roles: map[string]*Role{
			RoleIDAdmin:       {ID: RoleIDAdmin, Name: RoleNameAdmin},
			RoleIDSelfService: {ID: RoleIDSelfService, Name: RoleNameSelfService},
		},
		grants:       make(map[roleKey]bool),
		activeUsers:  make(map[string]bool),
		deletedUsers: make(map[string]bool),
	}
}

func (r *fakeRoleRepo) addUser(userID string, roleIDs ...string) {
	r.activeUsers[userID] = true
	for _, roleID := range roleIDs {
		r.grants[roleKey{userID, roleID}] = true
	}
}

func (r *fakeRoleRepo) ListRoles(ctx context.Context) ([]*Role, error) {
	out := make([]*Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *fakeRoleRepo) GetRole(ctx context.Context, roleID string) (*Role, error) {
	role, ok := r.roles[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

func (r *fakeRoleRepo) GetUserRoles(ctx context.Context, userID string) ([]*Role, error) {
	var out []*Role
	for key := range r.grants {
		if key.userID == userID {
			out = append(out, r.roles[key.roleID])
		}
	}
	return out, nil
}

func (r *fakeRoleRepo) CountAdministrators(ctx context.Context) (int, error) {
	n := 0
	for key := range r.grants {
		if key.roleID == RoleIDAdmin && r.activeUsers[key.userID] && !r.deletedUsers[key.userID] {
			n++
		}
	}
	return n, nil
}

func (r *fakeRoleRepo) InTx(ctx context.Context, fn func(ops TxOps) error) error {
	grantsBackup := make(map[roleKey]bool, len(r.grants))
	for k, v := range r.grants {
		grantsBackup[k] = v
	}
	activeBackup := make(map[string]bool, len(r.activeUsers))
	for k, v := range r.activeUsers {
		activeBackup[k] = v
	}
	deletedBackup := make(map[string]bool, len(r.deletedUsers))
	for k, v := range r.deletedUsers {
		deletedBackup[k] = v
	}

	if err := fn(&fakeRoleTxOps{repo: r}); err != nil {
		r.grants = grantsBackup
		r.activeUsers = activeBackup
		r.deletedUsers = deletedBackup
		return err
	}
	return nil
}

type fakeRoleTxOps struct {
	repo *fakeRoleRepo
}

func (o *fakeRoleTxOps) CountAdministratorsForUpdate(ctx context.Context) (int, error) {
	return o.repo.CountAdministrators(ctx)
}

func (o *fakeRoleTxOps) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	return o.repo.grants[roleKey{userID, roleID}], nil
}

func (o *fakeRoleTxOps) Grant(ctx context.Context, a *Assignment) error {
	o.repo.grants[roleKey{a.UserID, a.RoleID}] = true
	return nil
}

func (o *fakeRoleTxOps) Revoke(ctx context.Context, userID, roleID string) error {
	key := roleKey{userID, roleID}
	if !o.repo.grants[key] {
		return ErrRoleNotAssigned
	}
	delete(o.repo.grants, key)
	return nil
}

func (o *fakeRoleTxOps) RevokeAll(ctx context.Context, userID string) error {
	for key := range o.repo.grants {
		if key.userID == userID {
			delete(o.repo.grants, key)
		}
	}
	return nil
}

func (o *fakeRoleTxOps) SetUserActive(ctx context.Context, userID string, active bool) error {
	if _, ok := o.repo.activeUsers[userID]; !ok {
		return ErrUserNotFound
	}
	o.repo.activeUsers[userID] = active
	return nil
}

func (o *fakeRoleTxOps) SoftDeleteUser(ctx context.Context, userID string) error {
	if _, ok := o.repo.activeUsers[userID]; !ok {
		return ErrUserNotFound
	}
	o.repo.deletedUsers[userID] = true
	return nil
}

type fakeRecorder struct {
	actions []string
}

func (r *fakeRecorder) RecordSecurity(ctx context.Context, action, object string, actor audit.Actor, details string) error {
	r.actions = append(r.actions, action)
	return nil
}

var testAdmin = audit.Actor{ID: "admin-0", Username: "root", Email: "root@example.com"}

func TestRemoveRole_LastAdminIsProtected(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.RemoveRole(context.Background(), "user-1", RoleIDAdmin, testAdmin)
	assert.ErrorIs(t, err, ErrAdminProtection)

	// The grant survives the refused removal
	assert.True(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
}

func TestRemoveRole_SucceedsWithTwoAdmins(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	repo.addUser("user-2", RoleIDAdmin)
	recorder := &fakeRecorder{}
	svc := NewService(repo, recorder)

	err := svc.RemoveRole(context.Background(), "user-1", RoleIDAdmin, testAdmin)
	require.NoError(t, err)

	assert.False(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
	assert.Equal(t, []string{audit.ActionAccountUpdated}, recorder.actions)
}

func TestRemoveRole_NonAdminRoleUnguarded(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin, RoleIDSelfService)
	svc := NewService(repo, &fakeRecorder{})

	// Removing self-service from the only admin is fine
	err := svc.RemoveRole(context.Background(), "user-1", RoleIDSelfService, testAdmin)
	assert.NoError(t, err)
}

func TestRemoveRole_NotAssigned(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1")
	svc := NewService(repo, &fakeRecorder{})

	err := svc.RemoveRole(context.Background(), "user-1", RoleIDSelfService, testAdmin)
	assert.ErrorIs(t, err, ErrRoleNotAssigned)
}

func TestAssignRole_Duplicate(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDSelfService)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.AssignRole(context.Background(), "user-1", RoleIDSelfService, testAdmin)
	assert.ErrorIs(t, err, ErrRoleAlreadyAssigned)
}

func TestAssignRole_UnknownRole(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1")
	svc := NewService(repo, &fakeRecorder{})

	err := svc.AssignRole(context.Background(), "user-1", "30000000-0000-0000-0000-000000000099", testAdmin)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestSetRoles_StrippingLastAdminRefused(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin, RoleIDSelfService)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.SetRoles(context.Background(), "user-1", []string{RoleIDSelfService}, testAdmin)
	assert.ErrorIs(t, err, ErrAdminProtection)

	// The refused replacement leaves the full role set intact
	assert.True(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
	assert.True(t, repo.grants[roleKey{"user-1", RoleIDSelfService}])
}

func TestSetRoles_KeepingAdminAllowed(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin, RoleIDSelfService)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.SetRoles(context.Background(), "user-1", []string{RoleIDAdmin}, testAdmin)
	require.NoError(t, err)

	assert.True(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
	assert.False(t, repo.grants[roleKey{"user-1", RoleIDSelfService}])
}

func TestSetRoles_StrippingAdminWithAnotherAdminPresent(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	repo.addUser("user-2", RoleIDAdmin)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.SetRoles(context.Background(), "user-1", []string{RoleIDSelfService}, testAdmin)
	require.NoError(t, err)
	assert.False(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
}

func TestDeactivateUser_LastAdminIsProtected(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.DeactivateUser(context.Background(), "user-1", testAdmin)
	assert.ErrorIs(t, err, ErrAdminProtection)
	assert.True(t, repo.activeUsers["user-1"])
}

func TestDeactivateUser_NonAdmin(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	repo.addUser("user-2", RoleIDSelfService)
	recorder := &fakeRecorder{}
	svc := NewService(repo, recorder)

	err := svc.DeactivateUser(context.Background(), "user-2", testAdmin)
	require.NoError(t, err)
	assert.False(t, repo.activeUsers["user-2"])
	assert.Equal(t, []string{audit.ActionAccountDeactivated}, recorder.actions)
}

func TestDeleteUser_LastAdminIsProtected(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	svc := NewService(repo, &fakeRecorder{})

	err := svc.DeleteUser(context.Background(), "user-1", testAdmin)
	assert.ErrorIs(t, err, ErrAdminProtection)
	assert.False(t, repo.deletedUsers["user-1"])
	assert.True(t, repo.grants[roleKey{"user-1", RoleIDAdmin}])
}

func TestDeleteUser_RevokesRoles(t *testing.T) {
	repo := newFakeRoleRepo()
	repo.addUser("user-1", RoleIDAdmin)
	repo.addUser("user-2", RoleIDAdmin, RoleIDSelfService)
	recorder := &fakeRecorder{}
	svc := NewService(repo, recorder)

	err := svc.DeleteUser(context.Background(), "user-2", testAdmin)
	require.NoError(t, err)
	assert.True(t, repo.deletedUsers["user-2"])
	assert.False(t, repo.grants[roleKey{"user-2", RoleIDAdmin}])
	assert.False(t, repo.grants[roleKey{"user-2", RoleIDSelfService}])
	assert.Equal(t, []string{audit.ActionAccountDeleted}, recorder.actions)

	// The remaining admin still satisfies the floor
	n, err := svc.CountAdministrators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHasRole(t *testing.T) {
	roles := []*Role{
		{ID: RoleIDSelfService, Name: RoleNameSelfService},
	}
	assert.True(t, HasRole(roles, RoleIDSelfService))
	assert.False(t, HasRole(roles, RoleIDAdmin))
}
