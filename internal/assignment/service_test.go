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

package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory implementation of Repository with transactional
// rollback semantics: mutations made inside a failing InTx call are discarded.
type fakeRepo struct {
	licenses      map[string]*license.License
	assignments   map[string]*Assignment
	logEntries    []*audit.AssignmentEntry
	failLogInsert bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		licenses:    make(map[string]*license.License),
		assignments: make(map[string]*Assignment),
	}
}

func (r *fakeRepo) GetLicense(ctx context.Context, licenseID string) (*license.License, error) {
	l, ok := r.licenses[licenseID]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeRepo) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	a, ok := r.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListForUser(ctx context.Context, userID string) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range r.assignments {
		if a.UserID != nil && *a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListForLicense(ctx context.Context, licenseID string) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range r.assignments {
		if a.LicenseID == licenseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountActive(ctx context.Context, licenseID string) (int, error) {
	n := 0
	for _, a := range r.assignments {
		if a.LicenseID == licenseID && a.State == StateActive {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) InTx(ctx context.Context, fn func(ops TxOps) error) error {
	// Snapshot state so a failing fn leaves the repo untouched
	assignmentsBackup := make(map[string]*Assignment, len(r.assignments))
	for k, v := range r.assignments {
		cp := *v
		assignmentsBackup[k] = &cp
	}
	entriesBackup := len(r.logEntries)

	if err := fn(&fakeTxOps{repo: r}); err != nil {
		r.assignments = assignmentsBackup
		r.logEntries = r.logEntries[:entriesBackup]
		return err
	}
	return nil
}

type fakeTxOps struct {
	repo *fakeRepo
}

func (o *fakeTxOps) GetLicenseForUpdate(ctx context.Context, licenseID string) (*license.License, error) {
	return o.repo.GetLicense(ctx, licenseID)
}

func (o *fakeTxOps) GetAssignmentForUpdate(ctx context.Context, id string) (*Assignment, error) {
	return o.repo.GetAssignment(ctx, id)
}

func (o *fakeTxOps) CountActive(ctx context.Context, licenseID string) (int, error) {
	return o.repo.CountActive(ctx, licenseID)
}

func (o *fakeTxOps) HasActiveForUser(ctx context.Context, licenseID, userID string) (bool, error) {
	for _, a := range o.repo.assignments {
		if a.LicenseID == licenseID && a.State == StateActive && a.UserID != nil && *a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (o *fakeTxOps) Insert(ctx context.Context, a *Assignment) error {
	cp := *a
	o.repo.assignments[a.ID] = &cp
	return nil
}

func (o *fakeTxOps) SetState(ctx context.Context, id string, state State) error {
	a, ok := o.repo.assignments[id]
	if !ok {
		return ErrAssignmentNotFound
	}
	a.State = state
	return nil
}

func (o *fakeTxOps) Delete(ctx context.Context, id string) error {
	if _, ok := o.repo.assignments[id]; !ok {
		return ErrAssignmentNotFound
	}
	delete(o.repo.assignments, id)
	return nil
}

func (o *fakeTxOps) InsertLogEntry(ctx context.Context, entry *audit.AssignmentEntry) error {
	if o.repo.failLogInsert {
		return errors.New("log insert failure")
	}
	o.repo.logEntries = append(o.repo.logEntries, entry)
	return nil
}

type fakeUserDirectory struct {
	users map[string]audit.Actor
}

func (d *fakeUserDirectory) Lookup(ctx context.Context, userID string) (audit.Actor, error) {
	actor, ok := d.users[userID]
	if !ok {
		return audit.Actor{}, errors.New("user not found")
	}
	return actor, nil
}

type fakeDeviceDirectory struct {
	devices map[string]*device.Device
}

func (d *fakeDeviceDirectory) GetByID(ctx context.Context, deviceID string) (*device.Device, error) {
	dev, ok := d.devices[deviceID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return dev, nil
}

func newTestService(repo *fakeRepo) *Service {
	users := &fakeUserDirectory{users: map[string]audit.Actor{
		"user-1": {ID: "user-1", Username: "alice", Email: "alice@example.com"},
		"user-2": {ID: "user-2", Username: "bob", Email: "bob@example.com"},
	}}
	devices := &fakeDeviceDirectory{devices: map[string]*device.Device{
		"device-1": {ID: "device-1", Name: "build-server", Serial: "SN-001"},
	}}
	return NewService(repo, users, devices)
}

func activeLicense(id string, seats int) *license.License {
	return &license.License{
		ID:        id,
		ProductID: "product-1",
		Name:      "Test License",
		SeatCount: seats,
		Status:    license.StatusActive,
	}
}

func selfServiceActor(userID, username string) Actor {
	return Actor{ID: userID, Username: username, Email: username + "@example.com", Roles: []string{rbac.RoleIDSelfService}}
}

func adminActor() Actor {
	return Actor{ID: "admin-1", Username: "root", Email: "root@example.com", Roles: []string{rbac.RoleIDAdmin}}
}

func TestActivate_GrantsSeatAndWritesTrail(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	a, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.NoError(t, err)

	assert.Equal(t, StateActive, a.State)
	require.NotNil(t, a.UserID)
	assert.Equal(t, "user-1", *a.UserID)

	require.Len(t, repo.logEntries, 1)
	entry := repo.logEntries[0]
	assert.Equal(t, audit.ActionUserActivated, entry.Action)
	assert.Equal(t, "lic-1", entry.LicenseID)
	assert.Equal(t, "Test License", entry.LicenseName)
	assert.Equal(t, "alice", entry.Username)
	require.NotNil(t, entry.AssignmentID)
	assert.Equal(t, a.ID, *entry.AssignmentID)
	// The persisted timestamp orders the trail; it must never be zero
	assert.False(t, entry.Timestamp.IsZero())
}

func TestActivate_RequiresStanding(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	noRoles := Actor{ID: "user-1", Username: "alice"}
	_, err := svc.Activate(context.Background(), "lic-1", noRoles)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestActivate_NoSeatsAvailable(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 1)
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), "lic-1", selfServiceActor("user-2", "bob"))
	assert.ErrorIs(t, err, ErrNoSeatsAvailable)
}

func TestActivate_DuplicateAssignmentRejected(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 5)
	svc := newTestService(repo)

	actor := selfServiceActor("user-1", "alice")
	_, err := svc.Activate(context.Background(), "lic-1", actor)
	require.NoError(t, err)

	_, err = svc.Activate(context.Background(), "lic-1", actor)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestActivate_ExpiredLicenseFailsBeforeSeatCheck(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-time.Hour)
	l := activeLicense("lic-1", 5)
	l.ExpireDate = &past
	repo.licenses["lic-1"] = l
	svc := newTestService(repo)

	// Every seat is free, but the license itself is not assignable
	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	assert.ErrorIs(t, err, ErrLicenseNotAvailable)
}

func TestActivate_ArchivedLicenseRejected(t *testing.T) {
	repo := newFakeRepo()
	l := activeLicense("lic-1", 5)
	l.Status = license.StatusArchived
	repo.licenses["lic-1"] = l
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	assert.ErrorIs(t, err, ErrLicenseNotAvailable)
}

func TestActivate_UnknownLicense(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "missing", selfServiceActor("user-1", "alice"))
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestActivate_TrailFailureRollsBackSeat(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	repo.failLogInsert = true
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.Error(t, err)

	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)

	// The seat grant must not survive the failed trail write
	assert.Empty(t, repo.assignments)
	assert.Empty(t, repo.logEntries)
}

func TestDeactivate_ReleasesOwnSeat(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	actor := selfServiceActor("user-1", "alice")
	a, err := svc.Activate(context.Background(), "lic-1", actor)
	require.NoError(t, err)

	updated, err := svc.Deactivate(context.Background(), a.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, updated.State)

	require.Len(t, repo.logEntries, 2)
	assert.Equal(t, audit.ActionUserDeactivated, repo.logEntries[1].Action)

	// The seat is free again
	seats, err := svc.AvailableSeats(context.Background(), "lic-1")
	require.NoError(t, err)
	assert.Equal(t, 2, seats)
}

func TestDeactivate_InactiveAssignmentIsAnError(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	actor := selfServiceActor("user-1", "alice")
	a, err := svc.Activate(context.Background(), "lic-1", actor)
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), a.ID, actor)
	require.NoError(t, err)

	// Releasing a seat that is not held is rejected, not a silent no-op
	_, err = svc.Deactivate(context.Background(), a.ID, actor)
	assert.ErrorIs(t, err, ErrAssignmentNotActive)
}

func TestDeactivate_ForeignSeatRequiresAdmin(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	a, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.NoError(t, err)

	_, err = svc.Deactivate(context.Background(), a.ID, selfServiceActor("user-2", "bob"))
	assert.ErrorIs(t, err, ErrNotAuthorized)

	updated, err := svc.Deactivate(context.Background(), a.ID, adminActor())
	require.NoError(t, err)
	assert.Equal(t, StateInactive, updated.State)
	assert.Equal(t, audit.ActionAdminDeactivated, repo.logEntries[len(repo.logEntries)-1].Action)
}

func TestApprove_CreatesPendingAssignment(t *testing.T) {
	repo := newFakeRepo()
	// A full license: approval deliberately skips the seat check
	repo.licenses["lic-1"] = activeLicense("lic-1", 1)
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-2", "bob"))
	require.NoError(t, err)

	a, err := svc.Approve(context.Background(), "lic-1", "user-1", adminActor())
	require.NoError(t, err)
	assert.Equal(t, StateInactive, a.State)

	entry := repo.logEntries[len(repo.logEntries)-1]
	assert.Equal(t, audit.ActionAdminApproved, entry.Action)
	// The trail names the target user, not the approving administrator
	assert.Equal(t, "alice", entry.Username)
}

func TestApprove_UnknownTargetUser(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	_, err := svc.Approve(context.Background(), "lic-1", "ghost", adminActor())
	assert.ErrorIs(t, err, ErrTargetUserNotFound)
	assert.Empty(t, repo.assignments)
}

func TestApprove_RequiresAdmin(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	_, err := svc.Approve(context.Background(), "lic-1", "user-2", selfServiceActor("user-1", "alice"))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestApproveDevice_CreatesPendingDeviceAssignment(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	a, err := svc.ApproveDevice(context.Background(), "lic-1", "device-1", adminActor())
	require.NoError(t, err)
	assert.Equal(t, StateInactive, a.State)
	require.NotNil(t, a.DeviceID)
	assert.Equal(t, "device-1", *a.DeviceID)
	assert.Nil(t, a.UserID)
}

func TestApproveDevice_UnknownTargetDevice(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	_, err := svc.ApproveDevice(context.Background(), "lic-1", "ghost", adminActor())
	assert.ErrorIs(t, err, ErrTargetDeviceNotFound)
	assert.Empty(t, repo.assignments)
}

func TestAdminActivate_EnforcesSeatCapacity(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 1)
	svc := newTestService(repo)

	_, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-2", "bob"))
	require.NoError(t, err)

	pending, err := svc.Approve(context.Background(), "lic-1", "user-1", adminActor())
	require.NoError(t, err)

	// Approval bypassed the seat check; activation must not
	_, err = svc.AdminActivate(context.Background(), pending.ID, adminActor())
	assert.ErrorIs(t, err, ErrNoSeatsAvailable)
}

func TestAdminActivate_PendingToActive(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	pending, err := svc.Approve(context.Background(), "lic-1", "user-1", adminActor())
	require.NoError(t, err)

	a, err := svc.AdminActivate(context.Background(), pending.ID, adminActor())
	require.NoError(t, err)
	assert.Equal(t, StateActive, a.State)
	assert.Equal(t, audit.ActionAdminActivated, repo.logEntries[len(repo.logEntries)-1].Action)
}

func TestAdminActivate_ActiveAssignmentRejected(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	a, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.NoError(t, err)

	_, err = svc.AdminActivate(context.Background(), a.ID, adminActor())
	assert.ErrorIs(t, err, ErrAssignmentNotInactive)
}

func TestCancel_DeletesPendingAssignment(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	pending, err := svc.Approve(context.Background(), "lic-1", "user-1", adminActor())
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), pending.ID, adminActor())
	require.NoError(t, err)
	assert.Empty(t, repo.assignments)

	// The trail entry survives the deleted assignment without referencing it
	entry := repo.logEntries[len(repo.logEntries)-1]
	assert.Equal(t, audit.ActionAdminCanceled, entry.Action)
	assert.Nil(t, entry.AssignmentID)
	assert.Equal(t, "lic-1", entry.LicenseID)
}

func TestCancel_ActiveAssignmentMustBeDeactivatedFirst(t *testing.T) {
	repo := newFakeRepo()
	repo.licenses["lic-1"] = activeLicense("lic-1", 2)
	svc := newTestService(repo)

	a, err := svc.Activate(context.Background(), "lic-1", selfServiceActor("user-1", "alice"))
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), a.ID, adminActor())
	assert.ErrorIs(t, err, ErrAssignmentNotInactive)
	assert.Len(t, repo.assignments, 1)
}

func TestAvailableSeats_NeverNegative(t *testing.T) {
	assert.Equal(t, 3, AvailableSeats(5, 2))
	assert.Equal(t, 0, AvailableSeats(5, 5))
	assert.Equal(t, 0, AvailableSeats(5, 7))
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateInactive.CanTransitionTo(StateActive))
	assert.True(t, StateActive.CanTransitionTo(StateInactive))
	assert.False(t, StateActive.CanTransitionTo(StateActive))
	assert.False(t, StateInactive.CanTransitionTo(StateInactive))
}

func TestAuthorize_OwnershipRule(t *testing.T) {
	uid := "user-1"
	a := &Assignment{ID: "a-1", LicenseID: "lic-1", UserID: &uid, State: StateActive}

	assert.NoError(t, Authorize(selfServiceActor("user-1", "alice"), a))
	assert.ErrorIs(t, Authorize(selfServiceActor("user-2", "bob"), a), ErrNotAuthorized)
	assert.NoError(t, Authorize(adminActor(), a))

	did := "device-1"
	deviceAssignment := &Assignment{ID: "a-2", LicenseID: "lic-1", DeviceID: &did, State: StateActive}
	assert.ErrorIs(t, Authorize(selfServiceActor("user-1", "alice"), deviceAssignment), ErrNotAuthorized)
	assert.NoError(t, Authorize(adminActor(), deviceAssignment))
}

func TestValidate_ExactlyOneHolder(t *testing.T) {
	uid, did := "user-1", "device-1"

	both := &Assignment{UserID: &uid, DeviceID: &did}
	assert.ErrorIs(t, both.Validate(), ErrInvalidHolder)

	neither := &Assignment{}
	assert.ErrorIs(t, neither.Validate(), ErrInvalidHolder)

	userOnly := &Assignment{UserID: &uid}
	assert.NoError(t, userOnly.Validate())

	deviceOnly := &Assignment{DeviceID: &did}
	assert.NoError(t, deviceOnly.Validate())
}
