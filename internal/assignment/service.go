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
	"fmt"
	"log/slog"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/Project-FleX-PFX/licentra/internal/id"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/Project-FleX-PFX/licentra/internal/observability/logger"
)

// DeviceDirectory resolves target devices for admin-initiated device
// assignments.
type DeviceDirectory interface {
	GetByID(ctx context.Context, deviceID string) (*device.Device, error)
}

// Service owns the assignment lifecycle: self-service activation,
// deactivation, admin approval, admin activation/deactivation and
// cancellation. Every transition and its trail entry execute in one
// transaction.
type Service struct {
	repo    Repository
	users   UserDirectory
	devices DeviceDirectory
}

// NewService creates a new assignment lifecycle service.
func NewService(repo Repository, users UserDirectory, devices DeviceDirectory) *Service {
	return &Service{repo: repo, users: users, devices: devices}
}

// AvailableSeats returns the remaining capacity of a license.
func (s *Service) AvailableSeats(ctx context.Context, licenseID string) (int, error) {
	l, err := s.repo.GetLicense(ctx, licenseID)
	if err != nil {
		return 0, s.wrap(ctx, "available_seats", err)
	}
	active, err := s.repo.CountActive(ctx, licenseID)
	if err != nil {
		return 0, s.wrap(ctx, "available_seats", err)
	}
	return AvailableSeats(l.SeatCount, active), nil
}

// Activate grants the acting user a seat on the license (self-service).
// Preconditions, in order: actor standing, license exists, license status
// allows assignment, free seat, no duplicate active assignment. The seat
// check is re-evaluated under a license row lock inside the transaction.
func (s *Service) Activate(ctx context.Context, licenseID string, actor Actor) (*Assignment, error) {
	if !actor.IsAdmin() && !actor.CanSelfService() {
		return nil, ErrNotAuthorized
	}

	var (
		created *Assignment
		entry   *audit.AssignmentEntry
	)
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		l, err := ops.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		if !l.Assignable() {
			return ErrLicenseNotAvailable
		}
		active, err := ops.CountActive(ctx, licenseID)
		if err != nil {
			return err
		}
		if AvailableSeats(l.SeatCount, active) <= 0 {
			return ErrNoSeatsAvailable
		}
		dup, err := ops.HasActiveForUser(ctx, licenseID, actor.ID)
		if err != nil {
			return err
		}
		if dup {
			return ErrAlreadyAssigned
		}

		userID := actor.ID
		created = &Assignment{
			ID:             id.NewUUIDv7(),
			LicenseID:      licenseID,
			UserID:         &userID,
			State:          StateActive,
			AssignmentDate: time.Now(),
		}
		if err := ops.Insert(ctx, created); err != nil {
			return err
		}

		action := audit.ActionUserActivated
		if actor.IsAdmin() {
			action = audit.ActionAdminActivated
		}
		entry = s.newLogEntry(action, created, l, actor.AuditActor(),
			fmt.Sprintf("seat activated on license %q", l.Name))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return nil, s.wrap(ctx, "activate", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return created, nil
}

// Deactivate releases the seat held by an assignment. The actor must be an
// administrator or the assignment's own user. Deactivating an assignment
// that is not active is an error, not a no-op.
func (s *Service) Deactivate(ctx context.Context, assignmentID string, actor Actor) (*Assignment, error) {
	var (
		updated *Assignment
		entry   *audit.AssignmentEntry
	)
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		a, err := ops.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, a); err != nil {
			return err
		}
		if !a.State.CanTransitionTo(StateInactive) {
			return ErrAssignmentNotActive
		}
		if err := ops.SetState(ctx, a.ID, StateInactive); err != nil {
			return err
		}
		a.State = StateInactive
		updated = a

		l, err := ops.GetLicenseForUpdate(ctx, a.LicenseID)
		if err != nil {
			return err
		}
		subject, err := s.subjectIdentity(ctx, a, actor)
		if err != nil {
			return err
		}
		action := audit.ActionUserDeactivated
		if actor.IsAdmin() {
			action = audit.ActionAdminDeactivated
		}
		entry = s.newLogEntry(action, a, l, subject,
			fmt.Sprintf("seat released on license %q by %s", l.Name, actor.Username))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return nil, s.wrap(ctx, "deactivate", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return updated, nil
}

// Approve creates an assignment for a target user in the inactive
// "approval pending" state. This is the administrative override entry point:
// it deliberately skips the availability and duplicate checks that gate
// self-service activation, and it must stay a separate path so those
// self-service guarantees are never relaxed by accident.
func (s *Service) Approve(ctx context.Context, licenseID, userID string, admin Actor) (*Assignment, error) {
	if !admin.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	target, err := s.users.Lookup(ctx, userID)
	if err != nil {
		return nil, ErrTargetUserNotFound
	}

	var (
		created *Assignment
		entry   *audit.AssignmentEntry
	)
	err = s.repo.InTx(ctx, func(ops TxOps) error {
		l, err := ops.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}

		uid := userID
		created = &Assignment{
			ID:             id.NewUUIDv7(),
			LicenseID:      licenseID,
			UserID:         &uid,
			State:          StateInactive,
			AssignmentDate: time.Now(),
		}
		if err := ops.Insert(ctx, created); err != nil {
			return err
		}

		entry = s.newLogEntry(audit.ActionAdminApproved, created, l, target,
			fmt.Sprintf("assignment approved by %s, activation pending", admin.Username))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return nil, s.wrap(ctx, "approve", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return created, nil
}

// ApproveDevice creates an inactive assignment bound to a device.
func (s *Service) ApproveDevice(ctx context.Context, licenseID, deviceID string, admin Actor) (*Assignment, error) {
	if !admin.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	d, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, ErrTargetDeviceNotFound
	}

	var (
		created *Assignment
		entry   *audit.AssignmentEntry
	)
	err = s.repo.InTx(ctx, func(ops TxOps) error {
		l, err := ops.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}

		did := deviceID
		created = &Assignment{
			ID:             id.NewUUIDv7(),
			LicenseID:      licenseID,
			DeviceID:       &did,
			State:          StateInactive,
			AssignmentDate: time.Now(),
		}
		if err := ops.Insert(ctx, created); err != nil {
			return err
		}

		entry = s.newLogEntry(audit.ActionAdminApproved, created, l, admin.AuditActor(),
			fmt.Sprintf("device %q assignment approved, activation pending", d.Name))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return nil, s.wrap(ctx, "approve_device", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return created, nil
}

// AdminActivate flips an existing inactive assignment to active. The
// ownership check is bypassed, but the seat-capacity and duplicate-active
// invariants still hold: they protect the license, not the actor.
func (s *Service) AdminActivate(ctx context.Context, assignmentID string, admin Actor) (*Assignment, error) {
	if !admin.IsAdmin() {
		return nil, ErrNotAuthorized
	}

	var (
		updated *Assignment
		entry   *audit.AssignmentEntry
	)
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		a, err := ops.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if !a.State.CanTransitionTo(StateActive) {
			return ErrAssignmentNotInactive
		}
		l, err := ops.GetLicenseForUpdate(ctx, a.LicenseID)
		if err != nil {
			return err
		}
		if !l.Assignable() {
			return ErrLicenseNotAvailable
		}
		active, err := ops.CountActive(ctx, a.LicenseID)
		if err != nil {
			return err
		}
		if AvailableSeats(l.SeatCount, active) <= 0 {
			return ErrNoSeatsAvailable
		}
		if a.UserID != nil {
			dup, err := ops.HasActiveForUser(ctx, a.LicenseID, *a.UserID)
			if err != nil {
				return err
			}
			if dup {
				return ErrAlreadyAssigned
			}
		}
		if err := ops.SetState(ctx, a.ID, StateActive); err != nil {
			return err
		}
		a.State = StateActive
		updated = a

		subject, err := s.subjectIdentity(ctx, a, admin)
		if err != nil {
			return err
		}
		entry = s.newLogEntry(audit.ActionAdminActivated, a, l, subject,
			fmt.Sprintf("seat activated on license %q by %s", l.Name, admin.Username))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return nil, s.wrap(ctx, "admin_activate", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return updated, nil
}

// Cancel deletes an assignment record. Deletion is permitted only from the
// inactive state; an active seat must be deactivated first. The trail entry
// carries no assignment reference because the row it would point at is gone.
func (s *Service) Cancel(ctx context.Context, assignmentID string, admin Actor) error {
	if !admin.IsAdmin() {
		return ErrNotAuthorized
	}

	var entry *audit.AssignmentEntry
	err := s.repo.InTx(ctx, func(ops TxOps) error {
		a, err := ops.GetAssignmentForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.State != StateInactive {
			return ErrAssignmentNotInactive
		}
		l, err := ops.GetLicenseForUpdate(ctx, a.LicenseID)
		if err != nil {
			return err
		}
		subject, err := s.subjectIdentity(ctx, a, admin)
		if err != nil {
			return err
		}
		if err := ops.Delete(ctx, a.ID); err != nil {
			return err
		}

		entry = s.newLogEntry(audit.ActionAdminCanceled, nil, l, subject,
			fmt.Sprintf("pending assignment canceled by %s", admin.Username))
		if err := entry.Validate(); err != nil {
			return err
		}
		return ops.InsertLogEntry(ctx, entry)
	})
	if err != nil {
		return s.wrap(ctx, "cancel", err)
	}

	audit.MirrorAssignmentEntry(ctx, entry)
	return nil
}

// GetAssignment retrieves an assignment, applying the ownership check.
func (s *Service) GetAssignment(ctx context.Context, assignmentID string, actor Actor) (*Assignment, error) {
	a, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, s.wrap(ctx, "get_assignment", err)
	}
	if err := Authorize(actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListForUser lists a user's assignments. Administrators may list anyone's.
func (s *Service) ListForUser(ctx context.Context, userID string, actor Actor) ([]*Assignment, error) {
	if !actor.IsAdmin() && actor.ID != userID {
		return nil, ErrNotAuthorized
	}
	as, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, s.wrap(ctx, "list_for_user", err)
	}
	return as, nil
}

// ListForLicense lists all assignments on a license (administrators only).
func (s *Service) ListForLicense(ctx context.Context, licenseID string, actor Actor) ([]*Assignment, error) {
	if !actor.IsAdmin() {
		return nil, ErrNotAuthorized
	}
	as, err := s.repo.ListForLicense(ctx, licenseID)
	if err != nil {
		return nil, s.wrap(ctx, "list_for_license", err)
	}
	return as, nil
}

// newLogEntry builds a trail entry denormalizing license and subject
// identity and stamping the timestamp at write time. For cancellation the
// assignment reference is nil.
func (s *Service) newLogEntry(action string, a *Assignment, l *license.License, subject audit.Actor, details string) *audit.AssignmentEntry {
	entry := &audit.AssignmentEntry{
		ID:          id.NewUUIDv7(),
		Timestamp:   time.Now(),
		Action:      action,
		LicenseID:   l.ID,
		LicenseName: l.Name,
		UserID:      subject.ID,
		Username:    subject.Username,
		Email:       subject.Email,
		Details:     details,
	}
	if a != nil {
		aid := a.ID
		entry.AssignmentID = &aid
	}
	return entry
}

// subjectIdentity resolves the denormalized identity for a trail entry: the
// assignment's own user when it has one, otherwise (device assignments) the
// acting principal.
func (s *Service) subjectIdentity(ctx context.Context, a *Assignment, actor Actor) (audit.Actor, error) {
	if a.UserID == nil || *a.UserID == actor.ID {
		return actor.AuditActor(), nil
	}
	return s.users.Lookup(ctx, *a.UserID)
}

// businessErrs are passed to callers untouched; anything else is an
// unexpected lower-layer failure and gets wrapped.
var businessErrs = []error{
	ErrLicenseNotFound,
	ErrAssignmentNotFound,
	ErrTargetUserNotFound,
	ErrTargetDeviceNotFound,
	ErrLicenseNotAvailable,
	ErrNoSeatsAvailable,
	ErrAlreadyAssigned,
	ErrNotAuthorized,
	ErrAssignmentNotActive,
	ErrAssignmentNotInactive,
	ErrInvalidHolder,
	audit.ErrMissingAction,
	audit.ErrMissingActor,
	audit.ErrMissingLicense,
	audit.ErrMissingTimestamp,
}

func (s *Service) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, be := range businessErrs {
		if errors.Is(err, be) {
			return err
		}
	}
	slog.ErrorContext(ctx, "assignment service failure",
		logger.Operation(op),
		logger.Error(err),
	)
	return &ServiceError{Op: op, Err: err}
}
