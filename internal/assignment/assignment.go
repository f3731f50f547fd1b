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
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
)

// Domain errors. Every precondition violation gets a distinct sentinel so
// callers can turn it into a specific user-facing message.
var (
	ErrLicenseNotFound       = errors.New("license not found")
	ErrAssignmentNotFound    = errors.New("assignment not found")
	ErrTargetUserNotFound    = errors.New("target user not found")
	ErrTargetDeviceNotFound  = errors.New("target device not found")
	ErrLicenseNotAvailable   = errors.New("license is not available for assignment")
	ErrNoSeatsAvailable      = errors.New("no available seats for this license")
	ErrAlreadyAssigned       = errors.New("user already holds an active assignment for this license")
	ErrNotAuthorized         = errors.New("actor is not authorized for this operation")
	ErrAssignmentNotActive   = errors.New("assignment is not active")
	ErrAssignmentNotInactive = errors.New("assignment is not inactive")
	ErrInvalidHolder         = errors.New("assignment requires exactly one of user or device")
)

// ServiceError wraps an unexpected lower-layer failure. Business-rule
// violations are never wrapped in it; store and infrastructure errors always
// are, so no raw persistence error crosses the service boundary.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: unexpected service failure: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// State is the explicit two-state machine of an assignment. Modeled as an
// enumerated state with a transition table rather than a raw boolean so
// illegal transitions are an explicitly checked condition.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

// transitions is the full transition table: activate and deactivate are the
// only moves. Record deletion (cancel) is permitted only from inactive.
var transitions = map[State]State{
	StateInactive: StateActive,
	StateActive:   StateInactive,
}

// CanTransitionTo reports whether the move from s to target is legal.
func (s State) CanTransitionTo(target State) bool {
	return transitions[s] == target
}

// Assignment binds one seat of a license to exactly one user or device.
type Assignment struct {
	ID             string
	LicenseID      string
	UserID         *string
	DeviceID       *string
	State          State
	AssignmentDate time.Time
	Notes          string
}

// Active reports whether the assignment currently consumes a seat.
func (a *Assignment) Active() bool { return a.State == StateActive }

// Validate checks the holder invariant: exactly one of user or device.
func (a *Assignment) Validate() error {
	if (a.UserID == nil) == (a.DeviceID == nil) {
		return ErrInvalidHolder
	}
	return nil
}

// Actor is the principal driving a lifecycle operation.
type Actor struct {
	ID       string
	Username string
	Email    string
	Roles    []string
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool { return a.hasRole(rbac.RoleIDAdmin) }

// CanSelfService reports whether the actor may activate seats for themself.
func (a Actor) CanSelfService() bool { return a.hasRole(rbac.RoleIDSelfService) }

func (a Actor) hasRole(roleID string) bool {
	for _, r := range a.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// AuditActor returns the denormalized identity for trail entries.
func (a Actor) AuditActor() audit.Actor {
	return audit.Actor{ID: a.ID, Username: a.Username, Email: a.Email}
}

// Authorize decides whether the actor may operate on the assignment:
// administrators may act on any assignment, everyone else only on an
// assignment bound to their own account. The rule is identical across
// activation, deactivation and cancellation.
func Authorize(actor Actor, a *Assignment) error {
	if actor.IsAdmin() {
		return nil
	}
	if a.UserID != nil && *a.UserID == actor.ID {
		return nil
	}
	return ErrNotAuthorized
}

// AvailableSeats computes remaining capacity from configured seats and the
// count of currently active assignments. Pure function of current state.
func AvailableSeats(seatCount, activeCount int) int {
	if free := seatCount - activeCount; free > 0 {
		return free
	}
	return 0
}

// Repository defines assignment persistence. Reads outside a transaction are
// plain queries; every lifecycle mutation runs through InTx so the state
// change and its trail entry commit or roll back together.
type Repository interface {
	GetLicense(ctx context.Context, licenseID string) (*license.License, error)
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	ListForUser(ctx context.Context, userID string) ([]*Assignment, error)
	ListForLicense(ctx context.Context, licenseID string) ([]*Assignment, error)
	CountActive(ctx context.Context, licenseID string) (int, error)

	// InTx runs fn inside a single transaction; any error rolls back
	// every mutation fn performed.
	InTx(ctx context.Context, fn func(ops TxOps) error) error
}

// TxOps is the transaction-scoped operation set. GetLicenseForUpdate takes a
// row lock on the license so the seat re-count and the insert that follows
// are serialized against concurrent activations: this closes the
// check-then-act window between "seats available?" and "seat taken".
type TxOps interface {
	GetLicenseForUpdate(ctx context.Context, licenseID string) (*license.License, error)
	GetAssignmentForUpdate(ctx context.Context, id string) (*Assignment, error)
	CountActive(ctx context.Context, licenseID string) (int, error)
	HasActiveForUser(ctx context.Context, licenseID, userID string) (bool, error)
	Insert(ctx context.Context, a *Assignment) error
	SetState(ctx context.Context, id string, state State) error
	Delete(ctx context.Context, id string) error
	InsertLogEntry(ctx context.Context, entry *audit.AssignmentEntry) error
}

// UserDirectory resolves the identity of a target user for denormalized
// trail fields and existence checks.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (audit.Actor, error)
}
