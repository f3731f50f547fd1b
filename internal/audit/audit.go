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

package audit

import (
	"context"
	"errors"
	"time"
)

// Assignment trail action tags. Actor-qualified: the same transition carries
// a different tag depending on whether the seat holder or an administrator
// drove it.
const (
	ActionUserActivated    = "user_activated"
	ActionUserDeactivated  = "user_deactivated"
	ActionAdminActivated   = "admin_activated"
	ActionAdminDeactivated = "admin_deactivated"
	ActionAdminApproved    = "admin_approved"
	ActionAdminCanceled    = "admin_canceled"
)

// Security trail action tags.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionPasswordChanged    = "password_changed"
	ActionAccountCreated     = "account_created"
	ActionAccountUpdated     = "account_updated"
	ActionAccountDeactivated = "account_deactivated"
	ActionAccountDeleted     = "account_deleted"
	ActionAccountLocked      = "account_locked"
	ActionProductCreated     = "product_created"
	ActionProductUpdated     = "product_updated"
	ActionProductDeleted     = "product_deleted"
	ActionLicenseCreated     = "license_created"
	ActionLicenseUpdated     = "license_updated"
	ActionLicenseDeleted     = "license_deleted"
)

// Validation errors
var (
	ErrMissingAction    = errors.New("audit entry requires an action tag")
	ErrMissingActor     = errors.New("audit entry requires denormalized actor identity")
	ErrMissingLicense   = errors.New("assignment entry requires denormalized license identity")
	ErrMissingObject    = errors.New("security entry requires an object name")
	ErrMissingTimestamp = errors.New("audit entry requires a write-time timestamp")
)

// Actor is the denormalized identity stamped onto every trail entry. It is
// resolved at write time so the entry stays meaningful after the referenced
// account is renamed or deleted.
type Actor struct {
	ID       string
	Username string
	Email    string
}

// Sentinel actors for events with no authenticated account behind them.
// Fixed values, not database records: a failed login before authentication
// is attributed to UnknownActor, bootstrap and scheduled operations to
// SystemActor.
var (
	SystemActor = Actor{
		ID:       "00000000-0000-0000-0000-000000000001",
		Username: "system",
		Email:    "system@licentra.invalid",
	}
	UnknownActor = Actor{
		ID:       "00000000-0000-0000-0000-000000000002",
		Username: "unknown",
		Email:    "unknown@licentra.invalid",
	}
)

// AssignmentEntry is one record of the append-only assignment trail.
// AssignmentID is nullable: canceling an assignment deletes the row the
// entry points at, and the entry must survive that.
type AssignmentEntry struct {
	ID           string
	AssignmentID *string
	Timestamp    time.Time
	Action       string
	LicenseID    string
	LicenseName  string
	UserID       string
	Username     string
	Email        string
	Details      string
}

// Validate rejects an entry with missing required denormalized fields
// before any row is written.
func (e *AssignmentEntry) Validate() error {
	if e.Action == "" {
		return ErrMissingAction
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if e.LicenseID == "" || e.LicenseName == "" {
		return ErrMissingLicense
	}
	if e.UserID == "" || e.Username == "" {
		return ErrMissingActor
	}
	return nil
}

// SecurityEntry is one record of the append-only security trail. ActorID is
// nullable for pre-authentication events; Username and Email always carry a
// denormalized identity, falling back to the sentinel actors.
type SecurityEntry struct {
	ID        string
	Timestamp time.Time
	Action    string
	Object    string
	ActorID   *string
	Username  string
	Email     string
	Details   string
}

// Validate rejects a security entry with missing required fields.
func (e *SecurityEntry) Validate() error {
	if e.Action == "" {
		return ErrMissingAction
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if e.Object == "" {
		return ErrMissingObject
	}
	if e.Username == "" {
		return ErrMissingActor
	}
	return nil
}

// Store defines the persistence interface for both trails. Inserts only,
// plus the administrative purge-by-subject operations. No updates.
type Store interface {
	InsertAssignmentEntry(ctx context.Context, entry *AssignmentEntry) error
	InsertSecurityEntry(ctx context.Context, entry *SecurityEntry) error
	ListAssignmentEntries(ctx context.Context, licenseID string, limit, offset int) ([]*AssignmentEntry, error)
	ListSecurityEntries(ctx context.Context, actorID string, limit, offset int) ([]*SecurityEntry, error)
	DeleteAssignmentEntriesByUser(ctx context.Context, userID string) (int64, error)
	DeleteSecurityEntriesByActor(ctx context.Context, actorID string) (int64, error)
}
