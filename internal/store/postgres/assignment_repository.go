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
	"database/sql"
	"fmt"

	"github.com/Project-FleX-PFX/licentra/internal/assignment"
	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/jackc/pgx/v5"
)

// AssignmentRepository implements assignment.Repository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, license_id, user_id, device_id, is_active, assignment_date, notes`

// GetLicense retrieves a license without locking it
func (r *AssignmentRepository) GetLicense(ctx context.Context, licenseID string) (*license.License, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE id = $1
	`, licenseID)

	l, err := scanLicense(row)
	if err != nil {
		if err == license.ErrLicenseNotFound {
			return nil, assignment.ErrLicenseNotFound
		}
		return nil, err
	}
	return l, nil
}

// GetAssignment retrieves an assignment by ID
func (r *AssignmentRepository) GetAssignment(ctx context.Context, id string) (*assignment.Assignment, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE id = $1
	`, id)
	return scanAssignment(row)
}

// ListForUser lists all assignments held by a user
func (r *AssignmentRepository) ListForUser(ctx context.Context, userID string) ([]*assignment.Assignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE user_id = $1
		ORDER BY assignment_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments for user: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// ListForLicense lists all assignments of a license
func (r *AssignmentRepository) ListForLicense(ctx context.Context, licenseID string) ([]*assignment.Assignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE license_id = $1
		ORDER BY assignment_date DESC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments for license: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// CountActive counts active assignments of a license
func (r *AssignmentRepository) CountActive(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE license_id = $1 AND is_active
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active assignments: %w", err)
	}
	return count, nil
}

// InTx runs fn inside a single transaction
func (r *AssignmentRepository) InTx(ctx context.Context, fn func(ops assignment.TxOps) error) error {
	return r.db.withTx(ctx, func(tx pgx.Tx) error {
		return fn(&assignmentTxOps{tx: tx})
	})
}

// assignmentTxOps implements assignment.TxOps on an open transaction.
type assignmentTxOps struct {
	tx pgx.Tx
}

// GetLicenseForUpdate retrieves a license and locks its row for the duration
// of the transaction. Concurrent activations of the same license queue on
// this lock, so the seat count each of them reads stays valid until its own
// insert commits.
func (o *assignmentTxOps) GetLicenseForUpdate(ctx context.Context, licenseID string) (*license.License, error) {
	row := o.tx.QueryRow(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses
		WHERE id = $1
		FOR UPDATE
	`, licenseID)

	l, err := scanLicense(row)
	if err != nil {
		if err == license.ErrLicenseNotFound {
			return nil, assignment.ErrLicenseNotFound
		}
		return nil, err
	}
	return l, nil
}

// GetAssignmentForUpdate retrieves an assignment and locks its row
func (o *assignmentTxOps) GetAssignmentForUpdate(ctx context.Context, id string) (*assignment.Assignment, error) {
	row := o.tx.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAssignment(row)
}

// CountActive counts active assignments of a license within the transaction
func (o *assignmentTxOps) CountActive(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := o.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE license_id = $1 AND is_active
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active assignments: %w", err)
	}
	return count, nil
}

// HasActiveForUser reports whether the user already holds an active
// assignment for the license
func (o *assignmentTxOps) HasActiveForUser(ctx context.Context, licenseID, userID string) (bool, error) {
	var exists bool
	err := o.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM assignments
			WHERE license_id = $1 AND user_id = $2 AND is_active
		)
	`, licenseID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	return exists, nil
}

// Insert inserts a new assignment
func (o *assignmentTxOps) Insert(ctx context.Context, a *assignment.Assignment) error {
	_, err := o.tx.Exec(ctx, `
		INSERT INTO assignments (id, license_id, user_id, device_id, is_active, assignment_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.LicenseID, a.UserID, a.DeviceID, a.State == assignment.StateActive, a.AssignmentDate, a.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// SetState updates the assignment state
func (o *assignmentTxOps) SetState(ctx context.Context, id string, state assignment.State) error {
	result, err := o.tx.Exec(ctx, `
		UPDATE assignments SET is_active = $2
		WHERE id = $1
	`, id, state == assignment.StateActive)
	if err != nil {
		return fmt.Errorf("failed to update assignment state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrAssignmentNotFound
	}
	return nil
}

// Delete removes an assignment record
func (o *assignmentTxOps) Delete(ctx context.Context, id string) error {
	result, err := o.tx.Exec(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrAssignmentNotFound
	}
	return nil
}

// InsertLogEntry writes an assignment trail entry in the same transaction as
// the state change it records
func (o *assignmentTxOps) InsertLogEntry(ctx context.Context, entry *audit.AssignmentEntry) error {
	_, err := o.tx.Exec(ctx, `
		INSERT INTO assignment_log_entries (
			id, assignment_id, log_timestamp, action,
			license_id, license_name, user_id, username, email, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.AssignmentID, entry.Timestamp, entry.Action,
		entry.LicenseID, entry.LicenseName, entry.UserID, entry.Username, entry.Email, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment log entry: %w", err)
	}
	return nil
}

func scanAssignment(row pgx.Row) (*assignment.Assignment, error) {
	var a assignment.Assignment
	var userID, deviceID sql.NullString
	var isActive bool

	err := row.Scan(&a.ID, &a.LicenseID, &userID, &deviceID, &isActive, &a.AssignmentDate, &a.Notes)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, assignment.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to scan assignment: %w", err)
	}

	if userID.Valid {
		a.UserID = &userID.String
	}
	if deviceID.Valid {
		a.DeviceID = &deviceID.String
	}
	if isActive {
		a.State = assignment.StateActive
	} else {
		a.State = assignment.StateInactive
	}

	return &a, nil
}

func collectAssignments(rows pgx.Rows) ([]*assignment.Assignment, error) {
	var assignments []*assignment.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
