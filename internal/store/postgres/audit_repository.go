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

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/jackc/pgx/v5"
)

// AuditRepository implements audit.Store for both trails.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertAssignmentEntry appends an entry to the assignment trail
func (r *AuditRepository) InsertAssignmentEntry(ctx context.Context, entry *audit.AssignmentEntry) error {
	_, err := r.db.pool.Exec(ctx, `
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

// InsertSecurityEntry appends an entry to the security trail
func (r *AuditRepository) InsertSecurityEntry(ctx context.Context, entry *audit.SecurityEntry) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO security_log_entries (
			id, log_timestamp, action, object, actor_id, username, email, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID, entry.Timestamp, entry.Action, entry.Object,
		entry.ActorID, entry.Username, entry.Email, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security log entry: %w", err)
	}
	return nil
}

// ListAssignmentEntries lists assignment trail entries, newest first.
// An empty licenseID lists across all licenses.
func (r *AuditRepository) ListAssignmentEntries(ctx context.Context, licenseID string, limit, offset int) ([]*audit.AssignmentEntry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, assignment_id, log_timestamp, action,
			license_id, license_name, user_id, username, email, details
		FROM assignment_log_entries
		WHERE ($1 = '' OR license_id::text = $1)
		ORDER BY log_timestamp DESC
		LIMIT $2 OFFSET $3
	`, licenseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment log entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.AssignmentEntry
	for rows.Next() {
		var entry audit.AssignmentEntry
		var assignmentID sql.NullString
		if err := rows.Scan(
			&entry.ID, &assignmentID, &entry.Timestamp, &entry.Action,
			&entry.LicenseID, &entry.LicenseName, &entry.UserID, &entry.Username, &entry.Email, &entry.Details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment log entry: %w", err)
		}
		if assignmentID.Valid {
			entry.AssignmentID = &assignmentID.String
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// ListSecurityEntries lists security trail entries, newest first.
// An empty actorID lists across all actors.
func (r *AuditRepository) ListSecurityEntries(ctx context.Context, actorID string, limit, offset int) ([]*audit.SecurityEntry, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, log_timestamp, action, object, actor_id, username, email, details
		FROM security_log_entries
		WHERE ($1 = '' OR actor_id::text = $1)
		ORDER BY log_timestamp DESC
		LIMIT $2 OFFSET $3
	`, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security log entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.SecurityEntry
	for rows.Next() {
		entry, err := scanSecurityEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// DeleteAssignmentEntriesByUser removes all assignment trail entries naming a
// user. Used for data-protection erasure only.
func (r *AuditRepository) DeleteAssignmentEntriesByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM assignment_log_entries WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assignment log entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteSecurityEntriesByActor removes all security trail entries naming an
// actor. Used for data-protection erasure only.
func (r *AuditRepository) DeleteSecurityEntriesByActor(ctx context.Context, actorID string) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM security_log_entries WHERE actor_id = $1
	`, actorID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete security log entries: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanSecurityEntry(row pgx.Row) (*audit.SecurityEntry, error) {
	var entry audit.SecurityEntry
	var actorID sql.NullString

	err := row.Scan(
		&entry.ID, &entry.Timestamp, &entry.Action, &entry.Object,
		&actorID, &entry.Username, &entry.Email, &entry.Details,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security log entry: %w", err)
	}

	if actorID.Valid {
		entry.ActorID = &actorID.String
	}

	return &entry, nil
}
