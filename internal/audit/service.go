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
	"fmt"
	"log/slog"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/id"
)

// Recorder is the write-side interface the rest of the application uses.
// Assignment-trail writes that must share a business transaction do NOT go
// through here; they go through the lifecycle's transactional unit of work.
// Recorder covers standalone security events and post-commit notes.
type Recorder interface {
	RecordSecurity(ctx context.Context, action, object string, actor Actor, details string) error
}

// Service validates, persists and mirrors audit trail entries.
type Service struct {
	store Store
}

// NewService creates a new audit service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// RecordSecurity writes one security trail entry. Validation failures are
// returned before any row is written; store failures propagate so the caller
// decides whether the event was best-effort.
func (s *Service) RecordSecurity(ctx context.Context, action, object string, actor Actor, details string) error {
	entry := NewSecurityEntry(action, object, actor, details)
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := s.store.InsertSecurityEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist security entry: %w", err)
	}
	mirrorSecurity(ctx, entry)
	return nil
}

// NewSecurityEntry builds a security entry with identity fields resolved
// from the given actor and the timestamp stamped at write time. Sentinel
// actors yield a NULL actor reference.
func NewSecurityEntry(action, object string, actor Actor, details string) *SecurityEntry {
	entry := &SecurityEntry{
		ID:        id.NewUUIDv7(),
		Timestamp: time.Now(),
		Action:    action,
		Object:    object,
		Username:  actor.Username,
		Email:     actor.Email,
		Details:   details,
	}
	if actor.ID != SystemActor.ID && actor.ID != UnknownActor.ID && actor.ID != "" {
		actorID := actor.ID
		entry.ActorID = &actorID
	}
	return entry
}

// ListAssignmentTrail returns assignment trail entries, optionally filtered
// by license, newest first.
func (s *Service) ListAssignmentTrail(ctx context.Context, licenseID string, limit, offset int) ([]*AssignmentEntry, error) {
	return s.store.ListAssignmentEntries(ctx, licenseID, clampLimit(limit), offset)
}

// ListSecurityTrail returns security trail entries, optionally filtered by
// actor, newest first.
func (s *Service) ListSecurityTrail(ctx context.Context, actorID string, limit, offset int) ([]*SecurityEntry, error) {
	return s.store.ListSecurityEntries(ctx, actorID, clampLimit(limit), offset)
}

// PurgeAssignmentTrailForUser is the only permitted deletion on the
// assignment trail: an administrative purge of all entries naming a subject.
func (s *Service) PurgeAssignmentTrailForUser(ctx context.Context, userID string, admin Actor) (int64, error) {
	n, err := s.store.DeleteAssignmentEntriesByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge assignment trail: %w", err)
	}
	slog.InfoContext(ctx, "assignment trail purged",
		slog.String("subject_user_id", userID),
		slog.String("purged_by", admin.ID),
		slog.Int64("entries_removed", n),
	)
	return n, nil
}

// PurgeSecurityTrailForActor purges all security entries referencing an actor.
func (s *Service) PurgeSecurityTrailForActor(ctx context.Context, actorID string, admin Actor) (int64, error) {
	n, err := s.store.DeleteSecurityEntriesByActor(ctx, actorID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security trail: %w", err)
	}
	slog.InfoContext(ctx, "security trail purged",
		slog.String("subject_actor_id", actorID),
		slog.String("purged_by", admin.ID),
		slog.Int64("entries_removed", n),
	)
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// MirrorAssignmentEntry emits an assignment trail entry to the structured
// log. Lifecycle transactions call this after commit so the log never shows
// an event that was rolled back.
func MirrorAssignmentEntry(ctx context.Context, entry *AssignmentEntry) {
	slog.InfoContext(ctx, "AUDIT_EVENT",
		slog.String("trail", "assignment"),
		slog.String("action", entry.Action),
		slog.String("license_id", entry.LicenseID),
		slog.String("license_name", entry.LicenseName),
		slog.String("user_id", entry.UserID),
		slog.String("username", entry.Username),
		slog.String("details", entry.Details),
		slog.String("component", "audit"),
	)
}

func mirrorSecurity(ctx context.Context, entry *SecurityEntry) {
	attrs := []any{
		slog.String("trail", "security"),
		slog.String("action", entry.Action),
		slog.String("object", entry.Object),
		slog.String("username", entry.Username),
		slog.String("component", "audit"),
	}
	if entry.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", *entry.ActorID))
	}
	slog.InfoContext(ctx, "AUDIT_EVENT", attrs...)
}
