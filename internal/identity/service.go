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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/id"
	"github.com/Project-FleX-PFX/licentra/internal/observability/logger"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher handles password hashing using Argon2id
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		h.iterations,
		h.memory,
		h.parallelism,
		h.keyLength,
	)

	// Encode as: $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify verifies a password against an encoded hash.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	sections := strings.Split(strings.TrimPrefix(encodedHash, "$"), "$")

	// Expected 5 sections: ["argon2id", "v=19", "m=65536,t=3,p=4", "salt", "hash"]
	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actualHash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		uint32(len(expectedHash)),
	)

	// Constant-time comparison
	if len(actualHash) != len(expectedHash) {
		return false, nil
	}
	var diff byte
	for i := range actualHash {
		diff |= actualHash[i] ^ expectedHash[i]
	}
	return diff == 0, nil
}

// Service provides account-related business logic. Every authentication and
// account-management event lands in the persisted security trail; trail
// failures here are best-effort because the triggering action has already
// committed.
type Service struct {
	repo               UserRepository
	hasher             *PasswordHasher
	recorder           audit.Recorder
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	hasher *PasswordHasher,
	recorder audit.Recorder,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		hasher:             hasher,
		recorder:           recorder,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// CreateUser creates a new account with credentials.
func (s *Service) CreateUser(ctx context.Context, username, email, password string, actor audit.Actor) (*User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !isStrongPassword(password) {
		return nil, ErrWeakPassword
	}

	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}
	if existing, err := s.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	user := &User{
		ID:       id.NewUUIDv7(),
		Username: username,
		Email:    email,
		Active:   true,
	}
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	creds := &Credentials{UserID: user.ID, PasswordHash: passwordHash}
	if err := s.repo.CreateWithCredentials(ctx, user, creds); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.record(ctx, audit.ActionAccountCreated, "user:"+user.ID, actor, user.Username)
	return user, nil
}

// Authenticate authenticates a user by username and password, enforcing
// failed-attempt lockout. Pre-authentication failures are attributed to the
// unknown sentinel actor in the security trail.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		s.record(ctx, audit.ActionLoginFailed, "login", audit.UnknownActor,
			fmt.Sprintf("unknown username %q", username))
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		s.record(ctx, audit.ActionLoginFailed, "login", s.actorFor(user), "account deactivated")
		return nil, ErrAccountInactive
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.record(ctx, audit.ActionLoginFailed, "login", s.actorFor(user), "account locked")
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			s.record(ctx, audit.ActionAccountLocked, "login", s.actorFor(user),
				fmt.Sprintf("locked after %d failed attempts", newAttempts))
		}

		if uerr := s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil); uerr != nil {
			slog.ErrorContext(ctx, "failed to update lockout state", logger.Error(uerr), logger.UserID(user.ID))
		}

		s.record(ctx, audit.ActionLoginFailed, "login", s.actorFor(user), "invalid password")
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if uerr := s.repo.UpdateLockout(ctx, user.ID, 0, nil); uerr != nil {
			slog.ErrorContext(ctx, "failed to reset lockout state", logger.Error(uerr), logger.UserID(user.ID))
		}
	}

	s.record(ctx, audit.ActionLoginSuccess, "login", s.actorFor(user), "")
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ListUsers lists accounts with pagination.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, error) {
	return s.repo.List(ctx, limit, offset)
}

// Lookup resolves a user's denormalized audit identity. Implements the
// assignment lifecycle's user directory.
func (s *Service) Lookup(ctx context.Context, userID string) (audit.Actor, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return audit.Actor{}, ErrUserNotFound
	}
	return s.actorFor(user), nil
}

// UpdateProfile updates account profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID, givenName, familyName string, actor audit.Actor) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user.GivenName = givenName
	user.FamilyName = familyName
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.record(ctx, audit.ActionAccountUpdated, "user:"+user.ID, actor, "profile updated")
	return user, nil
}

// ChangePassword changes a user's password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if user, gerr := s.repo.GetByID(ctx, userID); gerr == nil {
		s.record(ctx, audit.ActionPasswordChanged, "user:"+userID, s.actorFor(user), "")
	}
	return nil
}

func (s *Service) actorFor(user *User) audit.Actor {
	return audit.Actor{ID: user.ID, Username: user.Username, Email: user.Email}
}

func (s *Service) record(ctx context.Context, action, object string, actor audit.Actor, details string) {
	if err := s.recorder.RecordSecurity(ctx, action, object, actor, details); err != nil {
		slog.WarnContext(ctx, "failed to record security event", logger.Error(err), logger.Action(action))
	}
}

// Helper functions
func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && len(email) < 255
}

func isStrongPassword(password string) bool {
	// Password must be at least 8 characters
	return len(password) >= 8
}
