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

package http

import (
	"errors"
	"net/http"

	"github.com/Project-FleX-PFX/licentra/internal/identity"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
	"github.com/go-chi/chi/v5"
)

// CreateUserRequest carries account provisioning fields
type CreateUserRequest struct {
	Username string   `json:"username" validate:"required"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8"`
	RoleIDs  []string `json:"role_ids"`
}

// CreateUser provisions a new account, optionally with an initial role set
// @Summary Create User
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body CreateUserRequest true "Account"
// @Success 201 {object} map[string]any
// @Router /admin/users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req CreateUserRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), req.Username, req.Email, req.Password, actor.AuditActor())
	if err != nil {
		switch err {
		case identity.ErrUserAlreadyExists:
			respondError(w, http.StatusConflict, "user already exists")
		case identity.ErrInvalidEmail, identity.ErrInvalidUsername, identity.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	for _, roleID := range req.RoleIDs {
		if err := h.rbacService.AssignRole(r.Context(), user.ID, roleID, actor.AuditActor()); err != nil {
			respondRBACError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// ListUsers lists accounts
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	users, err := h.identityService.ListUsers(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{
			"user_id":  u.ID,
			"username": u.Username,
			"email":    u.Email,
			"active":   u.Active,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"users": out})
}

// GetUserRoles returns the roles held by a user
func (h *Handler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbacService.GetUserRoles(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get user roles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// SetRolesRequest carries a full role set replacement
type SetRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"required"`
}

// SetUserRoles replaces a user's entire role set
// @Summary Set User Roles
// @Description Replace the user's role set; refused if it would strip the last administrator
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Param request body SetRolesRequest true "Role Set"
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/users/{userID}/roles [put]
func (h *Handler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	var req SetRolesRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.rbacService.SetRoles(r.Context(), userID, req.RoleIDs, actor.AuditActor()); err != nil {
		respondRBACError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "roles updated"})
}

// AssignRoleRequest names one role to grant
type AssignRoleRequest struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}

// AssignUserRole grants one role to a user
func (h *Handler) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	var req AssignRoleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.rbacService.AssignRole(r.Context(), userID, req.RoleID, actor.AuditActor()); err != nil {
		respondRBACError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "role assigned"})
}

// RemoveUserRole revokes one role from a user
// @Summary Remove User Role
// @Description Revoke a role; removing the last administrator is refused
// @Tags Admin
// @Produce json
// @Security CookieAuth
// @Param userID path string true "User ID"
// @Param roleID path string true "Role ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/users/{userID}/roles/{roleID} [delete]
func (h *Handler) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")
	roleID := chi.URLParam(r, "roleID")

	if err := h.rbacService.RemoveRole(r.Context(), userID, roleID, actor.AuditActor()); err != nil {
		respondRBACError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "role removed"})
}

// DeactivateUser disables an account
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	if err := h.rbacService.DeactivateUser(r.Context(), userID, actor.AuditActor()); err != nil {
		respondRBACError(w, err)
		return
	}

	// Disabled accounts lose their sessions immediately
	_ = h.sessionService.DestroyAllForUser(r.Context(), userID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "user deactivated"})
}

// DeleteUser removes an account
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	if err := h.rbacService.DeleteUser(r.Context(), userID, actor.AuditActor()); err != nil {
		respondRBACError(w, err)
		return
	}

	_ = h.sessionService.DestroyAllForUser(r.Context(), userID)

	respondJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// ListRoles lists all defined roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbacService.ListRoles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list roles")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// ListAssignmentTrail lists assignment trail entries, optionally filtered by
// license via the license_id query parameter
func (h *Handler) ListAssignmentTrail(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	licenseID := r.URL.Query().Get("license_id")

	entries, err := h.auditService.ListAssignmentTrail(r.Context(), licenseID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list assignment trail")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListSecurityTrail lists security trail entries, optionally filtered by
// actor via the actor_id query parameter
func (h *Handler) ListSecurityTrail(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	actorID := r.URL.Query().Get("actor_id")

	entries, err := h.auditService.ListSecurityTrail(r.Context(), actorID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list security trail")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// PurgeAssignmentTrail removes all assignment trail entries naming a user
func (h *Handler) PurgeAssignmentTrail(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	n, err := h.auditService.PurgeAssignmentTrailForUser(r.Context(), userID, actor.AuditActor())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to purge assignment trail")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries_removed": n})
}

// PurgeSecurityTrail removes all security trail entries naming an actor
func (h *Handler) PurgeSecurityTrail(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	actorID := chi.URLParam(r, "actorID")

	n, err := h.auditService.PurgeSecurityTrailForActor(r.Context(), actorID, actor.AuditActor())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to purge security trail")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries_removed": n})
}

// respondRBACError maps rbac domain errors to HTTP statuses. The admin-floor
// refusal is a conflict with current state, not a permission failure.
func respondRBACError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrAdminProtection):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrRoleNotFound), errors.Is(err, rbac.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrRoleNotAssigned), errors.Is(err, rbac.ErrRoleAlreadyAssigned):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
