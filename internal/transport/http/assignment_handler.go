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

	"github.com/Project-FleX-PFX/licentra/internal/assignment"
	"github.com/go-chi/chi/v5"
)

// assignmentResponse is the wire representation of an assignment
type assignmentResponse struct {
	ID             string  `json:"id"`
	LicenseID      string  `json:"license_id"`
	UserID         *string `json:"user_id,omitempty"`
	DeviceID       *string `json:"device_id,omitempty"`
	State          string  `json:"state"`
	AssignmentDate string  `json:"assignment_date"`
	Notes          string  `json:"notes,omitempty"`
}

func toAssignmentResponse(a *assignment.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:             a.ID,
		LicenseID:      a.LicenseID,
		UserID:         a.UserID,
		DeviceID:       a.DeviceID,
		State:          string(a.State),
		AssignmentDate: a.AssignmentDate.Format("2006-01-02T15:04:05Z07:00"),
		Notes:          a.Notes,
	}
}

func toAssignmentResponses(as []*assignment.Assignment) []assignmentResponse {
	out := make([]assignmentResponse, 0, len(as))
	for _, a := range as {
		out = append(out, toAssignmentResponse(a))
	}
	return out
}

// respondAssignmentError maps assignment domain errors to HTTP statuses.
// Precondition violations on current state map to 409 Conflict, including
// attempts to release a seat that is not held.
func respondAssignmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assignment.ErrLicenseNotFound),
		errors.Is(err, assignment.ErrAssignmentNotFound),
		errors.Is(err, assignment.ErrTargetUserNotFound),
		errors.Is(err, assignment.ErrTargetDeviceNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, assignment.ErrNotAuthorized):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, assignment.ErrNoSeatsAvailable),
		errors.Is(err, assignment.ErrAlreadyAssigned),
		errors.Is(err, assignment.ErrLicenseNotAvailable),
		errors.Is(err, assignment.ErrAssignmentNotActive),
		errors.Is(err, assignment.ErrAssignmentNotInactive):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, assignment.ErrInvalidHolder):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// AvailableSeats returns the remaining seat capacity of a license
// @Summary Available Seats
// @Tags Assignments
// @Produce json
// @Security CookieAuth
// @Param licenseID path string true "License ID"
// @Success 200 {object} map[string]int
// @Router /licenses/{licenseID}/seats [get]
func (h *Handler) AvailableSeats(w http.ResponseWriter, r *http.Request) {
	licenseID := chi.URLParam(r, "licenseID")

	seats, err := h.assignmentService.AvailableSeats(r.Context(), licenseID)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"available_seats": seats})
}

// Activate grants the acting user a seat on the license
// @Summary Activate License Seat
// @Description Self-service seat activation for the current user
// @Tags Assignments
// @Produce json
// @Security CookieAuth
// @Param licenseID path string true "License ID"
// @Success 201 {object} assignmentResponse
// @Failure 409 {object} map[string]string
// @Router /licenses/{licenseID}/activate [post]
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	licenseID := chi.URLParam(r, "licenseID")

	a, err := h.assignmentService.Activate(r.Context(), licenseID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

// Deactivate releases the seat held by an assignment
// @Summary Deactivate Assignment
// @Tags Assignments
// @Produce json
// @Security CookieAuth
// @Param assignmentID path string true "Assignment ID"
// @Success 200 {object} assignmentResponse
// @Failure 409 {object} map[string]string
// @Router /assignments/{assignmentID}/deactivate [post]
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	assignmentID := chi.URLParam(r, "assignmentID")

	a, err := h.assignmentService.Deactivate(r.Context(), assignmentID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// GetAssignment retrieves one assignment
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	assignmentID := chi.URLParam(r, "assignmentID")

	a, err := h.assignmentService.GetAssignment(r.Context(), assignmentID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// ListUserAssignments lists assignments held by a user
func (h *Handler) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")

	as, err := h.assignmentService.ListForUser(r.Context(), userID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"assignments": toAssignmentResponses(as)})
}

// IssueLicenseToken issues a signed license token for an active assignment.
// The token is portable proof of the seat for client software.
func (h *Handler) IssueLicenseToken(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	assignmentID := chi.URLParam(r, "assignmentID")

	a, err := h.assignmentService.GetAssignment(r.Context(), assignmentID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}
	if !a.Active() {
		respondError(w, http.StatusConflict, "assignment is not active")
		return
	}

	l, err := h.catalogService.GetLicense(r.Context(), a.LicenseID)
	if err != nil {
		respondError(w, http.StatusNotFound, "license not found")
		return
	}

	holder := ""
	switch {
	case a.UserID != nil:
		holder = *a.UserID
	case a.DeviceID != nil:
		holder = *a.DeviceID
	}

	signed, err := h.tokenIssuer.Issue(l.ID, l.Name, a.ID, holder)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue license token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token": signed,
		"kid":   h.tokenIssuer.KeyID(),
	})
}

// ApproveRequest names the target user of an admin approval
type ApproveRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// Approve creates a pending assignment for a target user
// @Summary Approve Assignment
// @Description Create an inactive assignment for a user, pending activation
// @Tags Admin
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param licenseID path string true "License ID"
// @Param request body ApproveRequest true "Target User"
// @Success 201 {object} assignmentResponse
// @Router /admin/licenses/{licenseID}/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	licenseID := chi.URLParam(r, "licenseID")

	var req ApproveRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.assignmentService.Approve(r.Context(), licenseID, req.UserID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

// ApproveDeviceRequest names the target device of an admin approval
type ApproveDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,uuid"`
}

// ApproveDevice creates a pending assignment bound to a device
func (h *Handler) ApproveDevice(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	licenseID := chi.URLParam(r, "licenseID")

	var req ApproveDeviceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.assignmentService.ApproveDevice(r.Context(), licenseID, req.DeviceID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toAssignmentResponse(a))
}

// AdminActivate flips a pending assignment to active
func (h *Handler) AdminActivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	assignmentID := chi.URLParam(r, "assignmentID")

	a, err := h.assignmentService.AdminActivate(r.Context(), assignmentID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// Cancel deletes a pending assignment
// @Summary Cancel Assignment
// @Description Delete an inactive assignment; active seats must be deactivated first
// @Tags Admin
// @Produce json
// @Security CookieAuth
// @Param assignmentID path string true "Assignment ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/assignments/{assignmentID} [delete]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	assignmentID := chi.URLParam(r, "assignmentID")

	if err := h.assignmentService.Cancel(r.Context(), assignmentID, actor); err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "assignment canceled"})
}

// assignmentForPathUser loads the assignment named in the path and checks
// that it belongs to the user named in the path. A mismatch is answered as
// not found so the route leaks nothing about foreign assignments.
func (h *Handler) assignmentForPathUser(w http.ResponseWriter, r *http.Request) (*assignment.Assignment, bool) {
	actor, _ := GetActor(r.Context())
	userID := chi.URLParam(r, "userID")
	assignmentID := chi.URLParam(r, "assignmentID")

	a, err := h.assignmentService.GetAssignment(r.Context(), assignmentID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return nil, false
	}
	if a.UserID == nil || *a.UserID != userID {
		respondError(w, http.StatusNotFound, "assignment does not belong to this user")
		return nil, false
	}
	return a, true
}

// AdminActivateForUser activates a pending assignment through the per-user
// route, rejecting an assignment that belongs to a different user
func (h *Handler) AdminActivateForUser(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assignmentForPathUser(w, r)
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	updated, err := h.assignmentService.AdminActivate(r.Context(), a.ID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toAssignmentResponse(updated))
}

// AdminDeactivateForUser releases a user's seat through the per-user route
func (h *Handler) AdminDeactivateForUser(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assignmentForPathUser(w, r)
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	updated, err := h.assignmentService.Deactivate(r.Context(), a.ID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toAssignmentResponse(updated))
}

// CancelForUser deletes a user's pending assignment through the per-user route
func (h *Handler) CancelForUser(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assignmentForPathUser(w, r)
	if !ok {
		return
	}
	actor, _ := GetActor(r.Context())

	if err := h.assignmentService.Cancel(r.Context(), a.ID, actor); err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "assignment canceled"})
}

// ListLicenseAssignments lists all assignments on a license
func (h *Handler) ListLicenseAssignments(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	licenseID := chi.URLParam(r, "licenseID")

	as, err := h.assignmentService.ListForLicense(r.Context(), licenseID, actor)
	if err != nil {
		respondAssignmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"assignments": toAssignmentResponses(as)})
}
