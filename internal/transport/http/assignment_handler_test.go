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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Project-FleX-PFX/licentra/internal/assignment"
	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory assignment repository for handler tests
type memAssignmentRepo struct {
	licenses    map[string]*license.License
	assignments map[string]*assignment.Assignment
}

func newMemAssignmentRepo() *memAssignmentRepo {
	return &memAssignmentRepo{
		licenses:    make(map[string]*license.License),
		assignments: make(map[string]*assignment.Assignment),
	}
}

func (r *memAssignmentRepo) GetLicense(ctx context.Context, licenseID string) (*license.License, error) {
	l, ok := r.licenses[licenseID]
	if !ok {
		return nil, assignment.ErrLicenseNotFound
	}
	return l, nil
}

func (r *memAssignmentRepo) GetAssignment(ctx context.Context, id string) (*assignment.Assignment, error) {
	a, ok := r.assignments[id]
	if !ok {
		return nil, assignment.ErrAssignmentNotFound
	}
	return a, nil
}

func (r *memAssignmentRepo) ListForUser(ctx context.Context, userID string) ([]*assignment.Assignment, error) {
	var out []*assignment.Assignment
	for _, a := range r.assignments {
		if a.UserID != nil && *a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAssignmentRepo) ListForLicense(ctx context.Context, licenseID string) ([]*assignment.Assignment, error) {
	var out []*assignment.Assignment
	for _, a := range r.assignments {
		if a.LicenseID == licenseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAssignmentRepo) CountActive(ctx context.Context, licenseID string) (int, error) {
	n := 0
	for _, a := range r.assignments {
		if a.LicenseID == licenseID && a.State == assignment.StateActive {
			n++
		}
	}
	return n, nil
}

func (r *memAssignmentRepo) InTx(ctx context.Context, fn func(ops assignment.TxOps) error) error {
	return fn(&memAssignmentTxOps{repo: r})
}

type memAssignmentTxOps struct {
	repo *memAssignmentRepo
}

func (o *memAssignmentTxOps) GetLicenseForUpdate(ctx context.Context, licenseID string) (*license.License, error) {
	return o.repo.GetLicense(ctx, licenseID)
}

func (o *memAssignmentTxOps) GetAssignmentForUpdate(ctx context.Context, id string) (*assignment.Assignment, error) {
	return o.repo.GetAssignment(ctx, id)
}

func (o *memAssignmentTxOps) CountActive(ctx context.Context, licenseID string) (int, error) {
	return o.repo.CountActive(ctx, licenseID)
}

func (o *memAssignmentTxOps) HasActiveForUser(ctx context.Context, licenseID, userID string) (bool, error) {
	for _, a := range o.repo.assignments {
		if a.LicenseID == licenseID && a.State == assignment.StateActive && a.UserID != nil && *a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (o *memAssignmentTxOps) Insert(ctx context.Context, a *assignment.Assignment) error {
	o.repo.assignments[a.ID] = a
	return nil
}

func (o *memAssignmentTxOps) SetState(ctx context.Context, id string, state assignment.State) error {
	a, ok := o.repo.assignments[id]
	if !ok {
		return assignment.ErrAssignmentNotFound
	}
	a.State = state
	return nil
}

func (o *memAssignmentTxOps) Delete(ctx context.Context, id string) error {
	delete(o.repo.assignments, id)
	return nil
}

func (o *memAssignmentTxOps) InsertLogEntry(ctx context.Context, entry *audit.AssignmentEntry) error {
	return nil
}

type memUserDirectory struct {
	missing map[string]bool
}

func (d memUserDirectory) Lookup(ctx context.Context, userID string) (audit.Actor, error) {
	if d.missing[userID] {
		return audit.Actor{}, errors.New("user not found")
	}
	return audit.Actor{ID: userID, Username: "user-" + userID, Email: userID + "@example.com"}, nil
}

type memDeviceDirectory struct{}

func (memDeviceDirectory) GetByID(ctx context.Context, deviceID string) (*device.Device, error) {
	return nil, errors.New("no devices registered")
}

func newTestHandler(repo *memAssignmentRepo) *Handler {
	return &Handler{
		assignmentService: assignment.NewService(repo, memUserDirectory{}, memDeviceDirectory{}),
		validate:          validator.New(validator.WithRequiredStructEnabled()),
	}
}

// testRouter wires the assignment routes with a fixed actor injected into the
// request context, standing in for the session middleware.
func testRouter(h *Handler, actor assignment.Actor) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), actorKey, actor)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/licenses/{licenseID}/seats", h.AvailableSeats)
	r.Post("/licenses/{licenseID}/activate", h.Activate)
	r.Post("/assignments/{assignmentID}/deactivate", h.Deactivate)
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireAdmin)
		r.Post("/licenses/{licenseID}/approve", h.Approve)
		r.Delete("/assignments/{assignmentID}", h.Cancel)
		r.Post("/users/{userID}/assignments/{assignmentID}/activate", h.AdminActivateForUser)
		r.Post("/users/{userID}/assignments/{assignmentID}/deactivate", h.AdminDeactivateForUser)
		r.Delete("/users/{userID}/assignments/{assignmentID}", h.CancelForUser)
	})
	return r
}

func selfServiceTestActor(userID string) assignment.Actor {
	return assignment.Actor{
		ID:       userID,
		Username: "user-" + userID,
		Email:    userID + "@example.com",
		Roles:    []string{rbac.RoleIDSelfService},
	}
}

func adminTestActor() assignment.Actor {
	return assignment.Actor{
		ID:       "admin-1",
		Username: "root",
		Email:    "root@example.com",
		Roles:    []string{rbac.RoleIDAdmin},
	}
}

func TestActivateEndpoint(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 1, Status: license.StatusActive}
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("POST", "/licenses/lic-1/activate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp assignmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lic-1", resp.LicenseID)
	assert.Equal(t, "active", resp.State)
	require.NotNil(t, resp.UserID)
	assert.Equal(t, "u-1", *resp.UserID)
}

func TestActivateEndpoint_SeatConflict(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 1, Status: license.StatusActive}
	otherUser := "u-2"
	repo.assignments["a-1"] = &assignment.Assignment{
		ID: "a-1", LicenseID: "lic-1", UserID: &otherUser, State: assignment.StateActive,
	}
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("POST", "/licenses/lic-1/activate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "no available seats")
}

func TestActivateEndpoint_UnknownLicense(t *testing.T) {
	repo := newMemAssignmentRepo()
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("POST", "/licenses/missing/activate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeactivateEndpoint_ForeignSeatForbidden(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 2, Status: license.StatusActive}
	owner := "u-2"
	repo.assignments["a-1"] = &assignment.Assignment{
		ID: "a-1", LicenseID: "lic-1", UserID: &owner, State: assignment.StateActive,
	}
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("POST", "/assignments/a-1/deactivate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeactivateEndpoint_InactiveConflict(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 2, Status: license.StatusActive}
	owner := "u-1"
	repo.assignments["a-1"] = &assignment.Assignment{
		ID: "a-1", LicenseID: "lic-1", UserID: &owner, State: assignment.StateInactive,
	}
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("POST", "/assignments/a-1/deactivate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 2, Status: license.StatusActive}
	owner := "u-1"
	repo.assignments["a-1"] = &assignment.Assignment{
		ID: "a-1", LicenseID: "lic-1", UserID: &owner, State: assignment.StateInactive,
	}
	h := newTestHandler(repo)

	t.Run("forbidden for non-admin", func(t *testing.T) {
		router := testRouter(h, selfServiceTestActor("u-1"))
		req := httptest.NewRequest("DELETE", "/admin/assignments/a-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("allowed for admin", func(t *testing.T) {
		router := testRouter(h, adminTestActor())
		req := httptest.NewRequest("DELETE", "/admin/assignments/a-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestApproveEndpoint_UnknownTargetUser(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 2, Status: license.StatusActive}

	ghost := "7f000000-0000-4000-8000-000000000001"
	h := &Handler{
		assignmentService: assignment.NewService(repo,
			memUserDirectory{missing: map[string]bool{ghost: true}}, memDeviceDirectory{}),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	router := testRouter(h, adminTestActor())

	body := strings.NewReader(`{"user_id":"` + ghost + `"}`)
	req := httptest.NewRequest("POST", "/admin/licenses/lic-1/approve", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "target user not found")
}

func TestPerUserAdminRoutes(t *testing.T) {
	owner := "u-1"

	newRepo := func() *memAssignmentRepo {
		repo := newMemAssignmentRepo()
		repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 2, Status: license.StatusActive}
		repo.assignments["a-1"] = &assignment.Assignment{
			ID: "a-1", LicenseID: "lic-1", UserID: &owner, State: assignment.StateInactive,
		}
		return repo
	}

	t.Run("foreign assignment in path is not found", func(t *testing.T) {
		router := testRouter(newTestHandler(newRepo()), adminTestActor())
		req := httptest.NewRequest("POST", "/admin/users/u-2/assignments/a-1/activate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("matching user activates", func(t *testing.T) {
		router := testRouter(newTestHandler(newRepo()), adminTestActor())
		req := httptest.NewRequest("POST", "/admin/users/u-1/assignments/a-1/activate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp assignmentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "active", resp.State)
	})

	t.Run("matching user deactivates", func(t *testing.T) {
		repo := newRepo()
		repo.assignments["a-1"].State = assignment.StateActive
		router := testRouter(newTestHandler(repo), adminTestActor())
		req := httptest.NewRequest("POST", "/admin/users/u-1/assignments/a-1/deactivate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cancel checks ownership before deleting", func(t *testing.T) {
		repo := newRepo()
		router := testRouter(newTestHandler(repo), adminTestActor())
		req := httptest.NewRequest("DELETE", "/admin/users/u-2/assignments/a-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Len(t, repo.assignments, 1)
	})
}

func TestSessionCookieLifetime(t *testing.T) {
	h := &Handler{sessionConfig: SessionConfig{
		CookieName:   "licentra_session",
		CookiePath:   "/",
		CookieMaxAge: 3600,
	}}

	w := httptest.NewRecorder()
	h.setSessionCookie(w, "sess-1")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "licentra_session", cookies[0].Name)
	assert.Equal(t, 3600, cookies[0].MaxAge)
}

func TestAvailableSeatsEndpoint(t *testing.T) {
	repo := newMemAssignmentRepo()
	repo.licenses["lic-1"] = &license.License{ID: "lic-1", Name: "Test License", SeatCount: 3, Status: license.StatusActive}
	owner := "u-2"
	repo.assignments["a-1"] = &assignment.Assignment{
		ID: "a-1", LicenseID: "lic-1", UserID: &owner, State: assignment.StateActive,
	}
	router := testRouter(newTestHandler(repo), selfServiceTestActor("u-1"))

	req := httptest.NewRequest("GET", "/licenses/lic-1/seats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["available_seats"])
}
