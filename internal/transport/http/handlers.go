// @title Licentra API
// @version 1.0.0
// @description License and seat assignment management service

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name licentra_session

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Project-FleX-PFX/licentra/internal/assignment"
	"github.com/Project-FleX-PFX/licentra/internal/audit"
	"github.com/Project-FleX-PFX/licentra/internal/device"
	"github.com/Project-FleX-PFX/licentra/internal/identity"
	"github.com/Project-FleX-PFX/licentra/internal/license"
	"github.com/Project-FleX-PFX/licentra/internal/observability/logger"
	"github.com/Project-FleX-PFX/licentra/internal/rbac"
	"github.com/Project-FleX-PFX/licentra/internal/session"
	"github.com/Project-FleX-PFX/licentra/internal/token"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService   *identity.Service
	sessionService    *session.Service
	rbacService       *rbac.Service
	assignmentService *assignment.Service
	catalogService    *license.Service
	auditService      *audit.Service
	deviceRepo        device.Repository
	tokenIssuer       *token.Issuer
	validate          *validator.Validate
	sessionConfig     SessionConfig
}

// SessionConfig holds session cookie configuration. CookieMaxAge is derived
// from the configured session lifetime so cookie and server-side session
// expire together.
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	CookieMaxAge   int
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	sessionService *session.Service,
	rbacService *rbac.Service,
	assignmentService *assignment.Service,
	catalogService *license.Service,
	auditService *audit.Service,
	deviceRepo device.Repository,
	tokenIssuer *token.Issuer,
	sessionConfig SessionConfig,
) *Handler {
	return &Handler{
		identityService:   identityService,
		sessionService:    sessionService,
		rbacService:       rbacService,
		assignmentService: assignmentService,
		catalogService:    catalogService,
		auditService:      auditService,
		deviceRepo:        deviceRepo,
		tokenIssuer:       tokenIssuer,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		sessionConfig:     sessionConfig,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Public verification key for license tokens
	r.Get("/license-tokens/key", h.LicenseTokenKey)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)
			r.Put("/user/profile", h.UpdateProfile)
			r.Post("/user/change-password", h.ChangePassword)

			// Catalog reads and self-service seat management
			r.Get("/licenses", h.ListLicenses)
			r.Get("/licenses/{licenseID}", h.GetLicense)
			r.Get("/licenses/{licenseID}/seats", h.AvailableSeats)
			r.Post("/licenses/{licenseID}/activate", h.Activate)

			r.Get("/assignments/{assignmentID}", h.GetAssignment)
			r.Post("/assignments/{assignmentID}/deactivate", h.Deactivate)
			r.Get("/assignments/{assignmentID}/token", h.IssueLicenseToken)
			r.Get("/users/{userID}/assignments", h.ListUserAssignments)

			// Administrative routes
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)

				// Assignment lifecycle overrides
				r.Post("/licenses/{licenseID}/approve", h.Approve)
				r.Post("/licenses/{licenseID}/approve-device", h.ApproveDevice)
				r.Get("/licenses/{licenseID}/assignments", h.ListLicenseAssignments)
				r.Post("/assignments/{assignmentID}/activate", h.AdminActivate)
				r.Delete("/assignments/{assignmentID}", h.Cancel)

				// Per-user lifecycle routes verify that the assignment in
				// the path belongs to the user in the path
				r.Post("/users/{userID}/assignments/{assignmentID}/activate", h.AdminActivateForUser)
				r.Post("/users/{userID}/assignments/{assignmentID}/deactivate", h.AdminDeactivateForUser)
				r.Delete("/users/{userID}/assignments/{assignmentID}", h.CancelForUser)

				// Catalog management
				r.Post("/products", h.CreateProduct)
				r.Get("/products", h.ListProducts)
				r.Get("/products/{productID}", h.GetProduct)
				r.Put("/products/{productID}", h.UpdateProduct)
				r.Delete("/products/{productID}", h.DeleteProduct)

				r.Post("/licenses", h.CreateLicense)
				r.Put("/licenses/{licenseID}", h.UpdateLicense)
				r.Post("/licenses/{licenseID}/archive", h.ArchiveLicense)
				r.Delete("/licenses/{licenseID}", h.DeleteLicense)

				r.Post("/devices", h.CreateDevice)
				r.Get("/devices", h.ListDevices)
				r.Get("/devices/{deviceID}", h.GetDevice)
				r.Put("/devices/{deviceID}", h.UpdateDevice)
				r.Delete("/devices/{deviceID}", h.DeleteDevice)

				// Account and role management
				r.Post("/users", h.CreateUser)
				r.Get("/users", h.ListUsers)
				r.Get("/users/{userID}/roles", h.GetUserRoles)
				r.Put("/users/{userID}/roles", h.SetUserRoles)
				r.Post("/users/{userID}/roles", h.AssignUserRole)
				r.Delete("/users/{userID}/roles/{roleID}", h.RemoveUserRole)
				r.Post("/users/{userID}/deactivate", h.DeactivateUser)
				r.Delete("/users/{userID}", h.DeleteUser)
				r.Get("/roles", h.ListRoles)

				// Audit trails
				r.Get("/audit/assignments", h.ListAssignmentTrail)
				r.Get("/audit/security", h.ListSecurityTrail)
				r.Delete("/audit/assignments/users/{userID}", h.PurgeAssignmentTrail)
				r.Delete("/audit/security/actors/{actorID}", h.PurgeSecurityTrail)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "licentra",
	})
}

// LicenseTokenKey exposes the Ed25519 verification key for license tokens
func (h *Handler) LicenseTokenKey(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"kid":        h.tokenIssuer.KeyID(),
		"alg":        "EdDSA",
		"public_key": h.tokenIssuer.PublicKey(),
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate user and create a session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		switch err {
		case identity.ErrAccountLocked:
			respondError(w, http.StatusForbidden, "account is locked, try again later")
		case identity.ErrAccountInactive:
			respondError(w, http.StatusForbidden, "account is deactivated")
		default:
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	sess, err := h.sessionService.Create(r.Context(), user.ID, getClientIP(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// Logout handles user logout
// @Summary Logout
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID != "" {
		_ = h.sessionService.Destroy(r.Context(), sessionID)
	}
	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user
// @Summary Get Current User
// @Tags User
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	user, err := h.identityService.GetUser(r.Context(), actor.ID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"given_name":  user.GivenName,
		"family_name": user.FamilyName,
		"roles":       actor.Roles,
	})
}

// UpdateProfileRequest represents profile update data
type UpdateProfileRequest struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// UpdateProfile updates the current user's profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req UpdateProfileRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.identityService.UpdateProfile(r.Context(), actor.ID, req.GivenName, req.FamilyName, actor.AuditActor())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"given_name":  user.GivenName,
		"family_name": user.FamilyName,
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ChangePassword changes the current user's password
// @Summary Change Password
// @Tags User
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /user/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())

	var req ChangePasswordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.identityService.ChangePassword(r.Context(), actor.ID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch err {
		case identity.ErrInvalidCredentials:
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case identity.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// Helper functions

// decodeAndValidate decodes the JSON body into req and runs struct
// validation. Writes the error response itself and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   h.sessionConfig.CookieMaxAge,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
