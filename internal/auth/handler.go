package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-bim/atlas-bim/internal/platform/httpx"
	"github.com/atlas-bim/atlas-bim/internal/rbac"
	"github.com/atlas-bim/atlas-bim/internal/sessions"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// Handler wires HTTP endpoints for authentication and session management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  *sessions.Service
	gate      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessionService *sessions.Service, gate rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessionService,
		gate:      gate,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/2fa/verify", h.verifyTwoFactor)

	r.Group(func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/logout", h.logout)
		r.Post("/2fa/setup", h.setupTwoFactor)
		r.Post("/2fa/enable", h.enableTwoFactor)
		r.Post("/2fa/disable", h.disableTwoFactor)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/current", h.currentSession)
		r.Post("/sessions/logout-others", h.logoutOthers)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermSessionsManage))
		r.Post("/users/{userID}/force-logout", h.forceLogout)
	})
}

// registerRequest deliberately has no role field: registration always lands
// in the viewer role, role changes go through the gated user administration.
type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	user, token, err := h.service.Register(r.Context(), RegisterInput{
		Email:    body.Email,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateEmail) {
			httpx.RespondError(w, httpx.ErrDuplicate)
			return
		}
		h.logger.Error("register", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userView(user),
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.Login(r.Context(), body.Email, body.Password, sessions.DeviceContextFromRequest(r))
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthenticated", "invalid credentials")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if result.RequireTwoFactor {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"require_two_factor": true,
			"user_id":            result.UserID,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"session_id": result.SessionID,
		"user":       userView(result.User),
	})
}

type verifyTwoFactorRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Code   string `json:"code" validate:"required,len=6"`
}

func (h *Handler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var body verifyTwoFactorRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	result, err := h.service.VerifyTwoFactor(r.Context(), body.UserID, body.Code, sessions.DeviceContextFromRequest(r))
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) || errors.Is(err, shared.ErrInvalidTwoFactorCode) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthenticated", "invalid code")
			return
		}
		h.logger.Error("verify 2fa", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"session_id": result.SessionID,
		"user":       userView(result.User),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity.SessionID == "" {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.sessions.LogoutCurrent(r.Context(), identity.ID, identity.SessionID); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *Handler) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	setup, err := h.service.SetupTwoFactor(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("setup 2fa", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, setup)
}

type enableTwoFactorRequest struct {
	Secret string `json:"secret" validate:"required"`
	Code   string `json:"code" validate:"required,len=6"`
}

func (h *Handler) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	var body enableTwoFactorRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.service.EnableTwoFactor(r.Context(), identity.ID, body.Secret, body.Code); err != nil {
		if errors.Is(err, shared.ErrInvalidTwoFactorCode) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid code")
			return
		}
		h.logger.Error("enable 2fa", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"enabled": true})
}

type disableTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

func (h *Handler) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	var body disableTwoFactorRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.service.DisableTwoFactor(r.Context(), identity.ID, body.Code); err != nil {
		if errors.Is(err, shared.ErrInvalidTwoFactorCode) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid code")
			return
		}
		h.logger.Error("disable 2fa", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"disabled": true})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	list, err := h.sessions.ListForUser(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("list sessions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, h.sessions.Validate(r.Context(), identity.ID, identity.SessionID))
}

func (h *Handler) logoutOthers(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	count, err := h.sessions.DeactivateOthers(r.Context(), identity.ID, identity.SessionID)
	if err != nil {
		h.logger.Error("logout others", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": count})
}

func (h *Handler) forceLogout(w http.ResponseWriter, r *http.Request) {
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	count, err := h.sessions.ForceLogout(r.Context(), targetID)
	if err != nil {
		h.logger.Error("force logout", slog.Int64("target", targetID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deactivated": count})
}

func userView(user *User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.RoleCode,
	}
}
