package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/atlas-bim/atlas-bim/internal/platform/httpx"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// localized display names follow the Accept-Language header; the catalog
// carries English plus one localized variant.
var displayMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.German,
})

// Handler exposes the matrix administration API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate Middleware) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers permission administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermPermissionsView))
		r.Get("/", h.listPermissions)
		r.Get("/roles", h.listRoles)
		r.Get("/matrix", h.getMatrix)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(shared.PermPermissionsManage))
		r.Put("/matrix", h.updateMatrix)
		r.Post("/grant", h.grant)
		r.Post("/revoke", h.revoke)
		r.Delete("/cache", h.clearCache)
		r.Get("/cache/metrics", h.cacheMetrics)
		r.Post("/cache/metrics/reset", h.resetCacheMetrics)
	})
}

type permissionView struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	IsActive bool   `json:"is_active"`
}

type roleView struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	localized := preferLocal(r)
	views := make([]permissionView, len(perms))
	for i, p := range perms {
		name := p.Name
		if localized && p.NameLocal != "" {
			name = p.NameLocal
		}
		views[i] = permissionView{ID: p.ID, Code: p.Code, Name: name, Category: p.Category, IsActive: p.IsActive}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": views})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	localized := preferLocal(r)
	views := make([]roleView, len(roles))
	for i, role := range roles {
		name := role.Name
		if localized && role.NameLocal != "" {
			name = role.NameLocal
		}
		views[i] = roleView{ID: role.ID, Code: role.Code, Name: name, Color: role.Color, IsActive: role.IsActive}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

func (h *Handler) getMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.service.Matrix(r.Context())
	if err != nil {
		h.logger.Error("build matrix", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	roles := make([]string, len(matrix.Roles))
	for i, role := range matrix.Roles {
		roles[i] = role.Code
	}
	perms := make([]string, len(matrix.Permissions))
	for i, perm := range matrix.Permissions {
		perms[i] = perm.Code
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":       roles,
		"permissions": perms,
		"matrix":      matrix.Cells,
	})
}

func (h *Handler) updateMatrix(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	var body struct {
		Updates []MatrixUpdate `json:"updates"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.service.UpdateMatrix(r.Context(), body.Updates, identity.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("update matrix", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": len(body.Updates)})
}

type grantRequest struct {
	UserID     int64  `json:"user_id"`
	Permission string `json:"permission"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.writeGrant(w, r, true)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.writeGrant(w, r, false)
}

func (h *Handler) writeGrant(w http.ResponseWriter, r *http.Request, granted bool) {
	identity := shared.IdentityFromContext(r.Context())
	var body grantRequest
	if err := httpx.DecodeJSON(r, &body); err != nil || body.UserID == 0 || body.Permission == "" {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var err error
	if granted {
		err = h.service.Grant(r.Context(), body.UserID, body.Permission, identity.ID)
	} else {
		err = h.service.Revoke(r.Context(), body.UserID, body.Permission, identity.ID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("write grant", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if raw := r.URL.Query().Get("user"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		userID = parsed
	}
	h.service.ClearCache(r.Context(), userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) cacheMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.resolver.CacheMetrics())
}

func (h *Handler) resetCacheMetrics(w http.ResponseWriter, r *http.Request) {
	h.service.resolver.ResetCacheMetrics()
	httpx.JSON(w, http.StatusOK, map[string]any{"reset": true})
}

// preferLocal reports whether the request prefers the localized display name.
func preferLocal(r *http.Request) bool {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return false
	}
	_, index, _ := displayMatcher.Match(tags...)
	return index == 1
}
