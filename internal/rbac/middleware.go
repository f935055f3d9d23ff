package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-bim/atlas-bim/internal/platform/httpx"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// GateMetrics observes allow/deny decisions.
type GateMetrics interface {
	ObservePermissionCheck(allowed bool)
}

// Middleware wires authorization gates for HTTP handlers. Denials are
// uniform: the response does not reveal whether a permission exists or is
// merely not granted, and resolution failures deny instead of erroring.
type Middleware struct {
	Resolver  *Resolver
	Repo      RepositoryPort
	Ownership *OwnerRegistry
	Metrics   GateMetrics
	Logger    *slog.Logger
}

func (m Middleware) observe(allowed bool) {
	if m.Metrics != nil {
		m.Metrics.ObservePermissionCheck(allowed)
	}
}

// Require ensures the current user holds the named permission.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return m.RequireAny(perm)
}

// RequireAny ensures the current user has at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			for _, perm := range normalized {
				if m.Resolver.HasPermission(r.Context(), identity.ID, perm) {
					m.observe(true)
					next.ServeHTTP(w, r)
					return
				}
			}
			m.observe(false)
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// RequireAll ensures the current user has every listed permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			answers := m.Resolver.CheckMany(r.Context(), identity.ID, normalized)
			for _, perm := range normalized {
				if !answers[perm] {
					m.observe(false)
					httpx.RespondError(w, httpx.ErrForbidden)
					return
				}
			}
			m.observe(true)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProjectMember authorizes listed members of a project, or holders of
// the view-all permission. The project id is read from the named URL param.
func (m Middleware) RequireProjectMember(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			projectID, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if err != nil {
				httpx.RespondError(w, httpx.ErrValidation)
				return
			}
			if m.Resolver.HasPermission(r.Context(), identity.ID, shared.PermProjectsViewAll) {
				next.ServeHTTP(w, r)
				return
			}
			member, err := m.Repo.IsProjectMember(r.Context(), projectID, identity.ID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("check project membership", slog.Int64("project", projectID), slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			if !member {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner authorizes the creator of the targeted resource, or holders of
// the bypass permission. The resource id is read from the named URL param.
func (m Middleware) RequireOwner(kind ResourceKind, param, bypassPerm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.IdentityFromContext(r.Context())
			if identity == nil {
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
			if bypassPerm != "" && m.Resolver.HasPermission(r.Context(), identity.ID, bypassPerm) {
				next.ServeHTTP(w, r)
				return
			}
			resourceID, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if err != nil {
				httpx.RespondError(w, httpx.ErrValidation)
				return
			}
			ownerID, err := m.Ownership.OwnerID(r.Context(), kind, resourceID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("check resource owner", slog.String("kind", string(kind)), slog.Int64("id", resourceID), slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			if ownerID != identity.ID {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
