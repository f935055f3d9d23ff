package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atlas-bim/atlas-bim/internal/platform/httpx"
	"github.com/atlas-bim/atlas-bim/internal/sessions"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// SessionValidator is the session check consumed by the bearer middleware.
type SessionValidator interface {
	Validate(ctx context.Context, userID int64, sessionID string) sessions.Validation
}

// Authenticator turns bearer tokens into request identities.
type Authenticator struct {
	Tokens   *TokenIssuer
	Sessions SessionValidator
	Users    Repository
	Logger   *slog.Logger
}

// Middleware parses the Authorization header, verifies the token and, when
// the token names a session, checks that the session is still the user's
// active one. A superseded session yields 401 even with a valid signature.
func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.Tokens.Parse(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		if claims.SessionID != "" && a.Sessions != nil {
			if v := a.Sessions.Validate(r.Context(), userID, claims.SessionID); !v.IsValid {
				if a.Logger != nil {
					a.Logger.Debug("stale session token", slog.Int64("user", userID), slog.String("session", claims.SessionID))
				}
				httpx.RespondError(w, httpx.ErrUnauthenticated)
				return
			}
		}
		user, err := a.Users.FindByID(r.Context(), userID)
		if err != nil || !user.IsActive {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		identity := &shared.Identity{
			ID:        user.ID,
			Email:     user.Email,
			RoleID:    user.RoleID,
			RoleCode:  user.RoleCode,
			SessionID: claims.SessionID,
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequireIdentity rejects requests with no authenticated identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.IdentityFromContext(r.Context()) == nil {
			httpx.RespondError(w, httpx.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
