package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-bim/atlas-bim/internal/rbac"
	"github.com/atlas-bim/atlas-bim/internal/sessions"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// memSessionsRepo is an in-memory sessions.RepositoryPort for handler tests.
type memSessionsRepo struct {
	sessions  map[string]*sessions.Session
	createErr error
}

func newMemSessionsRepo() *memSessionsRepo {
	return &memSessionsRepo{sessions: make(map[string]*sessions.Session)}
}

func (m *memSessionsRepo) CreateExclusive(ctx context.Context, s sessions.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.ID != s.ID {
			existing.IsActive = false
		}
	}
	copied := s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memSessionsRepo) FindActive(ctx context.Context, userID int64, sessionID string) (*sessions.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID || !s.IsActive {
		return nil, sessions.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memSessionsRepo) AnyActive(ctx context.Context, userID int64, now time.Time) (*sessions.Session, error) {
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(now) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, sessions.ErrNotFound
}

func (m *memSessionsRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (m *memSessionsRepo) Deactivate(ctx context.Context, userID int64, sessionID string) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID || !s.IsActive {
		return sessions.ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (m *memSessionsRepo) DeactivateOthers(ctx context.Context, userID int64, keepID string) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.ID != keepID {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memSessionsRepo) DeactivateAll(ctx context.Context, userID int64) (int64, error) {
	return m.DeactivateOthers(ctx, userID, "")
}

func (m *memSessionsRepo) ListByUser(ctx context.Context, userID int64) ([]sessions.Session, error) {
	var out []sessions.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessionsRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, s := range m.sessions {
		if s.IsActive && !s.ExpiresAt.After(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

// grantReadPort answers permission lookups from static role grant maps.
type grantReadPort struct {
	userRoles map[int64]int64
	grants    map[int64][]string
}

func (g *grantReadPort) UserRole(ctx context.Context, userID int64) (rbac.Role, error) {
	roleID, ok := g.userRoles[userID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return rbac.Role{ID: roleID, IsActive: true}, nil
}

func (g *grantReadPort) GrantedPermissions(ctx context.Context, roleID int64) ([]string, error) {
	return g.grants[roleID], nil
}

func (g *grantReadPort) UserRoleIDs(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64)
	for _, id := range userIDs {
		if roleID, ok := g.userRoles[id]; ok {
			out[id] = roleID
		}
	}
	return out, nil
}

func (g *grantReadPort) GrantedPermissionSets(ctx context.Context, roleIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	for _, id := range roleIDs {
		out[id] = g.grants[id]
	}
	return out, nil
}

type testStack struct {
	router   http.Handler
	users    *mockUserRepo
	sessions *memSessionsRepo
	grants   *grantReadPort
	resolver *rbac.Resolver
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	users := newMockUserRepo()
	sessionsRepo := newMemSessionsRepo()
	sessionService, err := sessions.NewService(sessionsRepo, testLogger(), "7d")
	require.NoError(t, err)

	grants := &grantReadPort{userRoles: make(map[int64]int64), grants: make(map[int64][]string)}
	resolver := rbac.NewResolver(grants, testLogger(), rbac.ResolverConfig{Batch: rbac.BatchConfig{Disabled: true}})
	t.Cleanup(resolver.Close)
	gate := rbac.Middleware{Resolver: resolver, Logger: testLogger()}

	tokens := NewTokenIssuer("test-secret", "atlas-test", time.Hour)
	service := NewService(users, sessionService, tokens, nil, testLogger())
	handler := NewHandler(testLogger(), service, sessionService, gate)

	authenticator := Authenticator{Tokens: tokens, Sessions: sessionService, Users: users, Logger: testLogger()}

	r := chi.NewRouter()
	r.Use(authenticator.Middleware)
	r.Route("/auth", handler.MountRoutes)

	return &testStack{router: r, users: users, sessions: sessionsRepo, grants: grants, resolver: resolver}
}

func (ts *testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRegisterAndLoginFlow(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "new@atlas.local",
		"name":     "New User",
		"password": "long-enough-pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decodeBody(t, rec)
	assert.NotEmpty(t, registered["token"])

	rec = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "new@atlas.local",
		"password": "long-enough-pw",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loggedIn := decodeBody(t, rec)
	token, _ := loggedIn["token"].(string)
	require.NotEmpty(t, token)
	require.NotEmpty(t, loggedIn["session_id"])

	rec = ts.do(t, http.MethodGet, "/auth/sessions/current", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody(t, rec)
	assert.Equal(t, true, current["is_valid"])
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "not-an-email",
		"name":     "X",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	ts := newTestStack(t)
	adminRoleID := int64(999)
	ts.grants.grants[adminRoleID] = []string{shared.PermPermissionsManage}

	// A role_id in the payload must not grant a higher tier.
	rec := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email":    "sneaky@atlas.local",
		"name":     "Sneaky",
		"password": "long-enough-pw",
		"role_id":  adminRoleID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	registered := decodeBody(t, rec)
	user, ok := registered["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, shared.RoleViewer, user["role"])

	stored, err := ts.users.FindByEmail(context.Background(), "sneaky@atlas.local")
	require.NoError(t, err)
	assert.Equal(t, viewerRoleID, stored.RoleID)
}

func TestLoginFailureIsUniform(t *testing.T) {
	ts := newTestStack(t)
	ts.users.add(User{Email: "user@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})

	recUnknown := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "nobody@atlas.local",
		"password": "whatever",
	})
	recWrong := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "user@atlas.local",
		"password": "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, recUnknown.Code)
	assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
	assert.Equal(t, recUnknown.Body.String(), recWrong.Body.String())
}

func TestLoginStoreFailureIsInternalNotUnauthorized(t *testing.T) {
	ts := newTestStack(t)
	ts.users.add(User{Email: "user@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})
	ts.sessions.createErr = errors.New("connection pool exhausted")

	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "user@atlas.local",
		"password": "correct-horse",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
}

func TestSecondLoginSupersedesFirstToken(t *testing.T) {
	ts := newTestStack(t)
	ts.users.add(User{Email: "user@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})

	login := func() string {
		rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
			"email":    "user@atlas.local",
			"password": "correct-horse",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		token, _ := decodeBody(t, rec)["token"].(string)
		require.NotEmpty(t, token)
		return token
	}

	first := login()
	second := login()

	rec := ts.do(t, http.MethodGet, "/auth/sessions/current", first, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/auth/sessions/current", second, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutEndsCurrentSession(t *testing.T) {
	ts := newTestStack(t)
	ts.users.add(User{Email: "user@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})

	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "user@atlas.local",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decodeBody(t, rec)["token"].(string)

	rec = ts.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/auth/sessions/current", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorLoginOverHTTP(t *testing.T) {
	ts := newTestStack(t)
	secret := totpSecret(t)
	user := ts.users.add(User{Email: "2fa@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true, TOTPSecret: secret})

	rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "2fa@atlas.local",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["require_two_factor"])
	assert.Nil(t, body["token"])

	rec = ts.do(t, http.MethodPost, "/auth/2fa/verify", "", map[string]any{
		"user_id": user.ID,
		"code":    currentCode(t, secret),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decodeBody(t, rec)
	assert.NotEmpty(t, verified["token"])
	assert.NotEmpty(t, verified["session_id"])
}

func TestForceLogoutGatedByPermission(t *testing.T) {
	ts := newTestStack(t)
	admin := ts.users.add(User{Email: "admin@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})
	target := ts.users.add(User{Email: "target@atlas.local", PasswordHash: hashOf(t, "correct-horse"), IsActive: true})

	ts.grants.userRoles[admin.ID] = 1
	ts.grants.userRoles[target.ID] = 2
	ts.grants.grants[1] = []string{shared.PermSessionsManage}

	login := func(email string) string {
		rec := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
			"email":    email,
			"password": "correct-horse",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		token, _ := decodeBody(t, rec)["token"].(string)
		require.NotEmpty(t, token)
		return token
	}

	adminToken := login("admin@atlas.local")
	targetToken := login("target@atlas.local")

	path := fmt.Sprintf("/auth/users/%d/force-logout", target.ID)

	rec := ts.do(t, http.MethodPost, path, targetToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, path, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The target's token no longer resolves to an active session.
	rec = ts.do(t, http.MethodGet, "/auth/sessions/current", targetToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
