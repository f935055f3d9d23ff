package sessions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session // by id

	createErr error
	findErr   error
	touchErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{sessions: make(map[string]*Session)}
}

func (m *mockRepository) activeFor(userID int64) []*Session {
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockRepository) CreateExclusive(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *mockRepository) FindActive(ctx context.Context, userID int64, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID || !s.IsActive {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockRepository) AnyActive(ctx context.Context, userID int64, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(now) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (m *mockRepository) Deactivate(ctx context.Context, userID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID || !s.IsActive {
		return ErrNotFound
	}
	s.IsActive = false
	return nil
}

func (m *mockRepository) DeactivateOthers(ctx context.Context, userID int64, keepID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.ID != keepID {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) DeactivateAll(ctx context.Context, userID int64) (int64, error) {
	return m.DeactivateOthers(ctx, userID, "")
}

func (m *mockRepository) ListByUser(ctx context.Context, userID int64) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive && !s.ExpiresAt.After(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, repo RepositoryPort, lifetime string) *Service {
	t.Helper()
	svc, err := NewService(repo, testLogger(), lifetime)
	require.NoError(t, err)
	return svc
}

func TestCreateSupersedesPriorSessions(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, DeviceContext{UserAgent: "Mozilla/5.0 (Windows NT 10.0)"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, 1, DeviceContext{UserAgent: "Mozilla/5.0 (iPhone; Mobile)"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	active := repo.activeFor(1)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestCreatePopulatesDeviceMetadata(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")

	sess, err := svc.Create(context.Background(), 1, DeviceContext{
		IPAddress: "203.0.113.9",
		UserAgent: "Mozilla/5.0 (iPhone; Mobile)",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mobile", sess.DeviceInfo)
	assert.Equal(t, "203.0.113.9", sess.IPAddress)
	assert.True(t, sess.IsActive)
	assert.Equal(t, sess.CreatedAt.Add(7*24*time.Hour), sess.ExpiresAt)
}

func TestCreateUnknownIPFallback(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")

	sess, err := svc.Create(context.Background(), 1, DeviceContext{})
	require.NoError(t, err)
	assert.Equal(t, "unknown", sess.IPAddress)
}

func TestCreateDistinctUsersKeepSessions(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, DeviceContext{})
	require.NoError(t, err)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.activeFor(1), 1)
	assert.Len(t, repo.activeFor(2), 1)
}

func TestValidateExactSession(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	sess, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	v := svc.Validate(ctx, 1, sess.ID)
	require.True(t, v.IsValid)
	assert.Equal(t, sess.ID, v.Session.ID)

	v = svc.Validate(ctx, 1, "missing-id")
	assert.False(t, v.IsValid)
}

func TestValidateAnyActiveFallback(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	v := svc.Validate(ctx, 1, "")
	assert.False(t, v.IsValid)

	_, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	v = svc.Validate(ctx, 1, "")
	assert.True(t, v.IsValid)
}

func TestValidateExpiredSessionPassively(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "30m")
	ctx := context.Background()

	sess, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	// Advance the clock beyond the lifetime; the row stays active in the
	// store until a sweep runs, but validation already rejects it.
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	v := svc.Validate(ctx, 1, sess.ID)
	assert.False(t, v.IsValid)

	repo.mu.Lock()
	assert.True(t, repo.sessions[sess.ID].IsActive)
	repo.mu.Unlock()
}

func TestValidateTouchesActivity(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	sess, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	later := sess.LastActivityAt.Add(10 * time.Minute)
	svc.now = func() time.Time { return later }

	v := svc.Validate(ctx, 1, sess.ID)
	require.True(t, v.IsValid)
	assert.Equal(t, later, v.Session.LastActivityAt)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, later, repo.sessions[sess.ID].LastActivityAt)
}

func TestValidateLookupErrorDegradesToInvalid(t *testing.T) {
	repo := newMockRepository()
	repo.findErr = errors.New("db down")
	svc := newTestService(t, repo, "7d")

	v := svc.Validate(context.Background(), 1, "some-id")
	assert.False(t, v.IsValid)
}

func TestLogoutCurrent(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	sess, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutCurrent(ctx, 1, sess.ID))
	assert.False(t, svc.Validate(ctx, 1, sess.ID).IsValid)

	assert.ErrorIs(t, svc.LogoutCurrent(ctx, 1, ""), ErrNotFound)
}

func TestForceLogout(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "7d")
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	n, err := svc.ForceLogout(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.activeFor(1))
}

func TestSweepExpired(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(t, repo, "30m")
	ctx := context.Background()

	sess, err := svc.Create(ctx, 1, DeviceContext{})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.False(t, repo.sessions[sess.ID].IsActive)
}

func TestNewServiceRejectsBadLifetime(t *testing.T) {
	_, err := NewService(newMockRepository(), testLogger(), "forever")
	assert.ErrorIs(t, err, ErrBadLifetime)
}
