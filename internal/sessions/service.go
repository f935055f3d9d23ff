package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service wraps session lifecycle rules.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	lifetime time.Duration
	now      func() time.Time
}

// NewService constructs a Service. The lifetime string uses the "7d"/"12h"/
// "30m" format.
func NewService(repo RepositoryPort, logger *slog.Logger, lifetime string) (*Service, error) {
	d, err := ParseLifetime(lifetime)
	if err != nil {
		return nil, err
	}
	return &Service{repo: repo, logger: logger, lifetime: d, now: time.Now}, nil
}

// Lifetime exposes the configured session lifetime.
func (s *Service) Lifetime() time.Duration {
	return s.lifetime
}

// Create opens a new session for the user, superseding every prior active
// one. Deactivation and insert commit in one transaction.
func (s *Service) Create(ctx context.Context, userID int64, dev DeviceContext) (*Session, error) {
	now := s.now().UTC()
	sess := Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		DeviceInfo:     DeviceClass(dev.UserAgent),
		IPAddress:      orUnknown(dev.IPAddress),
		UserAgent:      dev.UserAgent,
		IsActive:       true,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.lifetime),
		CreatedAt:      now,
	}
	if err := s.repo.CreateExclusive(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Validation is the outcome of a session check.
type Validation struct {
	IsValid bool     `json:"is_valid"`
	Session *Session `json:"session,omitempty"`
}

// Validate checks a session. With an empty sessionID the check degrades to
// "any active, non-expired session". Lookup failures degrade to invalid
// rather than erroring.
func (s *Service) Validate(ctx context.Context, userID int64, sessionID string) Validation {
	now := s.now().UTC()
	if sessionID == "" {
		sess, err := s.repo.AnyActive(ctx, userID, now)
		if err != nil {
			s.warnLookup(userID, err)
			return Validation{}
		}
		return Validation{IsValid: true, Session: sess}
	}

	sess, err := s.repo.FindActive(ctx, userID, sessionID)
	if err != nil {
		s.warnLookup(userID, err)
		return Validation{}
	}
	if sess.Expired(now) {
		return Validation{}
	}
	if err := s.repo.Touch(ctx, sess.ID, now); err != nil && s.logger != nil {
		s.logger.Warn("touch session", slog.String("session", sess.ID), slog.Any("error", err))
	}
	sess.LastActivityAt = now
	return Validation{IsValid: true, Session: sess}
}

// DeactivateOthers logs the user out everywhere except the kept session.
func (s *Service) DeactivateOthers(ctx context.Context, userID int64, keepID string) (int64, error) {
	return s.repo.DeactivateOthers(ctx, userID, keepID)
}

// ForceLogout flips every active session of the target user. Authorization
// is the caller's concern.
func (s *Service) ForceLogout(ctx context.Context, userID int64) (int64, error) {
	return s.repo.DeactivateAll(ctx, userID)
}

// LogoutCurrent ends the exact session named by the token's session claim.
func (s *Service) LogoutCurrent(ctx context.Context, userID int64, sessionID string) error {
	if sessionID == "" {
		return ErrNotFound
	}
	return s.repo.Deactivate(ctx, userID, sessionID)
}

// ListForUser returns the user's sessions, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	return s.repo.ListByUser(ctx, userID)
}

// SweepExpired deactivates expired-but-active rows. Called periodically by
// the worker.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.SweepExpired(ctx, s.now().UTC())
}

func (s *Service) warnLookup(userID int64, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	if s.logger != nil {
		s.logger.Warn("session lookup", slog.Int64("user", userID), slog.Any("error", err))
	}
}

func orUnknown(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}
