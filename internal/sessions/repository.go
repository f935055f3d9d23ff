package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-bim/atlas-bim/internal/platform/db"
)

// ErrNotFound indicates no matching session row.
var ErrNotFound = errors.New("sessions: not found")

// RepositoryPort defines persistence operations for sessions.
type RepositoryPort interface {
	CreateExclusive(ctx context.Context, s Session) error
	FindActive(ctx context.Context, userID int64, sessionID string) (*Session, error)
	AnyActive(ctx context.Context, userID int64, now time.Time) (*Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Deactivate(ctx context.Context, userID int64, sessionID string) error
	DeactivateOthers(ctx context.Context, userID int64, keepID string) (int64, error)
	DeactivateAll(ctx context.Context, userID int64) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]Session, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, user_id, device_info, ip_address, user_agent, is_active, last_activity_at, expires_at, created_at`

// CreateExclusive deactivates every other active session of the user and
// inserts the new one in a single transaction, so the at-most-one-active
// invariant holds even if the process dies mid-way.
func (r *Repository) CreateExclusive(ctx context.Context, s Session) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active AND id <> $2`, s.UserID, s.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO user_sessions (id, user_id, device_info, ip_address, user_agent, is_active, last_activity_at, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8)`,
			s.ID, s.UserID, s.DeviceInfo, s.IPAddress, s.UserAgent, s.LastActivityAt, s.ExpiresAt, s.CreatedAt)
		return err
	})
}

// FindActive returns the active session matching (user, id). Expiry is the
// caller's concern; the is_active flag alone is matched here.
func (r *Repository) FindActive(ctx context.Context, userID int64, sessionID string) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 AND id = $2 AND is_active`, userID, sessionID)
	return scanSession(row)
}

// AnyActive returns any active, non-expired session of the user.
func (r *Repository) AnyActive(ctx context.Context, userID int64, now time.Time) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 AND is_active AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`, userID, now)
	return scanSession(row)
}

// Touch updates the last-activity timestamp.
func (r *Repository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_sessions SET last_activity_at = $2 WHERE id = $1`, sessionID, at)
	return err
}

// Deactivate flips one exact session to inactive.
func (r *Repository) Deactivate(ctx context.Context, userID int64, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND id = $2 AND is_active`, userID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateOthers flips every active session of the user except the kept one.
func (r *Repository) DeactivateOthers(ctx context.Context, userID int64, keepID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active AND id <> $2`, userID, keepID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeactivateAll flips every active session of the user.
func (r *Repository) DeactivateAll(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns the user's sessions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceInfo, &s.IPAddress, &s.UserAgent, &s.IsActive, &s.LastActivityAt, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// SweepExpired flips expired-but-active rows to inactive.
func (r *Repository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_sessions SET is_active = FALSE WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.UserID, &s.DeviceInfo, &s.IPAddress, &s.UserAgent, &s.IsActive, &s.LastActivityAt, &s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

var _ RepositoryPort = (*Repository)(nil)
