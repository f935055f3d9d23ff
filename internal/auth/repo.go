package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, user *User) (int64, error)
	RoleIDByCode(ctx context.Context, code string) (int64, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	SetTOTPSecret(ctx context.Context, userID int64, secret string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `u.id, u.email, u.name, u.password_hash, u.role_id, ur.code, u.is_active, COALESCE(u.totp_secret, ''), u.last_login_at, u.created_at, u.updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u JOIN user_roles ur ON ur.id = u.role_id WHERE u.email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users u JOIN user_roles ur ON ur.id = u.role_id WHERE u.id = $1`, id)
	return scanUser(row)
}

// Create inserts a new user. A duplicate email maps to ErrDuplicateEmail.
func (r *PGRepository) Create(ctx context.Context, user *User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		RETURNING id`,
		user.Email, user.Name, user.PasswordHash, user.RoleID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrDuplicateEmail
		}
		return 0, err
	}
	return id, nil
}

// RoleIDByCode resolves an active role's id by its code.
func (r *PGRepository) RoleIDByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM user_roles WHERE code = $1 AND is_active`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// UpdateLastLogin stamps the last successful login.
func (r *PGRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, userID, at)
	return err
}

// SetTOTPSecret stores the confirmed secret, or clears it when empty.
func (r *PGRepository) SetTOTPSecret(ctx context.Context, userID int64, secret string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET totp_secret = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`, userID, secret)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.RoleID, &user.RoleCode, &user.IsActive, &user.TOTPSecret, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
