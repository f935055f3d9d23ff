package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-bim/atlas-bim/internal/sessions"
	"github.com/atlas-bim/atlas-bim/internal/shared"
)

const bcryptCost = 10

// dummyPasswordHash is compared against when no account matches the email,
// so the unknown-email and wrong-password paths cost the same.
var dummyPasswordHash = func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("atlas-timing-pad"), bcryptCost)
	if err != nil {
		panic(err)
	}
	return hash
}()

// SessionPort is the slice of the session manager the auth flow needs.
type SessionPort interface {
	Create(ctx context.Context, userID int64, dev sessions.DeviceContext) (*sessions.Session, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions SessionPort
	tokens   *TokenIssuer
	activity *shared.ActivityLogger
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, sessionPort SessionPort, tokens *TokenIssuer, activity *shared.ActivityLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessionPort, tokens: tokens, activity: activity, logger: logger, now: time.Now}
}

// RegisterInput carries validated registration fields.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// Register creates an account and returns a token. The account always starts
// in the viewer role; anything higher is assigned through the gated user
// administration path. No session is created; sessions exist only after
// login or 2FA verification.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, "", err
	}
	roleID, err := s.repo.RoleIDByCode(ctx, shared.RoleViewer)
	if err != nil {
		return nil, "", err
	}
	user := &User{
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: string(hash),
		RoleID:       roleID,
	}
	id, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, "", err
	}
	created, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	token, err := s.tokens.Issue(created, "")
	if err != nil {
		return nil, "", err
	}
	s.record(created.ID, "user.register", nil)
	return created, token, nil
}

// LoginResult is the outcome of a credential or 2FA check.
type LoginResult struct {
	RequireTwoFactor bool
	UserID           int64
	Token            string
	SessionID        string
	User             *User
}

// Login validates credentials. The error for an unknown email, a wrong
// password and a disabled account is identical. Accounts with a confirmed
// TOTP secret short-circuit without a token or session.
func (s *Service) Login(ctx context.Context, email, password string, dev sessions.DeviceContext) (*LoginResult, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if user.TwoFactorEnabled() {
		return &LoginResult{RequireTwoFactor: true, UserID: user.ID}, nil
	}
	return s.completeLogin(ctx, user, dev)
}

// VerifyTwoFactor finishes a 2FA login with a current TOTP code.
func (s *Service) VerifyTwoFactor(ctx context.Context, userID int64, code string, dev sessions.DeviceContext) (*LoginResult, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive || !user.TwoFactorEnabled() {
		return nil, shared.ErrInvalidCredentials
	}
	if !validateTOTP(user.TOTPSecret, code) {
		return nil, shared.ErrInvalidTwoFactorCode
	}
	return s.completeLogin(ctx, user, dev)
}

func (s *Service) completeLogin(ctx context.Context, user *User, dev sessions.DeviceContext) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, user.ID, dev)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(user, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil && s.logger != nil {
		s.logger.Warn("update last login", slog.Int64("user", user.ID), slog.Any("error", err))
	}
	s.record(user.ID, "user.login", map[string]any{"session": sess.ID, "ip": sess.IPAddress})
	return &LoginResult{UserID: user.ID, Token: token, SessionID: sess.ID, User: user}, nil
}

// TwoFactorSetup holds a freshly generated, not yet persisted secret.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// SetupTwoFactor generates a secret and provisioning URI without mutating
// any state.
func (s *Service) SetupTwoFactor(ctx context.Context, userID int64) (*TwoFactorSetup, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, uri, err := generateTOTPSecret(user.Email)
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: secret, URI: uri}, nil
}

// EnableTwoFactor persists the secret once the caller proves possession of
// it with one valid code.
func (s *Service) EnableTwoFactor(ctx context.Context, userID int64, secret, code string) error {
	if secret == "" || !validateTOTP(secret, code) {
		return shared.ErrInvalidTwoFactorCode
	}
	if err := s.repo.SetTOTPSecret(ctx, userID, secret); err != nil {
		return err
	}
	s.record(userID, "user.2fa_enable", nil)
	return nil
}

// DisableTwoFactor clears the secret after re-verifying a current code.
func (s *Service) DisableTwoFactor(ctx context.Context, userID int64, code string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled() {
		return nil
	}
	if !validateTOTP(user.TOTPSecret, code) {
		return shared.ErrInvalidTwoFactorCode
	}
	if err := s.repo.SetTOTPSecret(ctx, userID, ""); err != nil {
		return err
	}
	s.record(userID, "user.2fa_disable", nil)
	return nil
}

func (s *Service) record(userID int64, action string, meta map[string]any) {
	if s.activity == nil {
		return
	}
	s.activity.RecordAsync(shared.ActivityEntry{
		ActorID:  userID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
}
