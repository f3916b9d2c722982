// Package service contains the business logic of the remote store.
//
//	Handler (HTTP) → Service (rules, events) → Repository (SQL)
//
// Services take repository interfaces, never *sqlite.DB, so tests run
// against in-memory fakes and the handlers stay free of business rules.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
	"github.com/sakif/captured-thinkings/internal/validation"
)

// AuthOptions are the configurable rules of AuthService.
type AuthOptions struct {
	// AllowSignup enables self-service account creation.
	AllowSignup bool
}

// AuthService handles sign-up, sign-in, refresh and sign-out.
//
// A Session is an access/refresh token pair bound to a row in the sessions
// table. Refreshing rotates the pair: the old row is deleted and a new one
// is written, so a refresh token works exactly once.
type AuthService struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	opts      AuthOptions
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		passwords: passwords,
		opts:      opts,
		logger:    logger,
	}
}

// SignUp creates an account and signs it in.
func (s *AuthService) SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	if !s.opts.AllowSignup {
		return nil, apperror.Forbidden("sign-ups are disabled")
	}
	creds.Email = strings.TrimSpace(creds.Email)
	if err := validation.Struct(creds); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(creds.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{Email: creds.Email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

// SignIn exchanges an email/password pair for a Session.
// Unknown emails and wrong passwords both return apperror.InvalidCredentials.
func (s *AuthService) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := validation.Struct(creds); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("sign-in rejected", "reason", "unknown email")
			return nil, apperror.InvalidCredentials()
		}
		return nil, err
	}

	if err := s.passwords.Verify(user.PasswordHash, creds.Password); err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			s.logger.Info("sign-in rejected", "reason", "wrong password", "user_id", user.ID)
		}
		return nil, err
	}

	s.logger.Info("user signed in", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

// Refresh trades a refresh token for a new Session and revokes the old one.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid refresh token")
	}

	sess, err := s.sessions.GetSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("session has been revoked")
		}
		return nil, err
	}
	if sess.UserID != claims.Subject {
		return nil, apperror.Unauthenticated("invalid refresh token")
	}

	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("account no longer exists")
		}
		return nil, err
	}

	if err := s.sessions.DeleteSession(ctx, sess.ID); err != nil {
		return nil, err
	}

	s.logger.Debug("session refreshed", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

// SignOut revokes the refresh session. Access tokens already handed out
// stay valid until they expire.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session revoked", "session_id", sessionID)
	return nil
}

// User returns the account behind an authenticated request.
func (s *AuthService) User(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthenticated("")
	}
	return s.users.GetUserByID(ctx, id)
}

// EnsureAdmin creates the bootstrap account, or resets its password when it
// already exists, so the configured credentials always work.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return err
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.UpdatePassword(ctx, existing.ID, hash); err != nil {
			return err
		}
		s.logger.Info("admin account updated", "user_id", existing.ID)
		return nil
	case errors.Is(err, apperror.ErrNotFound):
		user := &model.User{Email: email, PasswordHash: hash}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return err
		}
		s.logger.Info("admin account created", "user_id", user.ID)
		return nil
	default:
		return err
	}
}

// issueSession writes a new refresh session row and signs the token pair for it.
func (s *AuthService) issueSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sid := xid.New().String()

	refresh, err := s.tokens.IssueRefresh(user.ID, sid)
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(user.ID, sid)
	if err != nil {
		return nil, err
	}

	err = s.sessions.CreateSession(ctx, &repository.RefreshSession{
		ID:        sid,
		UserID:    user.ID,
		ExpiresAt: refresh.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	return &model.Session{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
		ExpiresAt:    access.ExpiresAt,
		User:         *user,
	}, nil
}

// PurgeExpiredSessions deletes refresh sessions past their expiry.
// The server runs it periodically.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions purged", "count", n)
	}
	return n, nil
}
