package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/model"
)

type authFixture struct {
	svc      *AuthService
	users    *fakeUserRepo
	sessions *fakeSessionRepo
	tokens   *auth.TokenService
}

func newAuthFixture(t *testing.T, opts AuthOptions) authFixture {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "captured-thinkings", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	users := newFakeUserRepo()
	sessions := newFakeSessionRepo()
	// Cost 4 is the bcrypt minimum and keeps tests fast.
	svc := NewAuthService(users, sessions, ts, auth.NewPasswordServiceForTest(4), opts, discardLogger())
	return authFixture{svc: svc, users: users, sessions: sessions, tokens: ts}
}

var adminCreds = model.Credentials{Email: "admin@example.com", Password: "secret-pass"}

func TestSignUp(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{})
		_, err := f.svc.SignUp(context.Background(), adminCreds)
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("creates account and session", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{AllowSignup: true})
		sess, err := f.svc.SignUp(context.Background(), adminCreds)
		require.NoError(t, err)

		assert.Equal(t, "admin@example.com", sess.User.Email)
		assert.NotEmpty(t, sess.User.ID)
		assert.Equal(t, 1, f.sessions.count())

		c, err := f.tokens.ValidateAccess(sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, sess.User.ID, c.Subject)
	})

	t.Run("invalid email", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{AllowSignup: true})
		_, err := f.svc.SignUp(context.Background(), model.Credentials{Email: "not-an-email", Password: "secret-pass"})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("short password", func(t *testing.T) {
		f := newAuthFixture(t, AuthOptions{AllowSignup: true})
		_, err := f.svc.SignUp(context.Background(), model.Credentials{Email: "a@example.com", Password: "abc"})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestSignIn(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))

	tests := []struct {
		name    string
		creds   model.Credentials
		wantErr error
	}{
		{"correct", adminCreds, nil},
		{"wrong password", model.Credentials{Email: adminCreds.Email, Password: "nope-nope"}, apperror.ErrAuth},
		{"unknown email", model.Credentials{Email: "ghost@example.com", Password: "secret-pass"}, apperror.ErrAuth},
		{"missing password", model.Credentials{Email: adminCreds.Email}, apperror.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := f.svc.SignIn(ctx, tt.creds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sess)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, sess.AccessToken)
			assert.NotEmpty(t, sess.RefreshToken)
			assert.Equal(t, "bearer", sess.TokenType)
		})
	}
}

func TestSignIn_InvalidCredentialsCode(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	_, err := f.svc.SignIn(context.Background(), adminCreds)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.CodeInvalidCredentials, appErr.Code)
}

func TestRefresh_Rotates(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))

	first, err := f.svc.SignIn(ctx, adminCreds)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, f.sessions.count(), "old session should be replaced")

	// The first refresh token was consumed.
	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrAuth)
}

func TestRefresh_Rejects(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))
	sess, err := f.svc.SignIn(ctx, adminCreds)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, apperror.ErrAuth)

	_, err = f.svc.Refresh(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrAuth, "access tokens cannot be used to refresh")

	c, _ := f.tokens.ValidateAccess(sess.AccessToken)
	require.NoError(t, f.svc.SignOut(ctx, c.SessionID))

	_, err = f.svc.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrAuth, "signed-out session must not refresh")
}

func TestSignOut_Idempotent(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	assert.NoError(t, f.svc.SignOut(context.Background(), ""))
	assert.NoError(t, f.svc.SignOut(context.Background(), "missing"))
}

func TestEnsureAdmin_ResetsPassword(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, "old-password"))
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))

	_, err := f.svc.SignIn(ctx, adminCreds)
	assert.NoError(t, err)
	_, err = f.svc.SignIn(ctx, model.Credentials{Email: adminCreds.Email, Password: "old-password"})
	assert.ErrorIs(t, err, apperror.ErrAuth)
}

func TestUser(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))
	sess, err := f.svc.SignIn(ctx, adminCreds)
	require.NoError(t, err)

	u, err := f.svc.User(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, adminCreds.Email, u.Email)

	_, err = f.svc.User(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrAuth)
}

func TestPurgeExpiredSessions(t *testing.T) {
	f := newAuthFixture(t, AuthOptions{})
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureAdmin(ctx, adminCreds.Email, adminCreds.Password))
	_, err := f.svc.SignIn(ctx, adminCreds)
	require.NoError(t, err)

	n, err := f.svc.PurgeExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.PurgeExpiredSessions(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
