package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
)

// SignIn exchanges credentials for a session and installs it.
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	var sess model.Session
	err := c.doJSON(ctx, "sign_in", http.MethodPost, "/auth/v1/token?grant_type=password",
		model.Credentials{Email: email, Password: password}, &sess)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, err
	}
	c.SetSession(&sess)
	return c.Session(), nil
}

// SignOut revokes the session remotely and forgets it locally. The local
// session is dropped even when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Session() == nil {
		return nil
	}
	err := c.doJSON(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, nil)
	c.SetSession(nil)
	return err
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshSession trades the refresh token for a new session. It returns
// (nil, nil) when there is no session to refresh. On an auth error the
// local session is cleared.
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	cur := c.Session()
	if cur == nil {
		return nil, nil
	}

	var sess model.Session
	err := c.doJSON(ctx, "refresh_session", http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		refreshRequest{RefreshToken: cur.RefreshToken}, &sess)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			c.SetSession(nil)
		}
		return nil, err
	}
	c.SetSession(&sess)
	return c.Session(), nil
}

// GetSession returns the current session after confirming it with the
// remote store, refreshing first if the access token has expired. It
// returns (nil, nil) when there is no usable session.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	sess := c.Session()
	if sess == nil {
		return nil, nil
	}

	if sess.Expired(timeNow()) {
		refreshed, err := c.RefreshSession(ctx)
		if err != nil {
			if errors.Is(err, apperror.ErrAuth) {
				return nil, nil
			}
			return nil, err
		}
		sess = refreshed
	}

	var user model.User
	if err := c.doJSON(ctx, "get_session", http.MethodGet, "/auth/v1/user", nil, &user); err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			c.SetSession(nil)
			return nil, nil
		}
		return nil, err
	}
	sess.User = user
	c.SetSession(sess)
	return sess, nil
}
