// Package cli is the poetry command line client: a thin presentation layer
// over the session manager and the poem store.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/config"
	"github.com/sakif/captured-thinkings/internal/poems"
	"github.com/sakif/captured-thinkings/internal/remote"
	"github.com/sakif/captured-thinkings/internal/resilience"
	"github.com/sakif/captured-thinkings/internal/session"
)

var (
	_ poems.Remote      = (*remote.Client)(nil)
	_ poems.Sessions    = (*session.Manager)(nil)
	_ session.Remote    = (*remote.Client)(nil)
	_ resilience.Prober = (*remote.Client)(nil)
)

// App holds the client components for one invocation.
type App struct {
	config  *config.Client
	logger  *slog.Logger
	remote  *remote.Client
	retry   *resilience.Retrier
	session *session.Manager
	store   *poems.Store
}

// NewApp wires the client. The session directory is created if needed and
// a signing key is generated there unless SESSION_SECRET is set.
func NewApp(cfg *config.Client, logger *slog.Logger) (*App, error) {
	dir, err := sessionDir(cfg.SessionDir)
	if err != nil {
		return nil, err
	}
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		if secret, err = session.LoadOrCreateKey(dir); err != nil {
			return nil, err
		}
	}

	rc := remote.New(remote.Options{
		BaseURL: cfg.BackendURL,
		AnonKey: cfg.AnonKey,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	mgr := session.NewManager(rc, session.Options{Dir: dir, Secret: secret}, logger)
	retry := resilience.New(logger)

	return &App{
		config:  cfg,
		logger:  logger,
		remote:  rc,
		retry:   retry,
		session: mgr,
		store:   poems.NewStore(rc, mgr, retry, cfg.CoverBucket, logger),
	}, nil
}

func sessionDir(dir string) (string, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cli: locating config dir: %w", err)
		}
		dir = filepath.Join(base, "captured-thinkings")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cli: creating session dir: %w", err)
	}
	return dir, nil
}

// resume restores the session from the local mirror or the remote store.
// A failed check leaves the viewer anonymous; it is not an error for
// public commands.
func (a *App) resume(ctx context.Context) session.State {
	state, err := a.session.CheckSession(ctx)
	if err != nil {
		a.logger.Warn("session check failed", "error", err)
	}
	return state
}

// enter resumes the session and navigates to route, failing when the
// route guard redirects to the login view.
func (a *App) enter(ctx context.Context, route string) error {
	a.resume(ctx)
	if a.session.Navigate(route) == session.LoginRoute && route != session.LoginRoute {
		return apperror.Unauthenticated("sign in first with: poetry login")
	}
	return nil
}
