// Package servertest runs a complete remote store in-process, backed by an
// in-memory database, for tests of packages that talk to it over HTTP.
package servertest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/realtime"
	sqliteRepo "github.com/sakif/captured-thinkings/internal/repository/sqlite"
	"github.com/sakif/captured-thinkings/internal/server"
	"github.com/sakif/captured-thinkings/internal/storage"
)

const (
	AnonKey     = "servertest-anon-key"
	CoverBucket = "poem-covers"
	jwtSecret   = "servertest-secret-0123456789abcdef"
)

// Backend is a running remote store.
type Backend struct {
	URL    string
	DB     *sqliteRepo.DB
	Broker *realtime.LocalBroker
	Deps   server.Deps

	srv *httptest.Server
}

// Options tweak the backend before it starts.
type Options struct {
	AccessTokenTTL time.Duration
	// Wrap, when set, wraps the router, e.g. to inject failures.
	Wrap func(http.Handler) http.Handler
}

// New starts a backend that is shut down when t finishes.
func New(t testing.TB) *Backend {
	return NewWithOptions(t, Options{})
}

func NewWithOptions(t testing.TB, opts Options) *Backend {
	t.Helper()

	db, err := sqliteRepo.New(":memory:")
	if err != nil {
		t.Fatalf("servertest: opening database: %v", err)
	}

	accessTTL := opts.AccessTokenTTL
	if accessTTL == 0 {
		accessTTL = time.Hour
	}
	tokens, err := auth.NewTokenService(jwtSecret, "servertest", accessTTL, 24*time.Hour)
	if err != nil {
		t.Fatalf("servertest: token service: %v", err)
	}

	b := &Backend{DB: db, Broker: realtime.NewLocalBroker()}

	// The store needs the server URL for public links, which is only known
	// once the listener is up; route through a late-bound handler.
	var router http.Handler
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	b.URL = b.srv.URL

	store, err := storage.NewLocalStore(t.TempDir(), b.URL)
	if err != nil {
		t.Fatalf("servertest: object store: %v", err)
	}

	b.Deps = server.Deps{
		DB:             db,
		Tokens:         tokens,
		Passwords:      auth.NewPasswordServiceForTest(4),
		Broker:         b.Broker,
		Store:          store,
		AnonKey:        AnonKey,
		AllowSignup:    true,
		Buckets:        []string{CoverBucket},
		MaxUploadBytes: 1 << 20,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	router = server.NewRouter(b.Deps)
	if opts.Wrap != nil {
		router = opts.Wrap(router)
	}

	t.Cleanup(func() {
		b.srv.Close()
		db.Close()
	})
	return b
}

// CreateUser adds an account directly, bypassing sign-up.
func (b *Backend) CreateUser(t testing.TB, email, password string) *model.User {
	t.Helper()
	if err := b.Deps.AuthService().EnsureAdmin(context.Background(), email, password); err != nil {
		t.Fatalf("servertest: creating user: %v", err)
	}
	u, err := b.DB.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("servertest: loading user: %v", err)
	}
	return u
}

// SignIn returns a fresh session for an existing account.
func (b *Backend) SignIn(t testing.TB, email, password string) *model.Session {
	t.Helper()
	sess, err := b.Deps.AuthService().SignIn(context.Background(), model.Credentials{Email: email, Password: password})
	if err != nil {
		t.Fatalf("servertest: sign in: %v", err)
	}
	return sess
}

// SeedAuthor owns poems seeded without a UserID.
const SeedAuthor = "seed-author@example.com"

// SeedPoem inserts a poem directly into the database.
func (b *Backend) SeedPoem(t testing.TB, p model.PoemRow) *model.PoemRow {
	t.Helper()
	featured := p.IsFeatured
	if p.UserID == "" {
		u, err := b.DB.GetUserByEmail(context.Background(), SeedAuthor)
		if err != nil {
			u = b.CreateUser(t, SeedAuthor, "seed-author-password")
		}
		p.UserID = u.ID
	}
	if p.Language == "" {
		p.Language = model.English
	}
	if p.CoverImage == "" {
		p.CoverImage = model.DefaultCoverImage
	}
	ctx := context.Background()
	if err := b.DB.CreatePoem(ctx, &p); err != nil {
		t.Fatalf("servertest: seeding poem: %v", err)
	}
	if featured {
		if err := b.DB.SetFeatured(ctx, p.ID, true, model.MaxFeatured); err != nil {
			t.Fatalf("servertest: featuring poem: %v", err)
		}
		p.IsFeatured = true
	}
	return &p
}
