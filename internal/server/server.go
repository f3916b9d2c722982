// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects the database, services,
// handlers and middleware, and decides which URL maps to which handler.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Server → Server.New() creates:
//	  sqlite.DB ─┬→ AuthService ─────────→ AuthHandler
//	             ├→ PoemService ─────────→ PoemHandler
//	             └→ InteractionService ──→ InteractionHandler
//	  Broker (local or redis) → services (publish) and realtime.Handler (subscribe)
//	  ObjectStore (local or minio) → StorageHandler
//
// NewRouter is the composition root for HTTP; tests call it directly with
// an in-memory database instead of going through New.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/config"
	"github.com/sakif/captured-thinkings/internal/handler"
	"github.com/sakif/captured-thinkings/internal/middleware"
	"github.com/sakif/captured-thinkings/internal/realtime"
	sqliteRepo "github.com/sakif/captured-thinkings/internal/repository/sqlite"
	"github.com/sakif/captured-thinkings/internal/service"
	"github.com/sakif/captured-thinkings/internal/storage"
)

// tokenIssuer is the "iss" claim of every token this server signs.
const tokenIssuer = "captured-thinkings"

// sessionPurgeInterval is how often expired refresh sessions are removed.
const sessionPurgeInterval = time.Hour

// Deps are the collaborators NewRouter wires into handlers.
type Deps struct {
	DB             *sqliteRepo.DB
	Tokens         *auth.TokenService
	Passwords      *auth.PasswordService
	Broker         realtime.Broker
	Store          storage.ObjectStore
	AnonKey        string
	AllowSignup    bool
	Buckets        []string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// AuthService builds the auth service over d's database.
func (d Deps) AuthService() *service.AuthService {
	return service.NewAuthService(d.DB, d.DB, d.Tokens, d.Passwords,
		service.AuthOptions{AllowSignup: d.AllowSignup}, d.Logger)
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database and, when configured, the Redis client.
// Both are closed in Start during graceful shutdown.
type Server struct {
	router http.Handler
	config *config.Server
	logger *slog.Logger
	db     *sqliteRepo.DB
	rdb    *redis.Client
	auth   *service.AuthService

	// cancel stops background work (redis subscription, session purge).
	ctx    context.Context
	cancel context.CancelFunc
}

// New opens every backing resource named by cfg and wires the router.
// On error, whatever was already opened is closed again.
func New(cfg *config.Server, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, tokenIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{config: cfg, logger: logger, db: db, ctx: ctx, cancel: cancel}

	broker, err := s.newBroker(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	store, err := newObjectStore(cfg)
	if err != nil {
		s.close()
		return nil, err
	}

	deps := Deps{
		DB:             db,
		Tokens:         tokens,
		Passwords:      auth.NewPasswordService(),
		Broker:         broker,
		Store:          store,
		AnonKey:        cfg.AnonKey,
		AllowSignup:    cfg.AllowSignup,
		Buckets:        cfg.StorageBuckets,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
	}
	s.auth = deps.AuthService()

	if cfg.AdminEmail != "" {
		if err := s.auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			s.close()
			return nil, fmt.Errorf("bootstrapping admin account: %w", err)
		}
		logger.Info("admin account ready", slog.String("email", cfg.AdminEmail))
	}

	s.router = NewRouter(deps)
	return s, nil
}

// newBroker picks the Redis bridge when REDIS_URL is set, otherwise the
// in-process broker.
func (s *Server) newBroker(ctx context.Context) (realtime.Broker, error) {
	if s.config.RedisURL == "" {
		return realtime.NewLocalBroker(), nil
	}

	opts, err := redis.ParseURL(s.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	s.rdb = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	broker := realtime.NewRedisBroker(s.rdb, s.logger)
	if err := broker.Start(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("realtime bridged through redis", slog.String("addr", opts.Addr))
	return broker, nil
}

func newObjectStore(cfg *config.Server) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		return storage.NewLocalStore(cfg.StorageDir, cfg.PublicURL)
	}
	return storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	}, cfg.PublicURL, cfg.StorageBuckets)
}

// NewRouter configures all middleware and routes.
//
// ROUTE STRUCTURE:
//
//	GET    /health                              open
//	GET    /metrics                             open
//	POST   /auth/v1/signup                      api key
//	POST   /auth/v1/token?grant_type=...        api key
//	POST   /auth/v1/logout                      api key + session
//	GET    /auth/v1/user                        api key + session
//	GET    /rest/v1/poems[?listed=]             api key
//	GET    /rest/v1/poems/count                 api key
//	GET    /rest/v1/poems/{id}                  api key
//	POST   /rest/v1/poems                       api key + session
//	PATCH  /rest/v1/poems/{id}                  api key + session
//	DELETE /rest/v1/poems/{id}                  api key + session
//	POST   /rest/v1/poem_likes                  api key + session
//	DELETE /rest/v1/poem_likes?poem_id=         api key + session
//	POST   /rest/v1/poem_comments               api key + session
//	DELETE /rest/v1/poem_comments/{id}          api key + session
//	GET    /realtime/v1/websocket               api key
//	POST   /storage/v1/object/{bucket}/*        api key + session
//	GET    /storage/v1/object/public/{bucket}/* api key
//
// MIDDLEWARE ORDER MATTERS: RequestID must run before Logger so the log
// line carries the id; Recoverer sits inside Logger so a panic is logged
// as a 500.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handler.HandleHealth(d.DB))
	r.Handle("/metrics", promhttp.Handler())

	poemSvc := service.NewPoemService(d.DB, d.DB, d.DB, d.Broker, d.Logger)
	interactionSvc := service.NewInteractionService(d.DB, d.DB, d.DB, d.Broker, d.Logger)

	authHandler := handler.NewAuthHandler(d.AuthService(), d.Logger)
	poemHandler := handler.NewPoemHandler(poemSvc, d.Logger)
	interactionHandler := handler.NewInteractionHandler(interactionSvc, d.Logger)
	storageHandler := handler.NewStorageHandler(d.Store, d.Buckets, d.MaxUploadBytes, d.Logger)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAPIKey(d.AnonKey))
		r.Use(auth.Authenticate(d.Tokens, d.AnonKey))

		r.Route("/auth/v1", func(r chi.Router) {
			r.Post("/signup", authHandler.HandleSignUp)
			r.Post("/token", authHandler.HandleToken)
			r.With(auth.RequireAuth).Post("/logout", authHandler.HandleLogout)
			r.With(auth.RequireAuth).Get("/user", authHandler.HandleUser)
		})

		r.Route("/rest/v1", func(r chi.Router) {
			r.Get("/poems", poemHandler.HandleList)
			r.Get("/poems/count", poemHandler.HandleCount)
			r.Get("/poems/{id}", poemHandler.HandleGet)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/poems", poemHandler.HandleCreate)
				r.Patch("/poems/{id}", poemHandler.HandleUpdate)
				r.Delete("/poems/{id}", poemHandler.HandleDelete)

				r.Post("/poem_likes", interactionHandler.HandleLike)
				r.Delete("/poem_likes", interactionHandler.HandleUnlike)
				r.Post("/poem_comments", interactionHandler.HandleAddComment)
				r.Delete("/poem_comments/{id}", interactionHandler.HandleDeleteComment)
			})
		})

		r.Handle("/realtime/v1/websocket", realtime.NewHandler(d.Broker, d.Logger))

		r.Route("/storage/v1/object", func(r chi.Router) {
			r.Get("/public/{bucket}/*", storageHandler.HandleServe)
			r.With(auth.RequireAuth).Post("/{bucket}/*", storageHandler.HandleUpload)
		})
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// purgeSessions removes expired refresh sessions until ctx is cancelled.
func (s *Server) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.auth.PurgeExpiredSessions(ctx, now)
			if err != nil {
				s.logger.Warn("purging expired sessions", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", slog.Int64("count", n))
			}
		}
	}
}

func (s *Server) close() {
	s.cancel()
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop background work, close Redis and the database
//
// Websocket connections are hijacked, so Shutdown does not wait for them;
// they end when the process exits.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.purgeSessions(s.ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
