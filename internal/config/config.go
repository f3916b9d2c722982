// Package config loads settings for both programs from the environment.
//
// Values come from, in order of precedence: process environment, a .env
// file in the working directory (if any), then the defaults below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Server configures cmd/server, the remote store.
type Server struct {
	Env       string `mapstructure:"APP_ENV"`
	Port      int    `mapstructure:"PORT"`
	PublicURL string `mapstructure:"PUBLIC_URL"`
	DBPath    string `mapstructure:"DB_PATH"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	AnonKey         string        `mapstructure:"ANON_KEY"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	AllowSignup     bool          `mapstructure:"ALLOW_SIGNUP"`
	AdminEmail      string        `mapstructure:"ADMIN_EMAIL"`
	AdminPassword   string        `mapstructure:"ADMIN_PASSWORD"`

	// RedisURL enables the multi-instance realtime bridge when set.
	RedisURL string `mapstructure:"REDIS_URL"`

	// Objects go to MinIO when MinioEndpoint is set, else under StorageDir.
	StorageDir     string   `mapstructure:"STORAGE_DIR"`
	StorageBuckets []string `mapstructure:"STORAGE_BUCKETS"`
	MaxUploadMB    int64    `mapstructure:"MAX_UPLOAD_MB"`
	MinioEndpoint  string   `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string   `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string   `mapstructure:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool     `mapstructure:"MINIO_USE_SSL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Client configures cmd/poetry, the synchronization client.
type Client struct {
	BackendURL     string        `mapstructure:"BACKEND_URL"`
	AnonKey        string        `mapstructure:"BACKEND_ANON_KEY"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SessionDir     string        `mapstructure:"SESSION_DIR"`
	SessionSecret  string        `mapstructure:"SESSION_SECRET"`
	CoverBucket    string        `mapstructure:"COVER_BUCKET"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

const defaultJWTSecret = "dev-secret-change-me-in-production"

// LoadServer reads and validates the server configuration.
func LoadServer() (*Server, error) {
	v := newViper()
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", 8080)
	v.SetDefault("PUBLIC_URL", "")
	v.SetDefault("DB_PATH", "captured-thinkings.db")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("ANON_KEY", "")
	v.SetDefault("ACCESS_TOKEN_TTL", time.Hour)
	v.SetDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("ALLOW_SIGNUP", true)
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORAGE_DIR", "uploads")
	v.SetDefault("STORAGE_BUCKETS", []string{"poem-covers"})
	v.SetDefault("MAX_UPLOAD_MB", 5)
	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode server config: %w", err)
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid server configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required values. Production gets stricter secret rules.
func (c *Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Port)
	}
	if c.AnonKey == "" {
		return errors.New("ANON_KEY is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if len(c.StorageBuckets) == 0 {
		return errors.New("STORAGE_BUCKETS must name at least one bucket")
	}
	if c.MaxUploadMB <= 0 {
		return errors.New("MAX_UPLOAD_MB must be positive")
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
	}
	return nil
}

func (c *Server) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Server) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// LoadClient reads and validates the client configuration. It fails fast
// when the backend URL or anon key is missing.
func LoadClient() (*Client, error) {
	v := newViper()
	v.SetDefault("BACKEND_URL", "")
	v.SetDefault("BACKEND_ANON_KEY", "")
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	v.SetDefault("SESSION_DIR", "")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("COVER_BUCKET", "poem-covers")
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("LOG_FORMAT", "text")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode client config: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid client configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Client) Validate() error {
	var missing []string
	if c.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}
	if c.AnonKey == "" {
		missing = append(missing, "BACKEND_ANON_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return errors.New("BACKEND_URL must be an http(s) URL")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// newViper returns an isolated viper that reads the environment, after
// loading .env if present. Variables already set in the environment win.
func newViper() *viper.Viper {
	_ = godotenv.Load()
	v := viper.New()
	v.AutomaticEnv()
	return v
}
