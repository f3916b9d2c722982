package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/captured-thinkings/internal/model"
)

const (
	mirrorFile   = "session.jwt"
	activityFile = "last_activity"
	keyFile      = "mirror.key"

	// MirrorTTL is how long the local session mirror stays fresh.
	MirrorTTL = time.Hour
)

// mirrorClaims carries the whole session inside a signed token.
type mirrorClaims struct {
	jwt.RegisteredClaims
	Session model.Session `json:"session"`
}

// Mirror is the on-disk copy of the session: an HS256-signed token that
// expires MirrorTTL after it was written. Tampered files fail verification
// and are treated as absent.
//
// WHY TRUST A FRESH MIRROR WITHOUT ASKING THE SERVER?
// Every CLI invocation starts a new process. Asking the remote store for
// the session each time would add a round trip to every command. Within
// MirrorTTL the signed copy is used as is; after that it is only a hint,
// and CheckSession goes to the remote store. The signature means a file
// edited by hand cannot promote itself to a session.
type Mirror struct {
	path   string
	secret []byte
	now    func() time.Time
}

func NewMirror(dir string, secret []byte, now func() time.Time) *Mirror {
	return &Mirror{path: filepath.Join(dir, mirrorFile), secret: secret, now: now}
}

func (m *Mirror) Save(s *model.Session) error {
	now := m.now()
	claims := mirrorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(MirrorTTL)),
		},
		Session: *s,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("session: signing mirror: %w", err)
	}
	return writeFile(m.path, []byte(signed))
}

// Load returns the mirrored session and whether the mirror is still
// fresh. A missing or tampered mirror returns (nil, false, nil).
func (m *Mirror) Load() (*model.Session, bool, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session: reading mirror: %w", err)
	}

	var claims mirrorClaims
	_, err = jwt.ParseWithClaims(strings.TrimSpace(string(raw)), &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case err == nil:
		return &claims.Session, true, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		// The signature was checked; only freshness failed.
		return &claims.Session, false, nil
	default:
		return nil, false, nil
	}
}

func (m *Mirror) Clear() error {
	return removeFile(m.path)
}

// Activity is the last-activity clock, stored as unix milliseconds.
type Activity struct {
	path string
	now  func() time.Time
}

func NewActivity(dir string, now func() time.Time) *Activity {
	return &Activity{path: filepath.Join(dir, activityFile), now: now}
}

func (a *Activity) Touch() error {
	return writeFile(a.path, []byte(strconv.FormatInt(a.now().UnixMilli(), 10)))
}

// Last returns the recorded activity time; ok is false when there is none.
func (a *Activity) Last() (t time.Time, ok bool) {
	raw, err := os.ReadFile(a.path)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (a *Activity) Clear() error {
	return removeFile(a.path)
}

// LoadOrCreateKey returns the mirror signing key kept in dir, generating
// one on first use.
func LoadOrCreateKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, keyFile)
	key, err := os.ReadFile(path)
	if err == nil && len(key) >= 32 {
		return key, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session: reading key: %w", err)
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("session: generating key: %w", err)
	}
	if err := writeFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// writeFile replaces path atomically with owner-only permissions.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("session: creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("session: replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: removing %s: %w", filepath.Base(path), err)
	}
	return nil
}
