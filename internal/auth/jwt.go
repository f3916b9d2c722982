// Package auth issues and checks the credentials of the remote store:
// access/refresh JWT pairs, bcrypt password hashes and the API key that
// every request must carry.
//
// TOKEN PAIR:
//
//	access token   short-lived, sent as "Authorization: Bearer <jwt>"
//	               claims: sub=userID, sid=sessionID, token_use=access
//	refresh token  long-lived, traded at /auth/v1/token?grant_type=refresh_token
//	               claims: sub=userID, jti=sessionID, token_use=refresh
//
// The refresh token is only honoured while its session row exists, so
// signing out (deleting the row) revokes it. Access tokens stay stateless
// and simply run out.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// TokenService signs and validates HS256 tokens with one shared secret.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService.
// The secret must be at least 16 characters; 32 random bytes in production.
func NewTokenService(secret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Claims is the payload shared by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	Use       string `json:"token_use"`
}

// Issued is a freshly signed token and the instant it stops being valid.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// IssueAccess signs an access token for userID bound to sessionID.
func (s *TokenService) IssueAccess(userID, sessionID string) (Issued, error) {
	return s.sign(Claims{SessionID: sessionID, Use: useAccess}, userID, s.accessTTL)
}

// IssueRefresh signs a refresh token whose jti is the session id.
func (s *TokenService) IssueRefresh(userID, sessionID string) (Issued, error) {
	c := Claims{Use: useRefresh}
	c.ID = sessionID
	return s.sign(c, userID, s.refreshTTL)
}

// RefreshTTL is how long a refresh session lives.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) sign(c Claims, userID string, ttl time.Duration) (Issued, error) {
	now := s.now()
	exp := now.Add(ttl)

	c.Subject = userID
	c.Issuer = s.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("auth: signing token: %w", err)
	}
	// NumericDate has second precision; report what the token actually says.
	return Issued{Token: signed, ExpiresAt: c.ExpiresAt.Time}, nil
}

// ValidateAccess returns the claims of a valid access token.
func (s *TokenService) ValidateAccess(tokenStr string) (*Claims, error) {
	return s.validate(tokenStr, useAccess)
}

// ValidateRefresh returns the claims of a valid refresh token.
// The caller must still check that the session (claims.ID) exists.
func (s *TokenService) ValidateRefresh(tokenStr string) (*Claims, error) {
	c, err := s.validate(tokenStr, useRefresh)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, errors.New("auth: refresh token has no session id")
	}
	return c, nil
}

// validate checks signature, algorithm, issuer and expiry, then the token_use
// claim so a refresh token can never be replayed as an access token.
func (s *TokenService) validate(tokenStr, use string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	if c.Use != use {
		return nil, fmt.Errorf("auth: expected %s token, got %q", use, c.Use)
	}
	return c, nil
}
