// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"golang.org/x/oauth2"
)

// User represents an account known to the remote store: the admin who
// publishes poems, or a reader who likes and comments.
//
// WHY PasswordHash json:"-"?
// The hash is only ever compared server-side; the "-" tag keeps it out of
// every JSON response, even if a handler serializes a User by accident.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Session is an authenticated identity window issued by the remote store.
//
// AccessToken authorizes requests until ExpiresAt; RefreshToken can be traded
// for a new Session. The client mirrors the whole struct locally.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// OAuth2Token converts the session to the token type understood by
// golang.org/x/oauth2 transports.
func (s *Session) OAuth2Token() *oauth2.Token {
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// Credentials is the email/password pair submitted at sign-in and sign-up.
type Credentials struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
