// Package repository declares the persistence contracts of the remote store.
// Services depend on these interfaces; internal/repository/sqlite implements them.
package repository

import (
	"context"
	"time"

	"github.com/sakif/captured-thinkings/internal/model"
)

// ListOptions narrows a poem collection read.
type ListOptions struct {
	ListedOnly bool
}

type PoemRepository interface {
	CreatePoem(ctx context.Context, poem *model.PoemRow) error
	GetPoem(ctx context.Context, id string) (*model.PoemRow, error)
	ListPoems(ctx context.Context, opts ListOptions) ([]model.PoemRow, error)
	UpdatePoem(ctx context.Context, poem *model.PoemRow) error
	// SetFeatured flips is_featured. Featuring fails with
	// apperror.FeatureLimitExceeded when limit poems are already featured.
	SetFeatured(ctx context.Context, id string, featured bool, limit int) error
	DeletePoem(ctx context.Context, id string) error
	CountPoems(ctx context.Context) (int, error)
}

type LikeRepository interface {
	// InsertLike is idempotent: liking twice leaves one row.
	InsertLike(ctx context.Context, like *model.Like) error
	DeleteLike(ctx context.Context, poemID, userID string) error
	ListLikes(ctx context.Context, poemIDs []string) ([]model.Like, error)
}

type CommentRepository interface {
	CreateComment(ctx context.Context, comment *model.Comment) error
	GetComment(ctx context.Context, id string) (*model.Comment, error)
	ListComments(ctx context.Context, poemIDs []string) ([]model.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RefreshSession is the server-side record of an issued refresh token.
// Deleting it revokes the token.
type RefreshSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, s *RefreshSession) error
	GetSession(ctx context.Context, id string) (*RefreshSession, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
