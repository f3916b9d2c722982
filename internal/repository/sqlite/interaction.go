package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
)

var (
	_ repository.LikeRepository    = (*DB)(nil)
	_ repository.CommentRepository = (*DB)(nil)
)

// isConstraint reports whether err is an SQLite constraint violation of the
// given kind ("UNIQUE", "FOREIGN KEY", ...).
func isConstraint(err error, kind string) bool {
	return err != nil && strings.Contains(err.Error(), kind+" constraint failed")
}

// InsertLike records that a user likes a poem. Liking twice is a no-op.
func (db *DB) InsertLike(ctx context.Context, l *model.Like) error {
	l.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO poem_likes (poem_id, user_id, created_at) VALUES (?, ?, ?)`,
		l.PoemID, l.UserID, l.CreatedAt,
	)
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return apperror.NotFound("poem", l.PoemID)
		}
		return fmt.Errorf("sqlite: inserting like on poem %s: %w", l.PoemID, err)
	}
	return nil
}

// DeleteLike removes the (poemID, userID) like. Removing a like that does
// not exist is not an error.
func (db *DB) DeleteLike(ctx context.Context, poemID, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM poem_likes WHERE poem_id = ? AND user_id = ?`, poemID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting like on poem %s: %w", poemID, err)
	}
	return nil
}

// ListLikes returns the likes of the given poems. An empty poemIDs returns nothing.
func (db *DB) ListLikes(ctx context.Context, poemIDs []string) ([]model.Like, error) {
	likes := []model.Like{}
	if len(poemIDs) == 0 {
		return likes, nil
	}

	in, args := inClause(poemIDs)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT poem_id, user_id, created_at FROM poem_likes
		 WHERE poem_id IN (`+in+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.PoemID, &l.UserID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning like row: %w", err)
		}
		likes = append(likes, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating like rows: %w", err)
	}
	return likes, nil
}

// CreateComment inserts a comment. ID and timestamps are set on the passed struct.
func (db *DB) CreateComment(ctx context.Context, c *model.Comment) error {
	now := time.Now().UTC()
	c.ID = xid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO poem_comments (id, poem_id, user_id, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PoemID, c.UserID, c.Content, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return apperror.NotFound("poem", c.PoemID)
		}
		return fmt.Errorf("sqlite: creating comment on poem %s: %w", c.PoemID, err)
	}
	return nil
}

func (db *DB) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	var c model.Comment
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, poem_id, user_id, content, created_at, updated_at
		 FROM poem_comments WHERE id = ?`, id,
	).Scan(&c.ID, &c.PoemID, &c.UserID, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("comment", id)
		}
		return nil, fmt.Errorf("sqlite: getting comment %s: %w", id, err)
	}
	return &c, nil
}

// ListComments returns the comments of the given poems, oldest first.
func (db *DB) ListComments(ctx context.Context, poemIDs []string) ([]model.Comment, error) {
	comments := []model.Comment{}
	if len(poemIDs) == 0 {
		return comments, nil
	}

	in, args := inClause(poemIDs)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, poem_id, user_id, content, created_at, updated_at FROM poem_comments
		 WHERE poem_id IN (`+in+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.PoemID, &c.UserID, &c.Content, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comment rows: %w", err)
	}
	return comments, nil
}

func (db *DB) DeleteComment(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM poem_comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting comment %s: %w", id, err)
	}
	return requireAffected(result, "comment", id)
}
