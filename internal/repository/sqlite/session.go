package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

// CreateSession stores a refresh session. The caller picks the ID, because
// it is embedded in the refresh token before the row is written.
func (db *DB) CreateSession(ctx context.Context, s *repository.RefreshSession) error {
	if s.ID == "" {
		return fmt.Errorf("sqlite: creating session: empty id")
	}
	s.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.ExpiresAt.UTC(), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating session for user %s: %w", s.UserID, err)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*repository.RefreshSession, error) {
	var s repository.RefreshSession
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}
	return &s, nil
}

// DeleteSession revokes a refresh session. Deleting a missing session is not
// an error, so logout is idempotent.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions whose expiry is at or before now.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
