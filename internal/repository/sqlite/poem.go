package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
)

// compile-time check that *DB implements repository.PoemRepository
var _ repository.PoemRepository = (*DB)(nil)

const poemColumns = `id, title, subtitle, content, cover_image, language,
	is_listed, is_featured, user_id, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoem(s rowScanner) (*model.PoemRow, error) {
	var (
		p        model.PoemRow
		subtitle sql.NullString
	)
	err := s.Scan(
		&p.ID,
		&p.Title,
		&subtitle,
		&p.Content,
		&p.CoverImage,
		&p.Language,
		&p.IsListed,
		&p.IsFeatured,
		&p.UserID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subtitle.Valid {
		p.Subtitle = &subtitle.String
	}
	return &p, nil
}

func nullable(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreatePoem inserts a new poem. ID and timestamps are set on the passed struct.
// New poems are never featured.
func (db *DB) CreatePoem(ctx context.Context, p *model.PoemRow) error {
	now := time.Now().UTC()
	p.ID = xid.New().String()
	p.IsFeatured = false
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO poems (`+poemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Title,
		nullable(p.Subtitle),
		p.Content,
		p.CoverImage,
		p.Language,
		p.IsListed,
		p.IsFeatured,
		p.UserID,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating poem: %w", err)
	}
	return nil
}

// GetPoem returns apperror.ErrNotFound when no poem has the given id.
func (db *DB) GetPoem(ctx context.Context, id string) (*model.PoemRow, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+poemColumns+` FROM poems WHERE id = ?`, id)

	p, err := scanPoem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("poem", id)
		}
		return nil, fmt.Errorf("sqlite: getting poem %s: %w", id, err)
	}
	return p, nil
}

// ListPoems returns poems newest first. With opts.ListedOnly, hidden poems
// are filtered out.
func (db *DB) ListPoems(ctx context.Context, opts repository.ListOptions) ([]model.PoemRow, error) {
	query := `SELECT ` + poemColumns + ` FROM poems`
	if opts.ListedOnly {
		query += ` WHERE is_listed = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing poems: %w", err)
	}
	defer rows.Close()

	poems := []model.PoemRow{}
	for rows.Next() {
		p, err := scanPoem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning poem row: %w", err)
		}
		poems = append(poems, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating poem rows: %w", err)
	}
	return poems, nil
}

// UpdatePoem overwrites the editable columns of an existing poem.
// is_featured is not touched here; see SetFeatured.
func (db *DB) UpdatePoem(ctx context.Context, p *model.PoemRow) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE poems
		 SET title = ?, subtitle = ?, content = ?, cover_image = ?, language = ?,
		     is_listed = ?, updated_at = ?
		 WHERE id = ?`,
		p.Title,
		nullable(p.Subtitle),
		p.Content,
		p.CoverImage,
		p.Language,
		p.IsListed,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating poem %s: %w", p.ID, err)
	}
	return requireAffected(result, "poem", p.ID)
}

// SetFeatured flips is_featured on one poem.
//
// The cap check and the write happen in one statement, so two concurrent
// requests cannot both slip under the limit. Re-featuring an already
// featured poem is a no-op and never trips the cap.
func (db *DB) SetFeatured(ctx context.Context, id string, featured bool, limit int) error {
	now := time.Now().UTC()

	if !featured {
		result, err := db.conn.ExecContext(ctx,
			`UPDATE poems SET is_featured = 0, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("sqlite: unfeaturing poem %s: %w", id, err)
		}
		return requireAffected(result, "poem", id)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE poems SET is_featured = 1, updated_at = ?
		 WHERE id = ?
		   AND (is_featured = 1
		        OR (SELECT COUNT(*) FROM poems WHERE is_featured = 1) < ?)`,
		now, id, limit,
	)
	if err != nil {
		return fmt.Errorf("sqlite: featuring poem %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the poem is missing or the cap is reached.
	if _, err := db.GetPoem(ctx, id); err != nil {
		return err
	}
	return apperror.FeatureLimitExceeded(limit)
}

// DeletePoem removes a poem together with its likes and comments.
func (db *DB) DeletePoem(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning delete of poem %s: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM poem_likes WHERE poem_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting likes of poem %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM poem_comments WHERE poem_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting comments of poem %s: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM poems WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting poem %s: %w", id, err)
	}
	if err := requireAffected(result, "poem", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing delete of poem %s: %w", id, err)
	}
	return nil
}

// CountPoems returns the number of poems, listed or not.
// The client uses it as its connectivity probe.
func (db *DB) CountPoems(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM poems`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting poems: %w", err)
	}
	return n, nil
}

// requireAffected turns "zero rows affected" into apperror.ErrNotFound.
func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
