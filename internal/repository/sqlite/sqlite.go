// Package sqlite implements the repository interfaces on top of SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure-Go port of SQLite: no CGO, no system library, so the remote
// store builds and cross-compiles like any other Go program.
//
// ONE DB, MANY INTERFACES:
// *DB implements PoemRepository, LikeRepository, CommentRepository,
// UserRepository and SessionRepository. Each lives in its own file; the
// compile-time checks at the top of each file keep them honest.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DB wraps a *sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
//
// Pragmas are passed in the DSN so that every pooled connection gets them,
// not just the first one. An in-memory database is private to a single
// connection, so the pool is pinned to one connection in that case.
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	memory := strings.HasPrefix(dbPath, ":memory:")
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
// Always call this when shutting down to flush pending writes.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent (IF NOT EXISTS),
// so it is safe to run on every start.
//
// SCHEMA:
//
//	users ─┬─< poems ─┬─< poem_likes     (PRIMARY KEY (poem_id, user_id))
//	       │          └─< poem_comments
//	       └─< sessions                   (refresh tokens)
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS poems (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			subtitle    TEXT,
			content     TEXT NOT NULL,
			cover_image TEXT NOT NULL DEFAULT '',
			language    TEXT NOT NULL CHECK (language IN ('english', 'kannada')),
			is_listed   BOOLEAN NOT NULL DEFAULT 1,
			is_featured BOOLEAN NOT NULL DEFAULT 0,
			user_id     TEXT NOT NULL REFERENCES users(id),
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_poems_created_at ON poems(created_at);
		CREATE INDEX IF NOT EXISTS idx_poems_is_listed ON poems(is_listed);
	`)
	if err != nil {
		return fmt.Errorf("creating poems table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS poem_likes (
			poem_id    TEXT NOT NULL REFERENCES poems(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (poem_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS poem_comments (
			id         TEXT PRIMARY KEY,
			poem_id    TEXT NOT NULL REFERENCES poems(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL REFERENCES users(id),
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_poem_comments_poem_id ON poem_comments(poem_id);
	`)
	if err != nil {
		return fmt.Errorf("creating interaction tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}

// inClause returns "?, ?, ?" and the matching args for an IN (...) filter.
func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
