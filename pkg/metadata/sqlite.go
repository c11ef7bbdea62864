package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteRegistry persists bucket metadata in a SQLite database so bucket
// names and creation times survive restarts.
type SQLiteRegistry struct {
	db *sql.DB
}

// OpenSQLiteRegistry opens (creating if needed) the database at path and
// ensures the schema exists.
func OpenSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	if path == "" {
		return nil, errors.New("sqlite registry: empty path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer keeps the registry simple; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS buckets (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteRegistry) Close() error { return s.db.Close() }

// Create registers a new bucket if the name is free.
func (s *SQLiteRegistry) Create(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buckets(name, created_at) VALUES(?, ?)`,
		name, time.Now().UTC(),
	)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrBucketExists
		}
		return fmt.Errorf("insert bucket: %w", err)
	}
	return nil
}

// Exists returns true if the bucket is registered.
func (s *SQLiteRegistry) Exists(ctx context.Context, name string) (bool, error) {
	var n string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM buckets WHERE name = ?`, name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query bucket: %w", err)
	}
	return true, nil
}

// Delete removes a bucket entry.
func (s *SQLiteRegistry) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// List returns all buckets ordered by name.
func (s *SQLiteRegistry) List(ctx context.Context) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()
	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Name, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
