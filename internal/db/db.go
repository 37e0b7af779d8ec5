package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	// Goose runs each migration file in its own transaction by default
	// (no WithDisableTransaction option passed), so a failed statement
	// rolls back fully and goose_db_version is not advanced.
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
