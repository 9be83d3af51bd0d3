// Package journal records session outcomes to a local SQLite database so
// `quarantine history` can show what ran, where, and how it ended. The
// journal is observability only: a session runs fine without it, and journal
// failures are reported as warnings.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one recorded session.
type Entry struct {
	ID            string
	Image         string
	HostDir       string
	ContainerName string
	ExitCode      int
	// Failure holds the error kind for sessions that never reached a clean
	// exit; empty otherwise.
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Journal is a handle to the session history database.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at path and brings
// its schema up to date.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	// WAL mode so a long-running session doesn't block a concurrent
	// `quarantine history`.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record persists one session outcome.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, image, host_dir, container_name, exit_code, failure, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Image, e.HostDir, e.ContainerName, e.ExitCode, e.Failure, e.StartedAt.UTC(), e.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", e.ID, err)
	}
	return nil
}

// List returns the most recent sessions, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, image, host_dir, container_name, exit_code, failure, started_at, finished_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Image, &e.HostDir, &e.ContainerName, &e.ExitCode, &e.Failure, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
