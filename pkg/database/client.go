// Package database provides the embedded SQLite store and migration runner.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver for database/sql
)

// Config holds database configuration.
type Config struct {
	// Path is the SQLite database file, typically <root>/.substrate/substrate.db.
	Path string

	// BusyTimeout is how long a writer waits on a locked database before
	// failing. WAL keeps readers off this path entirely.
	BusyTimeout time.Duration
}

// DefaultConfig returns the standard configuration for a project root.
func DefaultConfig(projectRoot string) Config {
	return Config{
		Path:        filepath.Join(projectRoot, ".substrate", "substrate.db"),
		BusyTimeout: 5 * time.Second,
	}
}

// Client wraps the SQLite connection. Writes are serialized through a single
// connection (SQLite allows one writer); WAL mode lets readers proceed
// concurrently with the writer.
type Client struct {
	db *sql.DB
}

// DB returns the underlying database handle for direct queries and health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// NewClient opens (creating if necessary) the SQLite database, applies
// pragmas, and runs pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busyMS := cfg.BusyTimeout.Milliseconds()
	if busyMS <= 0 {
		busyMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_synchronous=NORMAL",
		cfg.Path, busyMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports exactly one writer; a single connection avoids
	// SQLITE_BUSY churn between our own goroutines. Readers share it —
	// transactional scopes are short by design.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database ready", "path", cfg.Path)
	return &Client{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// RunMigrations applies pending numbered migrations in version order.
// Already-applied versions are skipped via the schema_migrations table;
// running against an up-to-date database is a no-op.
func RunMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
