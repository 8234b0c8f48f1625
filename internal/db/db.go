package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theboatscanner/boatscanner/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// ImagesDir returns the directory holding archived uploads under baseDir.
func ImagesDir(baseDir string) string {
	return filepath.Join(baseDir, "images")
}

// Init initializes the SQLite database at baseDir/boatscanner.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.boatscanner.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	imagesDir := ImagesDir(baseDir)
	if err := os.MkdirAll(imagesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	_ = os.Chmod(imagesDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "boatscanner.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS user_credits (
		  uid                  TEXT PRIMARY KEY,
		  email                TEXT,
		  free_credits         INTEGER NOT NULL DEFAULT 0 CHECK (free_credits >= 0),
		  paid_credits         INTEGER NOT NULL DEFAULT 0 CHECK (paid_credits >= 0),
		  subscribed_until     INTEGER,
		  review_modal_shown   INTEGER NOT NULL DEFAULT 0,
		  review_bonus_awarded INTEGER NOT NULL DEFAULT 0,
		  created_at           INTEGER NOT NULL,
		  updated_at           INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS search_history (
		  id             TEXT PRIMARY KEY,
		  user_id        TEXT NOT NULL,
		  search_query   TEXT NOT NULL,
		  search_results TEXT NOT NULL,
		  user_image_url TEXT,
		  created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_search_history_user_created
		ON search_history(user_id, created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS favorites (
		  id          TEXT PRIMARY KEY,
		  user_id     TEXT NOT NULL,
		  url         TEXT NOT NULL,
		  title       TEXT,
		  description TEXT,
		  thumbnail   TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_favorites_user_url
		ON favorites(user_id, url);

		CREATE TABLE IF NOT EXISTS reviews (
		  id                    TEXT PRIMARY KEY,
		  user_id               TEXT NOT NULL,
		  email                 TEXT,
		  rating                INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		  review_text           TEXT NOT NULL,
		  bonus_credits_awarded INTEGER NOT NULL DEFAULT 0,
		  created_at            INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_user
		ON reviews(user_id);

		CREATE INDEX IF NOT EXISTS idx_reviews_created
		ON reviews(created_at DESC);

		CREATE TABLE IF NOT EXISTS billing_events (
		  event_key   TEXT PRIMARY KEY,
		  event_name  TEXT NOT NULL,
		  user_id     TEXT,
		  received_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
