package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siamfx/naga/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens the embedded per-branch database. The driver is pure Go,
// so a counter install ships as one binary with no CGO toolchain.
//
// busy_timeout matters here: sequence allocation holds the counter row for
// the duration of the upsert, and a second teller hitting the same counter
// must wait rather than fail with SQLITE_BUSY.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./naga.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	return pinged(db, "sqlite")
}

// pinged verifies a fresh connection before handing it to the repository,
// closing it on failure.
func pinged(db *sql.DB, driver string) (*sql.DB, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
