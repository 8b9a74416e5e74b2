package repository

import (
	"database/sql"
	"fmt"

	"github.com/siamfx/naga/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres connects to the shared head-office database used when several
// branches report into one ledger. Cross-branch aggregation and gapless
// sequence allocation both rely on this being the single source of truth.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "naga"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres at %s:%d: %w", host, port, err)
	}
	return pinged(db, "postgres")
}
