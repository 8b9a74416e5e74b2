// Package domain defines the core types and interfaces of the compliance
// engine.
package domain

import (
	"context"
	"time"
)

// Repository is the typed view onto the relational store. The engine never
// touches SQL outside its implementations.
type Repository interface {
	// Trigger rules
	SaveRule(ctx context.Context, rule *TriggerRule) error
	GetRule(ctx context.Context, id int64) (*TriggerRule, error)
	ListRules(ctx context.Context) ([]*TriggerRule, error)
	// ListActiveRules returns active rules for a family scoped to
	// (global OR branch), ordered by priority DESC, id ASC.
	ListActiveRules(ctx context.Context, family ReportType, branchID string) ([]*TriggerRule, error)
	DeactivateRule(ctx context.Context, id int64) error

	// Ledger (external collaborator; the engine reads it and sets flags)
	SaveTransaction(ctx context.Context, tx *ExchangeTransaction) error
	GetTransaction(ctx context.Context, id string) (*ExchangeTransaction, error)
	SetTransactionFlags(ctx context.Context, id string, flags TransactionFlags) error
	// CustomerStats aggregates completed transactions in [since, until)
	// across all branches for one customer.
	CustomerStats(ctx context.Context, customerID string, since, until time.Time) (*CustomerStats, error)

	// Rates and branches
	SaveRate(ctx context.Context, rate *ExchangeRate) error
	GetRate(ctx context.Context, branchID, currency string, date time.Time) (*ExchangeRate, error)
	GetBranch(ctx context.Context, id string) (*Branch, error)
	SaveBranch(ctx context.Context, b *Branch) error

	// Reservations
	SaveReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter, page, pageSize int) (*ReservationPage, error)
	// FindApprovedReservation returns the newest approved reservation for a
	// customer and family created on or after the window start.
	FindApprovedReservation(ctx context.Context, customerRef string, family ReportType, since time.Time) (*Reservation, error)

	// Reports
	SaveReport(ctx context.Context, r *ReportRecord) error
	GetReport(ctx context.Context, id string) (*ReportRecord, error)
	ListReports(ctx context.Context, f ReportFilter) ([]*ReportRecord, error)
	SetReportPDF(ctx context.Context, id, path string) error
	MarkReported(ctx context.Context, id string, at time.Time) error

	SaveBOTReport(ctx context.Context, r *BOTReport) error
	ListBOTReports(ctx context.Context, variant BOTVariant, date time.Time, branchID string) ([]*BOTReport, error)

	// NextSequence atomically allocates the next per-(branch, date, kind)
	// counter value; gapless and strictly increasing by 1.
	NextSequence(ctx context.Context, branchID string, date time.Time, kind string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
