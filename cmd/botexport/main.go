// Botexport builds a central-bank workbook directly from the database.
//
// Usage:
//   go run cmd/botexport/main.go -variant BuyFX -date 2026-03-14 -branch BKK01 -out ./exports
//
// The tool reads the materialized BOT rows for one (variant, date, branch)
// and writes BOT_<variant>_<yyyymmdd>.xlsx. Back offices run it when the
// regulator portal needs a re-submission outside the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/excel"
	"github.com/siamfx/naga/internal/repository"
)

func main() {
	var (
		variantFlag = flag.String("variant", "", "BOT variant: BuyFX, SellFX, FCD or Provider")
		dateFlag    = flag.String("date", "", "export date, YYYY-MM-DD (default today)")
		branchFlag  = flag.String("branch", "", "branch ID (empty exports every branch)")
		outFlag     = flag.String("out", ".", "output directory")
		sqliteFlag  = flag.String("sqlite", "./naga.db", "sqlite database path")
		pgFlag      = flag.Bool("postgres", false, "use PostgreSQL (NAGA_POSTGRES_* env)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	variant := domain.BOTVariant(*variantFlag)
	switch variant {
	case domain.BOTBuyFX, domain.BOTSellFX, domain.BOTFCD, domain.BOTProvider:
	default:
		fmt.Fprintf(os.Stderr, "unknown variant %q\n", *variantFlag)
		flag.Usage()
		os.Exit(2)
	}

	date := time.Now().UTC()
	if *dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "date must be YYYY-MM-DD: %v\n", err)
			os.Exit(2)
		}
		date = parsed
	}

	cfg := domain.RepositoryConfig{Driver: "sqlite", SQLitePath: *sqliteFlag}
	if *pgFlag {
		cfg = domain.RepositoryConfig{
			Driver:           "postgres",
			PostgresHost:     envOr("NAGA_POSTGRES_HOST", "localhost"),
			PostgresPort:     5432,
			PostgresUser:     os.Getenv("NAGA_POSTGRES_USER"),
			PostgresPassword: os.Getenv("NAGA_POSTGRES_PASSWORD"),
			PostgresDB:       envOr("NAGA_POSTGRES_DB", "naga"),
		}
	}

	repo, err := repository.New(cfg)
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	builder := excel.NewBuilder(repo, "", logger)

	ctx := context.Background()
	data, err := builder.Export(ctx, variant, date, *branchFlag)
	if err != nil {
		slog.Error("export failed", "variant", variant, "error", err)
		os.Exit(1)
	}

	path := filepath.Join(*outFlag, excel.Filename(variant, date))
	if err := os.MkdirAll(*outFlag, 0o755); err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("failed to write workbook", "path", path, "error", err)
		os.Exit(1)
	}

	fmt.Println(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
