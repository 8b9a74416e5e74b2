// Naga - AML/BOT compliance engine for money-changer back offices.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/siamfx/naga/internal/aggregate"
	"github.com/siamfx/naga/internal/api"
	"github.com/siamfx/naga/internal/backoffice"
	"github.com/siamfx/naga/internal/bus"
	"github.com/siamfx/naga/internal/cache"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/excel"
	"github.com/siamfx/naga/internal/fact"
	"github.com/siamfx/naga/internal/pdf"
	"github.com/siamfx/naga/internal/report"
	"github.com/siamfx/naga/internal/repository"
	"github.com/siamfx/naga/internal/reservation"
	"github.com/siamfx/naga/internal/rules"
	"github.com/siamfx/naga/internal/sequence"
	"github.com/siamfx/naga/internal/template"
	"github.com/siamfx/naga/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("NAGA_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if os.Getenv("NAGA_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting naga",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("NAGA_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}
	applyEnv(cfg)

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_pdf", cfg.Compliance.AsyncPDF,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Compliance components
	clock := domain.SystemClock{}
	agg := aggregate.New(repo, clock, logger)
	normalizer := fact.NewNormalizer(repo, agg, logger)
	coordinator := rules.NewCoordinator(repo, cacheImpl, cfg.Compliance.ProviderUSDThreshold, logger)
	seq := sequence.New(repo, clock)
	reservations := reservation.NewStore(repo, seq, busImpl, clock, logger)

	loader := template.NewLoader(cfg.Compliance.TemplateDir)
	renderer := pdf.NewRenderer(loader, cfg.Compliance.FontPath, cfg.Compliance.OutputDir, logger)
	materializer := report.NewMaterializer(repo, coordinator, normalizer, seq, reservations,
		renderer, busImpl, clock, cfg.Compliance, logger)
	exporter := excel.NewBuilder(repo, cfg.Compliance.ExcelDir, logger)

	svc := backoffice.New(repo, coordinator, normalizer, reservations, materializer, exporter, logger)
	slog.Info("compliance engine initialized",
		"template_dir", cfg.Compliance.TemplateDir,
		"output_dir", cfg.Compliance.OutputDir,
	)

	// Initialize async PDF worker
	var asyncWorker *worker.Worker
	if cfg.Compliance.AsyncPDF {
		branchIDs := splitList(os.Getenv("NAGA_BRANCHES"))
		if len(branchIDs) == 0 {
			slog.Warn("async pdf enabled but NAGA_BRANCHES is empty, no worker subscriptions")
		}

		asyncWorker = worker.NewWorker(busImpl, materializer, logger)
		if err := asyncWorker.Start(worker.Config{BranchIDs: branchIDs}); err != nil {
			slog.Error("failed to start pdf worker", "error", err)
		} else {
			slog.Info("pdf worker started", "branch_count", len(branchIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("naga is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight renders drain
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop pdf worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("naga shutdown complete")
}

// applyEnv overlays environment settings onto the selected base config.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("NAGA_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("NAGA_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("NAGA_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("NAGA_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("NAGA_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("NAGA_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("NAGA_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("NAGA_TEMPLATE_DIR"); v != "" {
		cfg.Compliance.TemplateDir = v
	}
	if v := os.Getenv("NAGA_FONT_PATH"); v != "" {
		cfg.Compliance.FontPath = v
	}
	if v := os.Getenv("NAGA_OUTPUT_DIR"); v != "" {
		cfg.Compliance.OutputDir = v
	}
	if v := os.Getenv("NAGA_EXCEL_DIR"); v != "" {
		cfg.Compliance.ExcelDir = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  NAGA - AML/BOT Compliance Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /triggers/check               - Check every report family")
	fmt.Println("    POST /triggers/{family}/check      - Check one report family")
	fmt.Println("    POST /reservations                 - Open a form reservation")
	fmt.Println("    POST /reservations/{id}/audit      - Approve / reject / revert")
	fmt.Println("    POST /reservations/{id}/signatures - Attach a signature box")
	fmt.Println("    POST /transactions/{id}/materialize - Materialize reports")
	fmt.Println("    POST /adjustments                  - Record a balance adjustment")
	fmt.Println("    POST /reports/{id}/pdf             - Emit the AMLO PDF")
	fmt.Println("    GET  /exports/bot/{variant}        - Download the BOT workbook")
	fmt.Println("    GET  /rules                        - List trigger rules")
	fmt.Println("    POST /rules                        - Create a trigger rule")
	fmt.Println("    POST /rules/reload                 - Hot-reload rule snapshots")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
