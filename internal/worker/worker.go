// Package worker renders report PDFs asynchronously off the event bus.
// Deployments with AsyncPDF enabled run one of these next to the engine so
// slow overlay rendering never sits inside the transaction path.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/report"
)

// Worker consumes materialized-report events and emits their PDFs.
type Worker struct {
	bus          domain.EventBus
	materializer *report.Materializer
	logger       *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// BranchIDs lists the branches this worker serves.
	BranchIDs []string
}

// NewWorker creates an async PDF worker.
func NewWorker(bus domain.EventBus, materializer *report.Materializer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		materializer: materializer,
		logger:       logger.With("component", "worker"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the materialized-report topic for each branch.
func (w *Worker) Start(cfg Config) error {
	for _, branchID := range cfg.BranchIDs {
		sub, err := w.bus.Subscribe(w.ctx, branchID, domain.TopicReportMaterialized, w.handleMessage)
		if err != nil {
			w.logger.Error("failed to start worker for branch",
				"branch_id", branchID,
				"error", err)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
		w.logger.Info("branch worker started",
			"branch_id", branchID,
			"topic", domain.TopicReportMaterialized)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.EventMessage) error {
	var ev report.ReportEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.logger.Error("failed to parse report event",
			"message_id", msg.ID,
			"error", err)
		return err
	}

	w.wg.Add(1)
	defer w.wg.Done()

	out, err := w.materializer.EmitPDF(ctx, ev.ReportID)
	if err != nil {
		w.logger.Error("pdf emission errored",
			"report_id", ev.ReportID,
			"error", err)
		return err
	}
	if !out.OK {
		// Soft failure: the report row stays, an operator re-emits later.
		w.logger.Warn("pdf emission failed",
			"report_id", ev.ReportID,
			"error_kind", out.ErrorKind,
			"error", out.Err)
		return nil
	}

	w.logger.Info("pdf emitted",
		"report_id", ev.ReportID,
		"report_type", ev.ReportType,
		"path", out.Path)
	return nil
}

// Stop gracefully stops the worker and waits for in-flight renders.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
