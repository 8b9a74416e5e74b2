// Package report materializes trigger decisions into regulator-facing
// records: AMLO report rows bound to completed reservations and BOT rows
// queued for the T+1 spreadsheet export.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/fact"
	"github.com/siamfx/naga/internal/pdf"
	"github.com/siamfx/naga/internal/reservation"
	"github.com/siamfx/naga/internal/rules"
	"github.com/siamfx/naga/internal/sequence"
)

// ReportEvent is the bus payload for report lifecycle topics.
type ReportEvent struct {
	ReportID   string            `json:"report_id"`
	ReportType domain.ReportType `json:"report_type"`
	BranchID   string            `json:"branch_id"`
	PDFPath    string            `json:"pdf_path,omitempty"`
}

// Materializer turns a committed transaction into report records. Report
// rows always land; PDF emission is a soft follow-up that never rolls a
// row back.
type Materializer struct {
	repo         domain.Repository
	coordinator  *rules.Coordinator
	normalizer   *fact.Normalizer
	seq          *sequence.Service
	reservations *reservation.Store
	renderer     *pdf.Renderer
	bus          domain.EventBus
	clock        domain.Clock
	logger       *slog.Logger

	pendingWindow time.Duration
	asyncPDF      bool
}

// NewMaterializer creates a report materializer.
func NewMaterializer(
	repo domain.Repository,
	coordinator *rules.Coordinator,
	normalizer *fact.Normalizer,
	seq *sequence.Service,
	reservations *reservation.Store,
	renderer *pdf.Renderer,
	bus domain.EventBus,
	clock domain.Clock,
	cfg domain.ComplianceConfig,
	logger *slog.Logger,
) *Materializer {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	window := time.Duration(cfg.PendingWindowHours) * time.Hour
	if window <= 0 {
		window = 72 * time.Hour
	}
	return &Materializer{
		repo:          repo,
		coordinator:   coordinator,
		normalizer:    normalizer,
		seq:           seq,
		reservations:  reservations,
		renderer:      renderer,
		bus:           bus,
		clock:         clock,
		logger:        logger.With("component", "report"),
		pendingWindow: window,
		asyncPDF:      cfg.AsyncPDF,
	}
}

// Materialize runs all trigger checks for a committed transaction and
// persists whatever they produce. A missing rate row degrades the BOT
// families to rate_unavailable; AMLO families still run on the THB amount.
func (m *Materializer) Materialize(ctx context.Context, transactionID string) (*domain.MaterializeResult, error) {
	tx, err := m.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domain.ErrNotFound("transaction")
	}

	f, err := m.normalizer.Normalize(ctx, tx)
	if err != nil && !domain.IsKind(err, domain.KindRateUnavailable) {
		return nil, fmt.Errorf("normalize transaction %s: %w", tx.ID, err)
	}

	decisions, err := m.coordinator.CheckAll(ctx, f)
	if err != nil {
		return nil, err
	}

	branchCode := m.branchCode(ctx, tx.BranchID)

	result := &domain.MaterializeResult{}
	var flags domain.TransactionFlags
	flags.UseF = tx.UseFCD

	for _, d := range decisions {
		if !d.Triggered {
			continue
		}
		if d.ReportType.IsBOT() {
			flags.BOT = true
			if d.ReportType == domain.ReportBOTFCD {
				flags.FCD = true
			}
			row, err := m.materializeBOT(ctx, tx, f, d.ReportType, branchCode)
			if err != nil {
				return nil, err
			}
			result.BOT = append(result.BOT, row)
		} else {
			flags.AMLO = true
			rec, err := m.materializeAMLO(ctx, tx, f, d.ReportType, branchCode)
			if err != nil {
				return nil, err
			}
			result.AMLO = append(result.AMLO, rec)
		}
	}

	if err := m.repo.SetTransactionFlags(ctx, tx.ID, flags); err != nil {
		return nil, fmt.Errorf("set transaction flags: %w", err)
	}

	m.logger.Info("transaction materialized",
		"transaction_id", tx.ID,
		"branch_id", tx.BranchID,
		"amlo_reports", len(result.AMLO),
		"bot_reports", len(result.BOT))
	return result, nil
}

// materializeAMLO binds the triggered family to an approved reservation,
// completing it against the transaction, or synthesizes a completed
// reservation when the customer walked in without one.
func (m *Materializer) materializeAMLO(ctx context.Context, tx *domain.ExchangeTransaction, f *domain.Fact, family domain.ReportType, branchCode string) (*domain.ReportRecord, error) {
	res, err := m.bindReservation(ctx, tx, f, family)
	if err != nil {
		return nil, err
	}

	reportNo, err := m.seq.ReportNo(ctx, family, tx.BranchID, branchCode)
	if err != nil {
		return nil, err
	}

	content := reportContent(res.FormData, tx, f, branchCode)

	rec := &domain.ReportRecord{
		ID:             uuid.New().String(),
		ReportNo:       reportNo,
		ReservationID:  res.ID,
		ReportType:     family,
		BranchID:       tx.BranchID,
		TransactionRef: tx.ID,
		Content:        content,
		CreatedAt:      m.clock.Now(),
	}
	if err := m.repo.SaveReport(ctx, rec); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	if m.asyncPDF && m.bus != nil {
		m.publish(ctx, tx.BranchID, domain.TopicReportMaterialized, &ReportEvent{
			ReportID:   rec.ID,
			ReportType: family,
			BranchID:   tx.BranchID,
		})
	} else if m.renderer != nil {
		out := m.renderer.Render(&pdf.Request{
			ReportType:    family,
			ReservationNo: res.ReservationNo,
			Content:       content,
			Signatures:    res.Signatures,
			Date:          m.clock.Now(),
		})
		if out.OK {
			if err := m.repo.SetReportPDF(ctx, rec.ID, out.Path); err != nil {
				m.logger.Warn("pdf path write failed", "report_id", rec.ID, "error", err)
			} else {
				rec.PDFPath = out.Path
			}
		} else {
			m.logger.Warn("pdf emission failed",
				"report_no", rec.ReportNo,
				"error_kind", out.ErrorKind,
				"error", out.Err)
		}
	}

	m.logger.Info("report materialized",
		"report_no", rec.ReportNo,
		"report_type", family,
		"reservation_no", res.ReservationNo)
	return rec, nil
}

// bindReservation finds the newest approved reservation inside the pending
// window and completes it. Without one, a reservation is synthesized in the
// completed state so every AMLO report still traces back to a form.
func (m *Materializer) bindReservation(ctx context.Context, tx *domain.ExchangeTransaction, f *domain.Fact, family domain.ReportType) (*domain.Reservation, error) {
	since := m.clock.Now().Add(-m.pendingWindow)
	res, err := m.repo.FindApprovedReservation(ctx, tx.CustomerID, family, since)
	if err != nil {
		return nil, fmt.Errorf("find approved reservation: %w", err)
	}
	if res != nil {
		return m.reservations.Complete(ctx, res.ID, tx.ID)
	}

	no, err := m.seq.ReservationNo(ctx, family, tx.BranchID)
	if err != nil {
		return nil, err
	}
	res = &domain.Reservation{
		ID:             uuid.New().String(),
		ReservationNo:  no,
		ReportType:     family,
		BranchID:       tx.BranchID,
		CustomerRef:    tx.CustomerID,
		FormData:       make(map[string]any),
		Direction:      tx.Direction,
		Amount:         tx.AmountForeign,
		LocalAmount:    f.AmountLocal,
		Status:         domain.ReservationCompleted,
		TransactionRef: tx.ID,
		CreatedAt:      m.clock.Now(),
	}
	if err := m.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("save synthesized reservation: %w", err)
	}
	m.logger.Info("reservation synthesized",
		"reservation_no", res.ReservationNo,
		"report_type", family,
		"transaction_id", tx.ID)
	return res, nil
}

// materializeBOT queues one row for the variant's next export.
func (m *Materializer) materializeBOT(ctx context.Context, tx *domain.ExchangeTransaction, f *domain.Fact, family domain.ReportType, branchCode string) (*domain.BOTReport, error) {
	variant, ok := domain.VariantFor(family)
	if !ok {
		return nil, fmt.Errorf("no BOT variant for %s", family)
	}

	reportNo, err := m.seq.ReportNo(ctx, family, tx.BranchID, branchCode)
	if err != nil {
		return nil, err
	}

	content := map[string]any{
		"branch_code":      branchCode,
		"transaction_date": tx.CreatedAt.Format("2006-01-02"),
		"currency":         tx.Currency,
		"amount_foreign":   tx.AmountForeign.StringFixed(2),
		"usd_equivalent":   f.USDEquivalent.StringFixed(2),
		"customer_id":      tx.CustomerID,
	}
	switch variant {
	case domain.BOTBuyFX, domain.BOTSellFX:
		content["rate"] = tx.Rate.String()
		content["amount_thb"] = f.AmountLocal.StringFixed(2)
		content["customer_country"] = tx.CustomerCountry
		content["payment_method"] = string(tx.PaymentMethod)
	case domain.BOTFCD:
		content["direction"] = string(tx.Direction)
	}

	row := &domain.BOTReport{
		ID:             uuid.New().String(),
		ReportNo:       reportNo,
		Variant:        variant,
		BranchID:       tx.BranchID,
		TransactionRef: tx.ID,
		Content:        content,
		ReportDate:     tx.CreatedAt,
		CreatedAt:      m.clock.Now(),
	}
	if err := m.repo.SaveBOTReport(ctx, row); err != nil {
		return nil, fmt.Errorf("save BOT report: %w", err)
	}

	m.logger.Info("BOT row queued",
		"report_no", reportNo,
		"variant", variant,
		"branch_id", tx.BranchID)
	return row, nil
}

// MaterializeProviderAdjustment checks a branch balance adjustment against
// the provider threshold and queues a BOT_Provider row when it crosses.
// The decision is returned either way so callers can inspect the trace.
func (m *Materializer) MaterializeProviderAdjustment(ctx context.Context, adj *domain.BranchAdjustment) (*domain.BOTReport, *domain.Decision, error) {
	withUSD := m.normalizer.AdjustmentFact(ctx, adj)

	decision, err := m.coordinator.CheckProvider(ctx, withUSD)
	if err != nil {
		return nil, nil, err
	}
	if !decision.Triggered {
		return nil, decision, nil
	}

	branchCode := m.branchCode(ctx, adj.BranchID)
	reportNo, err := m.seq.ReportNo(ctx, domain.ReportBOTProvide, adj.BranchID, branchCode)
	if err != nil {
		return nil, nil, err
	}

	direction := "decrease"
	if adj.Increase {
		direction = "increase"
	}
	row := &domain.BOTReport{
		ID:       uuid.New().String(),
		ReportNo: reportNo,
		Variant:  domain.BOTProvider,
		BranchID: adj.BranchID,
		Content: map[string]any{
			"branch_code":     branchCode,
			"adjustment_date": withUSD.AdjustedAt.Format("2006-01-02"),
			"currency":        withUSD.Currency,
			"amount":          withUSD.Amount.StringFixed(2),
			"direction":       direction,
			"usd_equivalent":  withUSD.USDEquivalent.StringFixed(2),
		},
		ReportDate: withUSD.AdjustedAt,
		CreatedAt:  m.clock.Now(),
	}
	if err := m.repo.SaveBOTReport(ctx, row); err != nil {
		return nil, nil, fmt.Errorf("save provider report: %w", err)
	}

	m.logger.Info("provider adjustment reported",
		"report_no", reportNo,
		"branch_id", adj.BranchID,
		"usd_equivalent", withUSD.USDEquivalent.String())
	return row, decision, nil
}

// EmitPDF renders the PDF for a materialized report. Used by the async
// worker and for operator-requested re-emission. Failures are soft: the
// result carries the error and the report row stays untouched.
func (m *Materializer) EmitPDF(ctx context.Context, reportID string) (pdf.Result, error) {
	rec, err := m.repo.GetReport(ctx, reportID)
	if err != nil {
		return pdf.Result{}, err
	}
	if rec == nil {
		return pdf.Result{}, domain.ErrNotFound("report")
	}

	reservationNo := rec.ReportNo
	var signatures map[domain.SignatureKind]string
	if rec.ReservationID != "" {
		res, err := m.repo.GetReservation(ctx, rec.ReservationID)
		if err == nil && res != nil {
			reservationNo = res.ReservationNo
			signatures = res.Signatures
		}
	}

	out := m.renderer.Render(&pdf.Request{
		ReportType:    rec.ReportType,
		ReservationNo: reservationNo,
		Content:       rec.Content,
		Signatures:    signatures,
		Date:          rec.CreatedAt,
	})
	if !out.OK {
		m.logger.Warn("pdf emission failed",
			"report_no", rec.ReportNo,
			"error_kind", out.ErrorKind,
			"error", out.Err)
		return out, nil
	}

	if err := m.repo.SetReportPDF(ctx, rec.ID, out.Path); err != nil {
		return out, fmt.Errorf("set report pdf: %w", err)
	}
	if m.bus != nil {
		m.publish(ctx, rec.BranchID, domain.TopicReportEmitted, &ReportEvent{
			ReportID:   rec.ID,
			ReportType: rec.ReportType,
			BranchID:   rec.BranchID,
			PDFPath:    out.Path,
		})
	}
	return out, nil
}

// branchCode resolves a branch's report-number code, falling back to the
// branch id when the branch row is missing.
func (m *Materializer) branchCode(ctx context.Context, branchID string) string {
	branch, err := m.repo.GetBranch(ctx, branchID)
	if err != nil || branch == nil || branch.Code == "" {
		return branchID
	}
	return branch.Code
}

// reportContent merges operator-entered form data with the authoritative
// transaction figures. Ledger values win over hand-typed ones.
func reportContent(formData map[string]any, tx *domain.ExchangeTransaction, f *domain.Fact, branchCode string) map[string]any {
	content := make(map[string]any, len(formData)+8)
	for k, v := range formData {
		content[k] = v
	}
	content["transaction_date"] = tx.CreatedAt
	content["currency"] = tx.Currency
	content["amount"] = f.AmountLocal
	content["amount_foreign"] = tx.AmountForeign
	content["branch"] = branchCode
	content["customer_id"] = tx.CustomerID
	if tx.CustomerCountry != "" {
		content["customer_country"] = tx.CustomerCountry
	}
	return content
}

func (m *Materializer) publish(ctx context.Context, branchID, topic string, ev *ReportEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, branchID, topic, payload); err != nil {
		m.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
