// Package backoffice is the service facade the HTTP layer and CLIs call.
// It composes the coordinator, reservation store, materializer and export
// builder into the operations the counter and audit staff use.
package backoffice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/excel"
	"github.com/siamfx/naga/internal/fact"
	"github.com/siamfx/naga/internal/report"
	"github.com/siamfx/naga/internal/reservation"
	"github.com/siamfx/naga/internal/rules"
)

// Service wires the compliance components behind one surface.
type Service struct {
	repo         domain.Repository
	coordinator  *rules.Coordinator
	normalizer   *fact.Normalizer
	reservations *reservation.Store
	materializer *report.Materializer
	exporter     *excel.Builder
	logger       *slog.Logger
}

// New creates the backoffice service.
func New(
	repo domain.Repository,
	coordinator *rules.Coordinator,
	normalizer *fact.Normalizer,
	reservations *reservation.Store,
	materializer *report.Materializer,
	exporter *excel.Builder,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		coordinator:  coordinator,
		normalizer:   normalizer,
		reservations: reservations,
		materializer: materializer,
		exporter:     exporter,
		logger:       logger.With("component", "backoffice"),
	}
}

// CheckTriggers evaluates one report family against a prospective
// transaction. The transaction is not persisted; counter staff call this
// before committing the exchange.
func (s *Service) CheckTriggers(ctx context.Context, family domain.ReportType, tx *domain.ExchangeTransaction) (*domain.Decision, error) {
	f, err := s.normalize(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.coordinator.Check(ctx, family, f)
}

// CheckAllTriggers evaluates every customer-facing family and returns one
// decision per family.
func (s *Service) CheckAllTriggers(ctx context.Context, tx *domain.ExchangeTransaction) ([]*domain.Decision, error) {
	f, err := s.normalize(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.coordinator.CheckAll(ctx, f)
}

// CreateReservation opens a pending reservation for a prospective trigger.
func (s *Service) CreateReservation(ctx context.Context, family domain.ReportType, tx *domain.ExchangeTransaction, formData map[string]any, operatorID string) (*domain.Reservation, error) {
	f, err := s.normalize(ctx, tx)
	if err != nil {
		return nil, err
	}
	return s.reservations.Create(ctx, family, f, formData, operatorID)
}

// AuditReservation applies an approve, reject or revert action.
func (s *Service) AuditReservation(ctx context.Context, id string, action domain.AuditAction, auditor, note, rejectionReason string) (*domain.Reservation, error) {
	return s.reservations.Audit(ctx, id, action, auditor, note, rejectionReason)
}

// AttachSignature stores one signature box on a reservation.
func (s *Service) AttachSignature(ctx context.Context, id string, kind domain.SignatureKind, payload string) (*domain.Reservation, error) {
	return s.reservations.AttachSignature(ctx, id, kind, payload)
}

// GetReservation loads one reservation.
func (s *Service) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.reservations.Get(ctx, id)
}

// ListReservations returns a page of reservations.
func (s *Service) ListReservations(ctx context.Context, f domain.ReservationFilter, page, pageSize int) (*domain.ReservationPage, error) {
	return s.reservations.List(ctx, f, page, pageSize)
}

// MaterializeReports runs all trigger checks for a committed transaction and
// persists the resulting AMLO and BOT rows.
func (s *Service) MaterializeReports(ctx context.Context, transactionID string) (*domain.MaterializeResult, error) {
	return s.materializer.Materialize(ctx, transactionID)
}

// RecordAdjustment checks a branch balance adjustment against the provider
// threshold and queues a BOT_Provider row when it crosses.
func (s *Service) RecordAdjustment(ctx context.Context, adj *domain.BranchAdjustment) (*domain.BOTReport, *domain.Decision, error) {
	return s.materializer.MaterializeProviderAdjustment(ctx, adj)
}

// EmitPDF renders the PDF for a materialized report and returns its path.
// A soft render failure surfaces as an error so the caller knows a retry is
// available; the report row is never rolled back.
func (s *Service) EmitPDF(ctx context.Context, reportID string) (string, error) {
	out, err := s.materializer.EmitPDF(ctx, reportID)
	if err != nil {
		return "", err
	}
	if !out.OK {
		return "", out.Err
	}
	return out.Path, nil
}

// GetReport loads one report record.
func (s *Service) GetReport(ctx context.Context, id string) (*domain.ReportRecord, error) {
	rec, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound("report")
	}
	return rec, nil
}

// ListReports returns report records matching a filter.
func (s *Service) ListReports(ctx context.Context, f domain.ReportFilter) ([]*domain.ReportRecord, error) {
	return s.repo.ListReports(ctx, f)
}

// MarkReported records the regulator submission time on a report.
func (s *Service) MarkReported(ctx context.Context, id string, at time.Time) error {
	if _, err := s.GetReport(ctx, id); err != nil {
		return err
	}
	return s.repo.MarkReported(ctx, id, at)
}

// ExportBOTExcel builds the spreadsheet for one (variant, date, branch).
func (s *Service) ExportBOTExcel(ctx context.Context, variant domain.BOTVariant, date time.Time, branchID string) ([]byte, error) {
	return s.exporter.Export(ctx, variant, date, branchID)
}

// SaveRule validates and persists a trigger rule, then drops the branch's
// cached snapshots. Unknown fields and malformed trees are rejected here;
// rules that decay later are skipped fail-closed at load time.
func (s *Service) SaveRule(ctx context.Context, rule *domain.TriggerRule) (*domain.TriggerRule, error) {
	if err := rules.Validate(rule.Expression); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	s.reload(ctx, rule.BranchID)
	s.logger.Info("rule saved",
		"rule_id", rule.ID,
		"report_type", rule.ReportType,
		"name", rule.Name)
	return rule, nil
}

// GetRule loads one trigger rule.
func (s *Service) GetRule(ctx context.Context, id int64) (*domain.TriggerRule, error) {
	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrNotFound("rule")
	}
	return rule, nil
}

// ListRules returns every trigger rule.
func (s *Service) ListRules(ctx context.Context) ([]*domain.TriggerRule, error) {
	return s.repo.ListRules(ctx)
}

// DeactivateRule retires a rule and drops cached snapshots.
func (s *Service) DeactivateRule(ctx context.Context, id int64) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeactivateRule(ctx, id); err != nil {
		return err
	}
	s.reload(ctx, rule.BranchID)
	return nil
}

// ReloadRules drops a branch's cached rule snapshots so the next check
// reads fresh rows.
func (s *Service) ReloadRules(ctx context.Context, branchID string) error {
	return s.coordinator.ReloadRules(ctx, branchID)
}

// SaveRate posts a daily buy/sell pair for a currency at a branch.
func (s *Service) SaveRate(ctx context.Context, rate *domain.ExchangeRate) error {
	return s.repo.SaveRate(ctx, rate)
}

// normalize builds the fact for a prospective transaction. A missing rate
// leaves USDAvailable false and is not an error here; BOT checks degrade to
// rate_unavailable downstream.
func (s *Service) normalize(ctx context.Context, tx *domain.ExchangeTransaction) (*domain.Fact, error) {
	f, err := s.normalizer.Normalize(ctx, tx)
	if err != nil && !domain.IsKind(err, domain.KindRateUnavailable) {
		return nil, err
	}
	return f, nil
}

// reload drops cached rule snapshots. Global rules can sit in any branch's
// snapshot, so a global write invalidates nothing narrower than the branches
// that read it; callers pass the rule's own branch and rely on the snapshot
// TTL for the rest.
func (s *Service) reload(ctx context.Context, branchID *string) {
	branches := []string{}
	if branchID != nil {
		branches = append(branches, *branchID)
	}
	for _, b := range branches {
		if err := s.coordinator.ReloadRules(ctx, b); err != nil {
			s.logger.Warn("rule snapshot invalidation failed", "branch_id", b, "error", err)
		}
	}
}
