// Package sequence allocates per-branch daily counters and composes the
// identifiers embedded in reservations, reports and receipts.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/siamfx/naga/internal/domain"
)

// Counter kinds. Each kind draws from its own per-(branch, date) counter.
const (
	KindReservation = "reservation"
	KindReport      = "report"
	KindReceipt     = "receipt"
)

// Service hands out strictly increasing, gapless sequence numbers. The
// counter row is locked for the duration of the allocation; callers must
// allocate before any slow work such as PDF rendering.
type Service struct {
	repo  domain.Repository
	clock domain.Clock
}

// New creates a sequence service.
func New(repo domain.Repository, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{repo: repo, clock: clock}
}

// Next allocates the next number for (branch, today, kind). Counters reset
// at the local-date boundary and never reuse gaps.
func (s *Service) Next(ctx context.Context, branchID, kind string) (int64, error) {
	return s.NextFor(ctx, branchID, kind, s.clock.Now())
}

// NextFor allocates against an explicit date.
func (s *Service) NextFor(ctx context.Context, branchID, kind string, date time.Time) (int64, error) {
	seq, err := s.repo.NextSequence(ctx, branchID, date, kind)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s/%s: %w", branchID, kind, err)
	}
	return seq, nil
}

// ReservationNo composes a reservation identifier:
// <report_type>_<branch>-<YYYY>-<seq6>.
func (s *Service) ReservationNo(ctx context.Context, reportType domain.ReportType, branchID string) (string, error) {
	now := s.clock.Now()
	seq, err := s.NextFor(ctx, branchID, KindReservation, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s-%04d-%06d", reportType, branchID, now.Year(), seq), nil
}

// ReportNo composes a report identifier unique per (report_type, branch,
// year): <report_type>_<branch_code>-<YYYY><seq6>.
func (s *Service) ReportNo(ctx context.Context, reportType domain.ReportType, branchID, branchCode string) (string, error) {
	now := s.clock.Now()
	seq, err := s.NextFor(ctx, branchID, KindReport, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s-%04d%06d", reportType, branchCode, now.Year(), seq), nil
}
