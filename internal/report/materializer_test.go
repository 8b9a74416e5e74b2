package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/aggregate"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/fact"
	"github.com/siamfx/naga/internal/repository"
	"github.com/siamfx/naga/internal/reservation"
	"github.com/siamfx/naga/internal/rules"
	"github.com/siamfx/naga/internal/sequence"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo domain.Repository
	mat  *Materializer
	res  *reservation.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "naga-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := domain.FixedClock{T: testNow}
	agg := aggregate.New(repo, clock, nil)
	norm := fact.NewNormalizer(repo, agg, nil)
	coord := rules.NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)
	seq := sequence.New(repo, clock)
	resStore := reservation.NewStore(repo, seq, nil, clock, nil)

	cfg := domain.ComplianceConfig{PendingWindowHours: 72}
	mat := NewMaterializer(repo, coord, norm, seq, resStore, nil, nil, clock, cfg, nil)

	return &fixture{repo: repo, mat: mat, res: resStore}
}

func (f *fixture) seed(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := f.repo.SaveBranch(ctx, &domain.Branch{ID: "BKK01", Code: "A005", Name: "สาขาสีลม"}); err != nil {
		t.Fatalf("SaveBranch failed: %v", err)
	}

	ctr := &domain.TriggerRule{
		ReportType: domain.ReportAMLOCTR,
		Name:       "cash threshold",
		Priority:   10,
		IsActive:   true,
		Expression: &domain.RuleNode{Field: "total_amount", Operator: domain.OpGte, Value: float64(2000000)},
		Message:    domain.Message{EN: "CTR threshold reached"},
	}
	buyFX := &domain.TriggerRule{
		ReportType: domain.ReportBOTBuyFX,
		Name:       "usd buy threshold",
		Priority:   10,
		IsActive:   true,
		Expression: &domain.RuleNode{
			Logic: domain.LogicAnd,
			Conditions: []*domain.RuleNode{
				{Field: "direction", Operator: domain.OpEq, Value: "buy"},
				{Field: "usd_equivalent", Operator: domain.OpGte, Value: float64(20000)},
			},
		},
		AllowContinue: true,
	}
	for _, rule := range []*domain.TriggerRule{ctr, buyFX} {
		if err := f.repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}
}

func saveTx(t *testing.T, ctx context.Context, repo domain.Repository, tx *domain.ExchangeTransaction) {
	t.Helper()
	if tx.Status == "" {
		tx.Status = domain.TransactionCompleted
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = testNow
	}
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()

	t.Run("WalkInSynthesizesReservation", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)
		saveTx(t, ctx, f.repo, &domain.ExchangeTransaction{
			ID: "tx-1", BranchID: "BKK01", SeqNo: 1,
			CustomerID:    "C-1001",
			Currency:      "USD",
			Direction:     domain.DirectionBuy,
			PaymentMethod: domain.PaymentCash,
			ExchangeType:  domain.ExchangeNormal,
			AmountForeign: decimal.NewFromInt(100000),
			Rate:          decimal.RequireFromString("35.6500"),
			AmountLocal:   decimal.RequireFromString("3565000.00"),
		})

		result, err := f.mat.Materialize(ctx, "tx-1")
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}

		if len(result.AMLO) != 1 {
			t.Fatalf("AMLO reports = %d, want 1", len(result.AMLO))
		}
		rec := result.AMLO[0]
		if rec.ReportNo != "AMLO-1-01_A005-2026000001" {
			t.Errorf("report_no = %q", rec.ReportNo)
		}
		if rec.TransactionRef != "tx-1" {
			t.Errorf("transaction_ref = %q", rec.TransactionRef)
		}
		if rec.Content["currency"] != "USD" || rec.Content["branch"] != "A005" {
			t.Errorf("content = %v", rec.Content)
		}

		// The walk-in customer had no reservation; one is synthesized and
		// already completed.
		res, err := f.repo.GetReservation(ctx, rec.ReservationID)
		if err != nil || res == nil {
			t.Fatalf("synthesized reservation missing: %v", err)
		}
		if res.Status != domain.ReservationCompleted {
			t.Errorf("status = %s, want completed", res.Status)
		}
		if res.TransactionRef != "tx-1" {
			t.Errorf("reservation transaction_ref = %q", res.TransactionRef)
		}
		if !strings.HasPrefix(res.ReservationNo, "AMLO-1-01_BKK01-2026-") {
			t.Errorf("reservation_no = %q", res.ReservationNo)
		}

		if len(result.BOT) != 1 {
			t.Fatalf("BOT reports = %d, want 1", len(result.BOT))
		}
		row := result.BOT[0]
		if row.Variant != domain.BOTBuyFX {
			t.Errorf("variant = %s", row.Variant)
		}
		if row.Content["usd_equivalent"] != "100000.00" {
			t.Errorf("usd_equivalent = %v", row.Content["usd_equivalent"])
		}
		if row.Content["amount_thb"] != "3565000.00" {
			t.Errorf("amount_thb = %v", row.Content["amount_thb"])
		}

		tx, err := f.repo.GetTransaction(ctx, "tx-1")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !tx.AMLOFlag || !tx.BOTFlag || tx.FCDFlag {
			t.Errorf("flags = amlo=%v bot=%v fcd=%v", tx.AMLOFlag, tx.BOTFlag, tx.FCDFlag)
		}
	})

	t.Run("BindsApprovedReservation", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)

		audited := testNow.Add(-2 * time.Hour)
		res := &domain.Reservation{
			ID:            "res-1",
			ReservationNo: "AMLO-1-01_BKK01-2026-000001",
			ReportType:    domain.ReportAMLOCTR,
			BranchID:      "BKK01",
			CustomerRef:   "C-1001",
			FormData:      map[string]any{"maker_name": "สมชาย ใจดี"},
			Direction:     domain.DirectionBuy,
			Amount:        decimal.NewFromInt(100000),
			LocalAmount:   decimal.RequireFromString("3565000.00"),
			Status:        domain.ReservationApproved,
			AuditedAt:     &audited,
			AuditedBy:     "aud-1",
			CreatedAt:     testNow.Add(-3 * time.Hour),
		}
		if err := f.repo.SaveReservation(ctx, res); err != nil {
			t.Fatalf("SaveReservation failed: %v", err)
		}

		saveTx(t, ctx, f.repo, &domain.ExchangeTransaction{
			ID: "tx-2", BranchID: "BKK01", SeqNo: 2,
			CustomerID:    "C-1001",
			Currency:      "USD",
			Direction:     domain.DirectionBuy,
			PaymentMethod: domain.PaymentCash,
			ExchangeType:  domain.ExchangeNormal,
			AmountForeign: decimal.NewFromInt(100000),
			Rate:          decimal.RequireFromString("35.6500"),
			AmountLocal:   decimal.RequireFromString("3565000.00"),
		})

		result, err := f.mat.Materialize(ctx, "tx-2")
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if len(result.AMLO) != 1 {
			t.Fatalf("AMLO reports = %d, want 1", len(result.AMLO))
		}
		if result.AMLO[0].ReservationID != "res-1" {
			t.Errorf("reservation_id = %q, want res-1", result.AMLO[0].ReservationID)
		}
		// Operator-entered form data survives into the report content.
		if result.AMLO[0].Content["maker_name"] != "สมชาย ใจดี" {
			t.Errorf("content = %v", result.AMLO[0].Content)
		}

		got, err := f.repo.GetReservation(ctx, "res-1")
		if err != nil {
			t.Fatalf("GetReservation failed: %v", err)
		}
		if got.Status != domain.ReservationCompleted || got.TransactionRef != "tx-2" {
			t.Errorf("reservation = status=%s ref=%q", got.Status, got.TransactionRef)
		}
	})

	t.Run("RateUnavailableSkipsBOTOnly", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)

		// EUR transaction with no posted EUR rate: the USD equivalent cannot
		// be derived, BOT families degrade, AMLO still runs on THB.
		saveTx(t, ctx, f.repo, &domain.ExchangeTransaction{
			ID: "tx-3", BranchID: "BKK01", SeqNo: 3,
			CustomerID:    "C-2002",
			Currency:      "EUR",
			Direction:     domain.DirectionBuy,
			PaymentMethod: domain.PaymentCash,
			ExchangeType:  domain.ExchangeNormal,
			AmountForeign: decimal.NewFromInt(60000),
			Rate:          decimal.RequireFromString("38.0000"),
			AmountLocal:   decimal.RequireFromString("2280000.00"),
		})

		result, err := f.mat.Materialize(ctx, "tx-3")
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if len(result.AMLO) != 1 {
			t.Errorf("AMLO reports = %d, want 1", len(result.AMLO))
		}
		if len(result.BOT) != 0 {
			t.Errorf("BOT reports = %d, want 0 when rate unavailable", len(result.BOT))
		}

		tx, err := f.repo.GetTransaction(ctx, "tx-3")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !tx.AMLOFlag || tx.BOTFlag {
			t.Errorf("flags = amlo=%v bot=%v", tx.AMLOFlag, tx.BOTFlag)
		}
	})

	t.Run("BelowThresholdNoReports", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)
		saveTx(t, ctx, f.repo, &domain.ExchangeTransaction{
			ID: "tx-4", BranchID: "BKK01", SeqNo: 4,
			CustomerID:    "C-3003",
			Currency:      "USD",
			Direction:     domain.DirectionBuy,
			PaymentMethod: domain.PaymentCash,
			ExchangeType:  domain.ExchangeNormal,
			AmountForeign: decimal.NewFromInt(500),
			Rate:          decimal.RequireFromString("35.6500"),
			AmountLocal:   decimal.RequireFromString("17825.00"),
		})

		result, err := f.mat.Materialize(ctx, "tx-4")
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if len(result.AMLO) != 0 || len(result.BOT) != 0 {
			t.Errorf("result = %+v, want empty", result)
		}
	})

	t.Run("MissingTransaction", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)
		_, err := f.mat.Materialize(ctx, "no-such-tx")
		if !domain.IsKind(err, domain.KindNotFound) {
			t.Errorf("err = %v, want not found", err)
		}
	})
}

func TestMaterializeProviderAdjustment(t *testing.T) {
	ctx := context.Background()

	t.Run("OverThreshold", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)

		row, decision, err := f.mat.MaterializeProviderAdjustment(ctx, &domain.BranchAdjustment{
			ID:         "adj-1",
			BranchID:   "BKK01",
			Currency:   "USD",
			Amount:     decimal.NewFromInt(75000),
			Increase:   true,
			AdjustedAt: testNow,
		})
		if err != nil {
			t.Fatalf("MaterializeProviderAdjustment failed: %v", err)
		}
		if !decision.Triggered {
			t.Fatal("expected provider trigger")
		}
		if row == nil || row.Variant != domain.BOTProvider {
			t.Fatalf("row = %+v", row)
		}
		if row.ReportNo != "BOT_Provider_A005-2026000001" {
			t.Errorf("report_no = %q", row.ReportNo)
		}
		if row.Content["direction"] != "increase" || row.Content["usd_equivalent"] != "75000.00" {
			t.Errorf("content = %v", row.Content)
		}
	})

	t.Run("UnderThreshold", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)

		row, decision, err := f.mat.MaterializeProviderAdjustment(ctx, &domain.BranchAdjustment{
			ID:         "adj-2",
			BranchID:   "BKK01",
			Currency:   "USD",
			Amount:     decimal.NewFromInt(100),
			AdjustedAt: testNow,
		})
		if err != nil {
			t.Fatalf("MaterializeProviderAdjustment failed: %v", err)
		}
		if decision.Triggered || row != nil {
			t.Errorf("row = %+v triggered = %v, want no report", row, decision.Triggered)
		}
	})

	t.Run("RateUnavailable", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, ctx)

		row, decision, err := f.mat.MaterializeProviderAdjustment(ctx, &domain.BranchAdjustment{
			ID:         "adj-3",
			BranchID:   "BKK01",
			Currency:   "JPY",
			Amount:     decimal.NewFromInt(90000000),
			AdjustedAt: testNow,
		})
		if err != nil {
			t.Fatalf("MaterializeProviderAdjustment failed: %v", err)
		}
		if decision.Triggered || row != nil {
			t.Errorf("expected no trigger without posted rates")
		}
		if decision.Reason != rules.ReasonRateUnavailable {
			t.Errorf("reason = %q", decision.Reason)
		}
	})
}
