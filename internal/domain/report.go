package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverdueAfter is how long an unreported record may sit before it is flagged.
const OverdueAfter = 72 * time.Hour

// ReportRecord is a regulator-facing report row. PDFPath is empty until the
// overlay renderer succeeds; emission failures never roll the row back.
type ReportRecord struct {
	ID             string         `json:"id"`
	ReportNo       string         `json:"report_no"`
	ReservationID  string         `json:"reservation_id,omitempty"`
	ReportType     ReportType     `json:"report_type"`
	BranchID       string         `json:"branch_id"`
	TransactionRef string         `json:"transaction_ref"`
	Content        map[string]any `json:"content"`
	PDFPath        string         `json:"pdf_path,omitempty"`
	IsReported     bool           `json:"is_reported"`
	ReportedAt     *time.Time     `json:"reported_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Overdue derives the submission-deadline flag. The boundary is exclusive:
// a record exactly OverdueAfter old is not yet overdue.
func (r *ReportRecord) Overdue(now time.Time) bool {
	return !r.IsReported && now.Sub(r.CreatedAt) > OverdueAfter
}

// BOTVariant selects one of the central-bank spreadsheet schemas.
type BOTVariant string

const (
	BOTBuyFX    BOTVariant = "BuyFX"
	BOTSellFX   BOTVariant = "SellFX"
	BOTFCD      BOTVariant = "FCD"
	BOTProvider BOTVariant = "Provider"
)

// VariantFor maps a BOT report family to its spreadsheet variant.
func VariantFor(t ReportType) (BOTVariant, bool) {
	switch t {
	case ReportBOTBuyFX:
		return BOTBuyFX, true
	case ReportBOTSellFX:
		return BOTSellFX, true
	case ReportBOTFCD:
		return BOTFCD, true
	case ReportBOTProvide:
		return BOTProvider, true
	}
	return "", false
}

// BOTReport is one row destined for the BOT export of its variant.
type BOTReport struct {
	ID             string         `json:"id"`
	ReportNo       string         `json:"report_no"`
	Variant        BOTVariant     `json:"variant"`
	BranchID       string         `json:"branch_id"`
	TransactionRef string         `json:"transaction_ref"`
	Content        map[string]any `json:"content"`
	ReportDate     time.Time      `json:"report_date"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BranchAdjustment is a branch-level balance movement considered for
// BOT_Provider reporting. Negative movements are carried as an absolute
// amount plus a direction flag.
type BranchAdjustment struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"` // absolute value
	Increase      bool            `json:"increase"`
	USDEquivalent decimal.Decimal `json:"usd_equivalent"`
	USDAvailable  bool            `json:"usd_available"`
	AdjustedAt    time.Time       `json:"adjusted_at"`
}

// MaterializeResult is what a committed transaction produced.
type MaterializeResult struct {
	AMLO []*ReportRecord `json:"amlo"`
	BOT  []*BOTReport    `json:"bot"`
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	BranchID   string
	ReportType ReportType
	Unreported bool
}
