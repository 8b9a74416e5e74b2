package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of an exchange from the branch's point of view.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// PaymentMethod is how the customer settled the local leg.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCard     PaymentMethod = "card"
	PaymentFCD      PaymentMethod = "fcd"
	PaymentOther    PaymentMethod = "other"
)

// ExchangeType distinguishes plain cash exchanges from asset-backed ones.
type ExchangeType string

const (
	ExchangeNormal      ExchangeType = "normal"
	ExchangeAssetBacked ExchangeType = "asset_backed"
)

// Fact is the flat, normalized projection of a transaction that trigger
// rules evaluate against. It is built per evaluation and discarded;
// monetary values are exact decimals.
type Fact struct {
	AmountForeign decimal.Decimal `json:"amount_foreign"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
	Currency      string          `json:"currency"`
	Direction     Direction       `json:"direction"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ExchangeType  ExchangeType    `json:"exchange_type"`
	UseFCD        bool            `json:"use_fcd"`

	// USDEquivalent is only meaningful when USDAvailable is true; when the
	// required rate row is missing, BOT checks must report rate_unavailable
	// instead of evaluating against a stale figure.
	USDEquivalent decimal.Decimal `json:"usd_equivalent"`
	USDAvailable  bool            `json:"usd_available"`

	CustomerID      string `json:"customer_id"`
	CustomerCountry string `json:"customer_country"`
	CustomerAge     *int   `json:"customer_age,omitempty"`

	CumulativeAmount30d decimal.Decimal `json:"cumulative_amount_30d"`
	TransactionCount30d int64           `json:"transaction_count_30d"`

	BranchID        string    `json:"branch_id"`
	TransactionDate time.Time `json:"transaction_date"`
}

// FactFields is the closed set of field names rule atoms may reference.
// total_amount is the conventional alias for amount_local used by the
// regulator-threshold rules.
var FactFields = map[string]bool{
	"amount_foreign":        true,
	"amount_local":          true,
	"total_amount":          true,
	"currency":              true,
	"direction":             true,
	"payment_method":        true,
	"exchange_type":         true,
	"use_fcd":               true,
	"usd_equivalent":        true,
	"customer_id":           true,
	"customer_country":      true,
	"customer_age":          true,
	"cumulative_amount_30d": true,
	"transaction_count_30d": true,
	"branch_id":             true,
	"transaction_date":      true,
}

// Get resolves a field by name with explicit null semantics: a known field
// with no value (unset age, unavailable USD rate) returns (nil, true), and
// an unknown name returns (nil, false).
func (f *Fact) Get(name string) (any, bool) {
	switch name {
	case "amount_foreign":
		return f.AmountForeign, true
	case "amount_local", "total_amount":
		return f.AmountLocal, true
	case "currency":
		return f.Currency, true
	case "direction":
		return string(f.Direction), true
	case "payment_method":
		return string(f.PaymentMethod), true
	case "exchange_type":
		return string(f.ExchangeType), true
	case "use_fcd":
		return f.UseFCD, true
	case "usd_equivalent":
		if !f.USDAvailable {
			return nil, true
		}
		return f.USDEquivalent, true
	case "customer_id":
		return f.CustomerID, true
	case "customer_country":
		return f.CustomerCountry, true
	case "customer_age":
		if f.CustomerAge == nil {
			return nil, true
		}
		return int64(*f.CustomerAge), true
	case "cumulative_amount_30d":
		return f.CumulativeAmount30d, true
	case "transaction_count_30d":
		return f.TransactionCount30d, true
	case "branch_id":
		return f.BranchID, true
	case "transaction_date":
		return f.TransactionDate, true
	default:
		return nil, false
	}
}
