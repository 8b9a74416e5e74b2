package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus tracks ledger state; only completed rows count toward
// rolling aggregates.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionVoided    TransactionStatus = "voided"
)

// ExchangeTransaction is the ledger row for one currency exchange. The
// compliance flags record which regulatory paths the transaction took.
type ExchangeTransaction struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`
	SeqNo    int64  `json:"seqno"`

	CustomerID      string `json:"customer_id"`
	CustomerCountry string `json:"customer_country"`
	CustomerAge     *int   `json:"customer_age,omitempty"`

	Currency      string          `json:"currency"`
	Direction     Direction       `json:"direction"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ExchangeType  ExchangeType    `json:"exchange_type"`
	UseFCD        bool            `json:"use_fcd"`
	AmountForeign decimal.Decimal `json:"amount_foreign"`
	Rate          decimal.Decimal `json:"rate"`
	AmountLocal   decimal.Decimal `json:"amount_local"`

	Status TransactionStatus `json:"status"`

	BOTFlag  bool `json:"bot_flag"`
	FCDFlag  bool `json:"fcd_flag"`
	AMLOFlag bool `json:"amlo_flag"`

	CreatedAt time.Time `json:"created_at"`
}

// TransactionFlags is the compliance provenance written back to the ledger
// after materialization.
type TransactionFlags struct {
	BOT  bool
	FCD  bool
	UseF bool
	AMLO bool
}

// ExchangeRate is the day's posted buy/sell pair for a currency at a branch.
type ExchangeRate struct {
	BranchID string          `json:"branch_id"`
	Currency string          `json:"currency"`
	Date     time.Time       `json:"date"`
	Buy      decimal.Decimal `json:"buy"`
	Sell     decimal.Decimal `json:"sell"`
}

// Branch is a money-changer location; Code appears in report numbers.
type Branch struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// BranchStats is the per-branch slice of a customer's rolling window.
type BranchStats struct {
	BranchID string          `json:"branch_id"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
}

// CustomerStats is a customer's rolling-window aggregate across all branches.
type CustomerStats struct {
	TransactionCount    int64           `json:"transaction_count"`
	CumulativeAmountTHB decimal.Decimal `json:"cumulative_amount_thb"`
	PerBranch           []BranchStats   `json:"per_branch"`
}
