// Package fact projects raw exchange transactions into the flat records the
// trigger rules evaluate against.
package fact

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/aggregate"
	"github.com/siamfx/naga/internal/domain"
)

// Normalizer builds Facts from ledger transactions, posted daily rates and
// the customer's rolling window.
type Normalizer struct {
	repo   domain.Repository
	agg    *aggregate.Aggregator
	logger *slog.Logger
}

// NewNormalizer creates a fact normalizer.
func NewNormalizer(repo domain.Repository, agg *aggregate.Aggregator, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{repo: repo, agg: agg, logger: logger.With("component", "fact")}
}

// Normalize builds the Fact for a transaction. The local amount is the
// foreign amount times the transaction's rate, banker's rounded to 2dp.
//
// When the USD-equivalent figure cannot be computed because a required rate
// row is missing, the Fact is still returned with USDAvailable=false
// alongside a rate-unavailable error: AMLO checks proceed on the THB amount
// while BOT checks must report rate_unavailable.
func (n *Normalizer) Normalize(ctx context.Context, tx *domain.ExchangeTransaction) (*domain.Fact, error) {
	f := &domain.Fact{
		AmountForeign:   tx.AmountForeign,
		AmountLocal:     tx.AmountForeign.Mul(tx.Rate).RoundBank(2),
		Currency:        tx.Currency,
		Direction:       tx.Direction,
		PaymentMethod:   tx.PaymentMethod,
		ExchangeType:    tx.ExchangeType,
		UseFCD:          tx.UseFCD,
		CustomerID:      tx.CustomerID,
		CustomerCountry: tx.CustomerCountry,
		CustomerAge:     tx.CustomerAge,
		BranchID:        tx.BranchID,
		TransactionDate: tx.CreatedAt,
	}

	stats, err := n.agg.Stats(ctx, tx.CustomerID, aggregate.DefaultWindowDays)
	if err != nil {
		return nil, fmt.Errorf("rolling window: %w", err)
	}
	f.CumulativeAmount30d = stats.CumulativeAmountTHB.Add(f.AmountLocal)
	f.TransactionCount30d = stats.TransactionCount + 1

	usd, err := n.usdEquivalent(ctx, tx, f.AmountLocal)
	if err != nil {
		n.logger.Warn("usd equivalent unavailable",
			"branch_id", tx.BranchID,
			"currency", tx.Currency,
			"date", tx.CreatedAt.Format("2006-01-02"))
		return f, err
	}
	f.USDEquivalent = usd
	f.USDAvailable = true
	return f, nil
}

// usdEquivalent converts the transaction amount into USD using the day's
// posted rates. USD transactions pass through; everything else bridges over
// THB. Buy flows use the branch's buy rate on the foreign leg and its USD
// sell rate on the bridge; sell flows are symmetric.
func (n *Normalizer) usdEquivalent(ctx context.Context, tx *domain.ExchangeTransaction, local decimal.Decimal) (decimal.Decimal, error) {
	if tx.Currency == "USD" {
		return tx.AmountForeign.RoundBank(2), nil
	}

	usdRate, err := n.postedRate(ctx, tx.BranchID, "USD", tx.CreatedAt)
	if err != nil {
		return decimal.Zero, err
	}

	thb := local
	if tx.Currency != "THB" {
		fxRate, err := n.postedRate(ctx, tx.BranchID, tx.Currency, tx.CreatedAt)
		if err != nil {
			return decimal.Zero, err
		}
		if tx.Direction == domain.DirectionBuy {
			thb = tx.AmountForeign.Mul(fxRate.Buy).RoundBank(2)
		} else {
			thb = tx.AmountForeign.Mul(fxRate.Sell).RoundBank(2)
		}
	}

	divisor := usdRate.Sell
	if tx.Direction == domain.DirectionSell {
		divisor = usdRate.Buy
	}
	if divisor.IsZero() {
		return decimal.Zero, domain.ErrRateUnavailable("USD")
	}
	return thb.DivRound(divisor, 6).RoundBank(2), nil
}

func (n *Normalizer) postedRate(ctx context.Context, branchID, currency string, date time.Time) (*domain.ExchangeRate, error) {
	rate, err := n.repo.GetRate(ctx, branchID, currency, date)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.ErrRateUnavailable(currency)
		}
		return nil, fmt.Errorf("get rate %s: %w", currency, err)
	}
	if rate == nil {
		return nil, domain.ErrRateUnavailable(currency)
	}
	return rate, nil
}

// AdjustmentFact computes the USD equivalent of a branch balance adjustment
// for the provider threshold check. Unknown rates leave USDAvailable false.
func (n *Normalizer) AdjustmentFact(ctx context.Context, adj *domain.BranchAdjustment) *domain.BranchAdjustment {
	out := *adj
	switch adj.Currency {
	case "USD":
		out.USDEquivalent = adj.Amount.RoundBank(2)
		out.USDAvailable = true
	case "THB":
		usdRate, err := n.postedRate(ctx, adj.BranchID, "USD", adj.AdjustedAt)
		if err != nil || usdRate.Sell.IsZero() {
			out.USDAvailable = false
			return &out
		}
		out.USDEquivalent = adj.Amount.DivRound(usdRate.Sell, 6).RoundBank(2)
		out.USDAvailable = true
	default:
		fxRate, err := n.postedRate(ctx, adj.BranchID, adj.Currency, adj.AdjustedAt)
		if err != nil {
			out.USDAvailable = false
			return &out
		}
		usdRate, err := n.postedRate(ctx, adj.BranchID, "USD", adj.AdjustedAt)
		if err != nil || usdRate.Sell.IsZero() {
			out.USDAvailable = false
			return &out
		}
		thb := adj.Amount.Mul(fxRate.Buy).RoundBank(2)
		out.USDEquivalent = thb.DivRound(usdRate.Sell, 6).RoundBank(2)
		out.USDAvailable = true
	}
	return &out
}
