// Package aggregate computes rolling-window customer statistics used by the
// cumulative trigger rules. Figures are always read from the repository on
// demand; a cached window would let a customer split a large exchange across
// branches inside the staleness gap.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siamfx/naga/internal/domain"
)

// DefaultWindowDays is the regulator's rolling window.
const DefaultWindowDays = 30

// Aggregator answers rolling-window questions about a customer across all
// branches.
type Aggregator struct {
	repo   domain.Repository
	clock  domain.Clock
	logger *slog.Logger
}

// New creates an aggregator.
func New(repo domain.Repository, clock domain.Clock, logger *slog.Logger) *Aggregator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{repo: repo, clock: clock, logger: logger.With("component", "aggregate")}
}

// Stats returns the customer's completed-transaction aggregate over the
// trailing window of whole days, ending now (exclusive). Voided rows never
// count.
func (a *Aggregator) Stats(ctx context.Context, customerID string, days int) (*domain.CustomerStats, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	now := a.clock.Now()
	since := now.AddDate(0, 0, -days)

	stats, err := a.repo.CustomerStats(ctx, customerID, since, now)
	if err != nil {
		return nil, fmt.Errorf("customer stats %s: %w", customerID, err)
	}

	a.logger.Debug("rolling window computed",
		"customer_id", customerID,
		"days", days,
		"count", stats.TransactionCount,
		"amount_thb", stats.CumulativeAmountTHB.String())
	return stats, nil
}

// WindowStart returns the inclusive lower bound of the trailing window as of
// a given instant.
func WindowStart(now time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return now.AddDate(0, 0, -days)
}
