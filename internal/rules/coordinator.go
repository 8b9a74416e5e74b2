package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/domain"
)

const (
	ruleCachePrefix = "rules:"
	ruleCacheTTL    = 5 * time.Minute
)

// ReasonRateUnavailable marks a BOT decision that could not be made because
// the USD-equivalent figure was missing for the transaction date.
const ReasonRateUnavailable = "rate_unavailable"

// Coordinator resolves trigger decisions per report family. It reads rule
// snapshots through the cache and never writes business state; callers act
// on the returned decisions.
type Coordinator struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger

	providerThreshold decimal.Decimal
}

// NewCoordinator creates a rule coordinator.
func NewCoordinator(repo domain.Repository, cache domain.Cache, providerThreshold decimal.Decimal, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:              repo,
		cache:             cache,
		logger:            logger.With("component", "rules"),
		providerThreshold: providerThreshold,
	}
}

// Check evaluates one report family against a fact. Rules apply in priority
// order (highest first, then oldest id); the first match wins and every
// evaluated rule is retained in Decision.Evaluated.
func (c *Coordinator) Check(ctx context.Context, family domain.ReportType, fact *domain.Fact) (*domain.Decision, error) {
	decision := &domain.Decision{ReportType: family, AllowContinue: true}

	if family.IsBOT() && !fact.USDAvailable {
		decision.Reason = ReasonRateUnavailable
		c.logger.Warn("skipping BOT check, usd rate unavailable",
			"family", family,
			"branch_id", fact.BranchID,
			"date", fact.TransactionDate.Format("2006-01-02"))
		return decision, nil
	}

	ruleSet, err := c.loadRules(ctx, family, fact.BranchID)
	if err != nil {
		return nil, err
	}

	for _, rule := range ruleSet {
		if err := Validate(rule.Expression); err != nil {
			c.logger.Warn("skipping invalid rule",
				"rule_id", rule.ID, "family", family, "error", err)
			decision.Evaluated = append(decision.Evaluated, domain.RuleTrace{
				RuleID: rule.ID, RuleName: rule.Name, Skipped: true,
			})
			continue
		}

		matched, trace, err := EvaluateWithTrace(rule.Expression, fact)
		if err != nil {
			c.logger.Warn("skipping rule, evaluation failed",
				"rule_id", rule.ID, "family", family, "error", err)
			decision.Evaluated = append(decision.Evaluated, domain.RuleTrace{
				RuleID: rule.ID, RuleName: rule.Name, Skipped: true,
			})
			continue
		}

		decision.Evaluated = append(decision.Evaluated, domain.RuleTrace{
			RuleID: rule.ID, RuleName: rule.Name, Matched: matched, Trace: trace,
		})

		if matched {
			decision.Triggered = true
			decision.RuleID = rule.ID
			decision.RuleName = rule.Name
			decision.Priority = rule.Priority
			decision.AllowContinue = rule.AllowContinue
			decision.Message = rule.Message
			decision.Trace = trace
			return decision, nil
		}
	}
	return decision, nil
}

// CheckAll evaluates every customer-facing family (three AMLO, three BOT)
// and returns one decision per family in a stable order.
func (c *Coordinator) CheckAll(ctx context.Context, fact *domain.Fact) ([]*domain.Decision, error) {
	families := append(domain.AMLOFamilies(), domain.BOTFamilies()...)
	decisions := make([]*domain.Decision, 0, len(families))
	for _, family := range families {
		d, err := c.Check(ctx, family, fact)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", family, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// CheckProvider decides whether a branch balance adjustment crosses the
// BOT_Provider reporting threshold. Adjustments carry absolute USD amounts.
func (c *Coordinator) CheckProvider(ctx context.Context, adj *domain.BranchAdjustment) (*domain.Decision, error) {
	decision := &domain.Decision{ReportType: domain.ReportBOTProvide, AllowContinue: true}
	if !adj.USDAvailable {
		decision.Reason = ReasonRateUnavailable
		c.logger.Warn("skipping provider check, usd rate unavailable",
			"branch_id", adj.BranchID, "currency", adj.Currency)
		return decision, nil
	}

	at := domain.AtomTrace{
		Field:    "usd_equivalent",
		Operator: domain.OpGte,
		Value:    c.providerThreshold.String(),
		Actual:   adj.USDEquivalent.String(),
	}
	if adj.USDEquivalent.GreaterThanOrEqual(c.providerThreshold) {
		decision.Triggered = true
		decision.RuleName = "provider_threshold"
		decision.Trace = &domain.Trace{Matched: []domain.AtomTrace{at}}
	} else {
		decision.Trace = &domain.Trace{Unmatched: []domain.AtomTrace{at}}
	}
	return decision, nil
}

// ReloadRules drops the cached snapshots for a branch so the next check
// reads fresh rows. Called after rule writes.
func (c *Coordinator) ReloadRules(ctx context.Context, branchID string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.DeletePrefix(ctx, branchID, ruleCachePrefix)
}

// loadRules returns the active snapshot for a family, cache first. A cache
// failure degrades to a repository read, never to a failed check.
func (c *Coordinator) loadRules(ctx context.Context, family domain.ReportType, branchID string) ([]*domain.TriggerRule, error) {
	key := ruleCachePrefix + string(family)

	if c.cache != nil {
		if data, err := c.cache.Get(ctx, branchID, key); err == nil && data != nil {
			var rules []*domain.TriggerRule
			if err := json.Unmarshal(data, &rules); err == nil {
				return rules, nil
			}
			c.logger.Warn("dropping corrupt rule snapshot", "key", key)
			_ = c.cache.Delete(ctx, branchID, key)
		}
	}

	rules, err := c.repo.ListActiveRules(ctx, family, branchID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	if c.cache != nil {
		if data, err := json.Marshal(rules); err == nil {
			if err := c.cache.Set(ctx, branchID, key, data, ruleCacheTTL); err != nil {
				c.logger.Warn("rule snapshot cache write failed", "key", key, "error", err)
			}
		}
	}
	return rules, nil
}
