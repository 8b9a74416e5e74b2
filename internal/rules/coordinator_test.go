package rules

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/domain"
)

// stubRepo serves rule snapshots and counts reads; the embedded interface
// panics on anything the coordinator should not touch.
type stubRepo struct {
	domain.Repository

	mu    sync.Mutex
	rules map[domain.ReportType][]*domain.TriggerRule
	reads int
}

func (s *stubRepo) ListActiveRules(_ context.Context, family domain.ReportType, _ string) ([]*domain.TriggerRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.rules[family], nil
}

type stubCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{data: make(map[string][]byte)}
}

func (c *stubCache) Get(_ context.Context, branchID, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[branchID+"/"+key], nil
}

func (c *stubCache) Set(_ context.Context, branchID, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[branchID+"/"+key] = value
	return nil
}

func (c *stubCache) Delete(_ context.Context, branchID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, branchID+"/"+key)
	return nil
}

func (c *stubCache) DeletePrefix(_ context.Context, branchID, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, branchID+"/"+prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *stubCache) Ping(context.Context) error { return nil }
func (c *stubCache) Close() error               { return nil }

func thresholdRule(id int64, priority int, threshold int64, allowContinue bool) *domain.TriggerRule {
	return &domain.TriggerRule{
		ID:         id,
		ReportType: domain.ReportAMLOCTR,
		Name:       "ctr_threshold",
		Priority:   priority,
		IsActive:   true,
		Expression: &domain.RuleNode{
			Logic: domain.LogicAnd,
			Conditions: []*domain.RuleNode{
				{Field: "total_amount", Operator: domain.OpGte, Value: float64(threshold)},
				{Field: "payment_method", Operator: domain.OpEq, Value: "cash"},
			},
		},
		AllowContinue: allowContinue,
		Message:       domain.Message{EN: "cash threshold reached", TH: "ถึงเกณฑ์เงินสด"},
	}
}

func TestCheckFirstMatchWins(t *testing.T) {
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{
		// repository order: priority DESC, id ASC
		domain.ReportAMLOCTR: {
			thresholdRule(2, 20, 100000, false),
			thresholdRule(1, 10, 50000, true),
		},
	}}
	coord := NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)

	fact := testFact()
	d, err := coord.Check(context.Background(), domain.ReportAMLOCTR, fact)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Triggered {
		t.Fatal("expected trigger")
	}
	if d.RuleID != 2 {
		t.Errorf("winning rule = %d, want 2 (highest priority)", d.RuleID)
	}
	if d.AllowContinue {
		t.Error("winning rule blocks, decision must not allow continue")
	}
	if len(d.Evaluated) != 1 {
		t.Errorf("evaluated = %d rules, want 1 (first match stops)", len(d.Evaluated))
	}
	if d.Message.In("th") == "" {
		t.Error("decision should carry the rule message")
	}
}

func TestCheckNoMatchKeepsTraces(t *testing.T) {
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{
		domain.ReportAMLOCTR: {thresholdRule(1, 10, 9000000, false)},
	}}
	coord := NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)

	d, err := coord.Check(context.Background(), domain.ReportAMLOCTR, testFact())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Triggered {
		t.Fatal("expected no trigger")
	}
	if !d.AllowContinue {
		t.Error("no trigger must allow continue")
	}
	if len(d.Evaluated) != 1 || d.Evaluated[0].Matched {
		t.Fatalf("evaluated = %+v, want one unmatched trace", d.Evaluated)
	}
	if d.Evaluated[0].Trace == nil || len(d.Evaluated[0].Trace.Unmatched) == 0 {
		t.Error("unmatched atoms should be retained for diagnostics")
	}
}

func TestCheckSkipsInvalidRule(t *testing.T) {
	broken := &domain.TriggerRule{
		ID: 7, ReportType: domain.ReportAMLOCTR, Name: "broken", Priority: 99, IsActive: true,
		Expression: &domain.RuleNode{Field: "amount_usd", Operator: domain.OpGt, Value: float64(1)},
	}
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{
		domain.ReportAMLOCTR: {broken, thresholdRule(1, 10, 50000, true)},
	}}
	coord := NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)

	d, err := coord.Check(context.Background(), domain.ReportAMLOCTR, testFact())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Triggered || d.RuleID != 1 {
		t.Errorf("decision = %+v, want rule 1 after skipping broken rule", d)
	}
	if len(d.Evaluated) != 2 || !d.Evaluated[0].Skipped {
		t.Errorf("evaluated = %+v, want broken rule marked skipped", d.Evaluated)
	}
}

func TestCheckBOTRateUnavailable(t *testing.T) {
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{}}
	coord := NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)

	fact := testFact()
	fact.USDAvailable = false

	d, err := coord.Check(context.Background(), domain.ReportBOTBuyFX, fact)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Triggered {
		t.Error("unavailable rate must not trigger")
	}
	if d.Reason != ReasonRateUnavailable {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonRateUnavailable)
	}
	if repo.reads != 0 {
		t.Error("rate-unavailable check should not load rules")
	}
}

func TestCheckAllCoversSixFamilies(t *testing.T) {
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{
		domain.ReportAMLOCTR: {thresholdRule(1, 10, 50000, true)},
	}}
	coord := NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)

	decisions, err := coord.CheckAll(context.Background(), testFact())
	if err != nil {
		t.Fatalf("check all: %v", err)
	}
	if len(decisions) != 6 {
		t.Fatalf("decisions = %d, want 6", len(decisions))
	}
	if decisions[0].ReportType != domain.ReportAMLOCTR || !decisions[0].Triggered {
		t.Errorf("first decision = %+v, want triggered CTR", decisions[0])
	}
	for _, d := range decisions[1:] {
		if d.Triggered {
			t.Errorf("family %s triggered without rules", d.ReportType)
		}
	}
}

func TestCheckProviderThreshold(t *testing.T) {
	coord := NewCoordinator(&stubRepo{}, nil, decimal.NewFromInt(50000), nil)

	cases := []struct {
		name   string
		adj    domain.BranchAdjustment
		want   bool
		reason string
	}{
		{
			name: "at threshold",
			adj: domain.BranchAdjustment{
				USDEquivalent: decimal.NewFromInt(50000), USDAvailable: true,
			},
			want: true,
		},
		{
			name: "below threshold",
			adj: domain.BranchAdjustment{
				USDEquivalent: decimal.RequireFromString("49999.99"), USDAvailable: true,
			},
			want: false,
		},
		{
			name:   "rate unavailable",
			adj:    domain.BranchAdjustment{USDAvailable: false},
			want:   false,
			reason: ReasonRateUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := coord.CheckProvider(context.Background(), &tc.adj)
			if err != nil {
				t.Fatalf("check provider: %v", err)
			}
			if d.Triggered != tc.want {
				t.Errorf("triggered = %v, want %v", d.Triggered, tc.want)
			}
			if d.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", d.Reason, tc.reason)
			}
		})
	}
}

func TestRuleSnapshotCaching(t *testing.T) {
	repo := &stubRepo{rules: map[domain.ReportType][]*domain.TriggerRule{
		domain.ReportAMLOCTR: {thresholdRule(1, 10, 50000, true)},
	}}
	cache := newStubCache()
	coord := NewCoordinator(repo, cache, decimal.NewFromInt(50000), nil)

	ctx := context.Background()
	fact := testFact()

	for i := 0; i < 3; i++ {
		if _, err := coord.Check(ctx, domain.ReportAMLOCTR, fact); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if repo.reads != 1 {
		t.Errorf("repository reads = %d, want 1 (snapshot cached)", repo.reads)
	}

	if err := coord.ReloadRules(ctx, fact.BranchID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := coord.Check(ctx, domain.ReportAMLOCTR, fact); err != nil {
		t.Fatalf("check after reload: %v", err)
	}
	if repo.reads != 2 {
		t.Errorf("repository reads = %d, want 2 after invalidation", repo.reads)
	}
}
