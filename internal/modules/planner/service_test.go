package planner

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/drift"
	"github.com/aristath/helmsman/internal/modules/lots"
	"github.com/aristath/helmsman/internal/modules/washsale"
)

// --- stubs -----------------------------------------------------------------

type stubSnapshots struct {
	taxpayers []string
	snaps     map[string]*domain.Snapshot
}

func (s *stubSnapshots) Taxpayers(string) ([]string, error) {
	return s.taxpayers, nil
}

func (s *stubSnapshots) Snapshot(_, taxpayer string, _ time.Time) (*domain.Snapshot, error) {
	snap, ok := s.snaps[taxpayer]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", taxpayer)
	}
	return snap, nil
}

type stubSecurities struct {
	securities []domain.Security
}

func (s *stubSecurities) ByTicker(ticker string) (*domain.Security, error) {
	for i := range s.securities {
		if s.securities[i].Ticker == ticker {
			return &s.securities[i], nil
		}
	}
	return nil, nil
}

func (s *stubSecurities) ByBucket(code string) ([]domain.Security, error) {
	var out []domain.Security
	for _, sec := range s.securities {
		if sec.BucketCode == code {
			out = append(out, sec)
		}
	}
	return out, nil
}

func (s *stubSecurities) ByAssetClass(class string) ([]domain.Security, error) {
	var out []domain.Security
	for _, sec := range s.securities {
		if sec.AssetClass == class {
			out = append(out, sec)
		}
	}
	return out, nil
}

type stubPolicies struct {
	policy *domain.Policy
}

func (s *stubPolicies) Get(policyID string) (*domain.Policy, error) {
	if s.policy == nil || s.policy.ID != policyID {
		return nil, fmt.Errorf("policy %s not found", policyID)
	}
	return s.policy, nil
}

type stubHistory struct {
	buys []domain.BuyEvent
}

func (s *stubHistory) BuysInWindow(taxpayer string, from, to time.Time) ([]domain.BuyEvent, error) {
	var out []domain.BuyEvent
	for _, b := range s.buys {
		if b.Taxpayer == taxpayer && !b.ExecutedAt.Before(from) && !b.ExecutedAt.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// --- helpers ---------------------------------------------------------------

var asOf = time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

func testUniverse() []domain.Security {
	return []domain.Security{
		{Ticker: "BND", AssetClass: "us_bond", BucketCode: domain.BucketBonds, SubstitutionGroup: "agg", ExpenseRatio: 0.0003, LastPrice: 72, Active: true},
		{Ticker: "VTI", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "total_us", ExpenseRatio: 0.0003, LastPrice: 250, Active: true},
		{Ticker: "ITOT", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "sp_total", ExpenseRatio: 0.0003, LastPrice: 110, Active: true},
		{Ticker: "SCHB", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "broad_us", ExpenseRatio: 0.0003, LastPrice: 58, Active: true},
		{Ticker: "ARKK", AssetClass: "us_equity", BucketCode: domain.BucketAlpha, SubstitutionGroup: "ark", ExpenseRatio: 0.0075, LastPrice: 45, Active: true},
	}
}

func testPolicy(buckets []domain.Bucket, maxSingleName float64) *domain.Policy {
	p := &domain.Policy{ID: "pol-test", Name: "Test", Buckets: buckets}
	p.Constraints.MaxSingleName = maxSingleName
	return p
}

func threeBucketPolicy(maxSingleName float64) *domain.Policy {
	return testPolicy([]domain.Bucket{
		{Code: domain.BucketCash, Target: 0.05, Min: 0.02, Max: 0.20},
		{Code: domain.BucketBonds, Target: 0.40, Min: 0.10, Max: 0.60},
		{Code: domain.BucketCoreEquity, Target: 0.55, Min: 0.30, Max: 0.70},
	}, maxSingleName)
}

func holding(taxpayer, account, ticker, bucket string, price float64, lotList ...domain.Lot) domain.Holding {
	mv := 0.0
	for _, l := range lotList {
		mv += l.Quantity * price
	}
	return domain.Holding{
		Taxpayer:    taxpayer,
		Account:     account,
		Ticker:      ticker,
		BucketCode:  bucket,
		Price:       price,
		MarketValue: mv,
		Lots:        lotList,
	}
}

func lot(id string, acquired time.Time, qty, basisPerShare float64) domain.Lot {
	return domain.Lot{ID: id, AcquiredAt: acquired, Quantity: qty, Basis: qty * basisPerShare}
}

func newTestService(snaps *stubSnapshots, secs *stubSecurities, policy *domain.Policy, history *stubHistory) *Service {
	log := zerolog.Nop()
	return NewService(
		snaps,
		secs,
		&stubPolicies{policy: policy},
		lots.NewSelector(log),
		washsale.NewClassifier(history, secs, log),
		drift.NewEvaluator(log),
		log,
	)
}

func baseConfig() domain.PlannerConfig {
	cfg := domain.DefaultPlannerConfig()
	cfg.Rates = domain.RateAssumptions{Ordinary: 0.37, LTCG: 0.20}
	return cfg
}

func tradesBySide(plan *domain.Plan, side domain.Side) []domain.TradeRecommendation {
	var out []domain.TradeRecommendation
	for _, tr := range plan.Trades {
		if tr.Side == side {
			out = append(out, tr)
		}
	}
	return out
}

// --- tests -----------------------------------------------------------------

func TestCreatePlan_Rebalance(t *testing.T) {
	// Core equity is 15k over target, bonds 15k under. The plan should
	// sell VTI down and redeploy the proceeds into BND.
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-old", asOf.AddDate(-4, 0, 0), 280, 100)),
			holding("alice", "brokerage", "BND", domain.BucketBonds, 72.0,
				lot("bnd-1", asOf.AddDate(-2, 0, 0), 25_000/72.0, 72)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		threeBucketPolicy(0.80),
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: baseConfig()})
	require.NoError(t, err)

	sells := tradesBySide(plan, domain.SideSell)
	buys := tradesBySide(plan, domain.SideBuy)
	require.Len(t, sells, 1)
	require.Len(t, buys, 1)

	assert.Equal(t, "VTI", sells[0].Ticker)
	assert.InDelta(t, 15_000, sells[0].Value, 1)
	assert.InDelta(t, 60, sells[0].Quantity, 0.01)
	assert.False(t, sells[0].RequiresOverride)

	assert.Equal(t, "BND", buys[0].Ticker)
	assert.InDelta(t, 15_000, buys[0].Value, 1)
	assert.Equal(t, domain.BucketBonds, buys[0].BucketCode)
	assert.Equal(t, "brokerage", buys[0].Account)

	// 60 shares sold at a 150/share long-term gain.
	assert.InDelta(t, 9_000, plan.Tax.LongTermGain, 1)
	assert.Zero(t, plan.Tax.ShortTermGain)
	assert.InDelta(t, 1_800, plan.Tax.EstimatedDelta, 1)
	require.Len(t, plan.Tax.ByTaxpayer, 1)
	assert.Equal(t, "alice", plan.Tax.ByTaxpayer[0].Taxpayer)

	// Projected allocation lands on target for every bucket.
	for _, row := range plan.ProjectedDrift.Rows {
		assert.Equal(t, domain.DriftGreen, row.Status, "bucket %s", row.BucketCode)
	}
	assert.Len(t, plan.Picks["VTI"], 1)
	assert.Empty(t, plan.Warnings)
}

func TestCreatePlan_Deterministic(t *testing.T) {
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-old", asOf.AddDate(-4, 0, 0), 280, 100)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		threeBucketPolicy(0.80),
		&stubHistory{},
	)
	req := Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: baseConfig()}

	first, err := svc.CreatePlan(req)
	require.NoError(t, err)
	second, err := svc.CreatePlan(req)
	require.NoError(t, err)

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.Equal(t, first.Trades[i].ID, second.Trades[i].ID)
		assert.Equal(t, first.Trades[i], second.Trades[i])
	}
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreatePlan_RaiseCashProRata(t *testing.T) {
	// Cash sits exactly on target, so the raise amount is funded pro-rata
	// from the two non-cash buckets by current value: 2/3 from core
	// equity (60k) and 1/3 from bonds (30k).
	policy := testPolicy([]domain.Bucket{
		{Code: domain.BucketCash, Target: 0.10, Max: 1},
		{Code: domain.BucketBonds, Target: 0.30, Max: 1},
		{Code: domain.BucketCoreEquity, Target: 0.60, Max: 1},
	}, 0)
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 10_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "BND", domain.BucketBonds, 72.0,
				lot("bnd-1", asOf.AddDate(-2, 0, 0), 30_000/72.0, 72)),
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-1", asOf.AddDate(-3, 0, 0), 240, 150)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		policy,
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-test",
		Goal:   domain.Goal{Type: domain.GoalRaiseCash, RaiseAmount: 9_000},
		Config: baseConfig(),
	})
	require.NoError(t, err)

	sells := tradesBySide(plan, domain.SideSell)
	require.Len(t, sells, 2)
	assert.Empty(t, tradesBySide(plan, domain.SideBuy))

	byTicker := map[string]float64{}
	for _, tr := range sells {
		byTicker[tr.Ticker] = tr.Value
	}
	assert.InDelta(t, 3_000, byTicker["BND"], 1)
	assert.InDelta(t, 6_000, byTicker["VTI"], 1)
}

func TestCreatePlan_RaiseCashSplitAcrossTaxpayers(t *testing.T) {
	// The raise amount is apportioned by each taxpayer's share of total
	// planned value: alice holds 75%, bob 25%.
	policy := testPolicy([]domain.Bucket{
		{Code: domain.BucketCash, Target: 0, Max: 1},
		{Code: domain.BucketCoreEquity, Target: 1, Max: 1},
	}, 0)
	snaps := map[string]*domain.Snapshot{
		"alice": {
			AsOf: asOf, Taxpayer: "alice",
			Holdings: []domain.Holding{
				holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
					lot("a-1", asOf.AddDate(-3, 0, 0), 300, 150)),
			},
		},
		"bob": {
			AsOf: asOf, Taxpayer: "bob",
			Holdings: []domain.Holding{
				holding("bob", "ira", "VTI", domain.BucketCoreEquity, 250,
					lot("b-1", asOf.AddDate(-3, 0, 0), 100, 150)),
			},
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"bob", "alice"}, snaps: snaps},
		&stubSecurities{securities: testUniverse()},
		policy,
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-test",
		Goal:   domain.Goal{Type: domain.GoalRaiseCash, RaiseAmount: 10_000},
		Config: baseConfig(),
	})
	require.NoError(t, err)

	sold := map[string]float64{}
	for _, tr := range tradesBySide(plan, domain.SideSell) {
		sold[tr.Taxpayer] += tr.Value
	}
	assert.InDelta(t, 7_500, sold["alice"], 1)
	assert.InDelta(t, 2_500, sold["bob"], 1)
}

func TestCreatePlan_HarvestLosses(t *testing.T) {
	// LOSER carries a 5k unrealized loss, enough to meet the target on
	// its own; GAINER must not be touched.
	policy := threeBucketPolicy(0)
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 50,
				lot("loss-1", asOf.AddDate(-2, 0, 0), 100, 100)),
			holding("alice", "brokerage", "BND", domain.BucketBonds, 72,
				lot("gain-1", asOf.AddDate(-2, 0, 0), 100, 60)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		policy,
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-test",
		Goal:   domain.Goal{Type: domain.GoalHarvestLosses, HarvestTarget: 5_000},
		Config: baseConfig(),
	})
	require.NoError(t, err)

	sells := tradesBySide(plan, domain.SideSell)
	require.Len(t, sells, 1)
	assert.Equal(t, "VTI", sells[0].Ticker)
	assert.Equal(t, "Harvest realized loss for tax benefit", sells[0].Rationale)
	assert.InDelta(t, -5_000, plan.Tax.LongTermGain, 1)
	assert.NotContains(t, fmt.Sprint(plan.Warnings), "loss-harvest target not met")
}

func TestCreatePlan_HarvestShortfallWarns(t *testing.T) {
	policy := threeBucketPolicy(0)
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 1_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 90,
				lot("loss-1", asOf.AddDate(-2, 0, 0), 10, 100)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		policy,
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-test",
		Goal:   domain.Goal{Type: domain.GoalHarvestLosses, HarvestTarget: 5_000},
		Config: baseConfig(),
	})
	require.NoError(t, err)
	assert.Contains(t, fmt.Sprint(plan.Warnings), "loss-harvest target not met")
}

func TestCreatePlan_ShortTermGainRequiresOverride(t *testing.T) {
	// The only lot available realizes a short-term gain; the sale goes
	// through but is flagged for override.
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-recent", asOf.AddDate(0, -3, 0), 280, 200)),
		},
	}
	cfg := baseConfig()
	cfg.AllowShortTermGains = false
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		threeBucketPolicy(0.80),
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: cfg})
	require.NoError(t, err)

	sells := tradesBySide(plan, domain.SideSell)
	require.Len(t, sells, 1)
	assert.True(t, sells[0].RequiresOverride)
	assert.Contains(t, fmt.Sprint(plan.Warnings), "disallowed short-term gain")
}

func TestCreatePlan_WashRiskSuggestsSubstitutes(t *testing.T) {
	// A recent executed buy of VTI makes the planned loss sale a definite
	// wash-sale match. With avoidance off the sale still happens, flagged
	// for override, and same-class substitutes are suggested.
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-loss", asOf.AddDate(-2, 0, 0), 280, 300)),
		},
	}
	cfg := baseConfig()
	cfg.AvoidWashSales = false
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		threeBucketPolicy(0.80),
		&stubHistory{buys: []domain.BuyEvent{
			{Taxpayer: "alice", Ticker: "VTI", ExecutedAt: asOf.AddDate(0, 0, -10), Quantity: 5, Value: 1_250},
		}},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: cfg})
	require.NoError(t, err)

	sells := tradesBySide(plan, domain.SideSell)
	require.Len(t, sells, 1)
	assert.True(t, sells[0].RequiresOverride)
	assert.Contains(t, fmt.Sprint(plan.Warnings), "definite wash-sale risk")
	assert.Equal(t, []string{"ITOT", "SCHB", "ARKK"}, plan.Substitutes["VTI"])
	for _, pick := range plan.Picks["VTI"] {
		assert.Equal(t, domain.RiskDefinite, pick.WashRisk)
	}
}

func TestCreatePlan_WashAvoidanceBlocksLossSale(t *testing.T) {
	// Same setup, but avoidance on: the definite-risk loss lot is skipped
	// and the sale is blocked entirely.
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 5_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-loss", asOf.AddDate(-2, 0, 0), 280, 300)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		threeBucketPolicy(0.80),
		&stubHistory{buys: []domain.BuyEvent{
			{Taxpayer: "alice", Ticker: "VTI", ExecutedAt: asOf.AddDate(0, 0, -10), Quantity: 5, Value: 1_250},
		}},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: baseConfig()})
	require.NoError(t, err)

	assert.Empty(t, tradesBySide(plan, domain.SideSell))
	assert.Contains(t, fmt.Sprint(plan.Warnings), "blocked entirely by wash-sale avoidance")
}

func TestCreatePlan_ConcentrationCap(t *testing.T) {
	// The bonds deficit is filled with a single BND buy worth 35% of the
	// portfolio, breaching the 10% single-name cap.
	policy := testPolicy([]domain.Bucket{
		{Code: domain.BucketCash, Target: 0.05, Max: 1},
		{Code: domain.BucketBonds, Target: 0.35, Max: 1},
		{Code: domain.BucketCoreEquity, Target: 0.60, Max: 1},
	}, 0.10)
	snap := &domain.Snapshot{
		AsOf: asOf, Taxpayer: "alice", Cash: 40_000,
		Holdings: []domain.Holding{
			holding("alice", "brokerage", "VTI", domain.BucketCoreEquity, 250,
				lot("vti-1", asOf.AddDate(-3, 0, 0), 240, 150)),
		},
	}
	svc := newTestService(
		&stubSnapshots{taxpayers: []string{"alice"}, snaps: map[string]*domain.Snapshot{"alice": snap}},
		&stubSecurities{securities: testUniverse()},
		policy,
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: baseConfig()})
	require.NoError(t, err)

	buys := tradesBySide(plan, domain.SideBuy)
	require.Len(t, buys, 1)
	assert.Equal(t, "BND", buys[0].Ticker)
	assert.True(t, buys[0].RequiresOverride)
	assert.Contains(t, fmt.Sprint(plan.Warnings), "exceeds single-name cap")
}

func TestCreatePlan_InvalidGoal(t *testing.T) {
	svc := newTestService(&stubSnapshots{}, &stubSecurities{}, threeBucketPolicy(0), &stubHistory{})

	_, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-test",
		Goal:   domain.Goal{Type: domain.GoalType("liquidate")},
		Config: baseConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid goal")
}

func TestCreatePlan_UnknownPolicy(t *testing.T) {
	svc := newTestService(&stubSnapshots{}, &stubSecurities{}, threeBucketPolicy(0), &stubHistory{})

	_, err := svc.CreatePlan(Request{
		AsOf: asOf, PolicyID: "pol-missing",
		Goal:   domain.Goal{Type: domain.GoalRebalance},
		Config: baseConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pol-missing")
}

func TestCreatePlan_NoTaxpayers(t *testing.T) {
	svc := newTestService(
		&stubSnapshots{taxpayers: nil},
		&stubSecurities{},
		threeBucketPolicy(0),
		&stubHistory{},
	)

	plan, err := svc.CreatePlan(Request{AsOf: asOf, PolicyID: "pol-test", Goal: domain.Goal{Type: domain.GoalRebalance}, Config: baseConfig()})
	require.NoError(t, err)
	assert.Empty(t, plan.Trades)
	assert.Contains(t, fmt.Sprint(plan.Warnings), "no taxpayers in scope")
}
