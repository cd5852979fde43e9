package testing

import (
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// NewSecurityFixtures returns a small universe covering every bucket the
// policy fixture uses, including a substitution pair in core equity.
func NewSecurityFixtures() []domain.Security {
	return []domain.Security{
		{Ticker: "BIL", Name: "T-Bill ETF", AssetClass: "cash", BucketCode: domain.BucketCash, SubstitutionGroup: "tbill", ExpenseRatio: 0.0013, LastPrice: 91.50, Active: true},
		{Ticker: "BND", Name: "Total Bond", AssetClass: "us_bond", BucketCode: domain.BucketBonds, SubstitutionGroup: "agg", ExpenseRatio: 0.0003, LastPrice: 72.10, Active: true},
		{Ticker: "VTI", Name: "Total US Market", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "total_us", ExpenseRatio: 0.0003, LastPrice: 250.00, Active: true},
		{Ticker: "ITOT", Name: "Core S&P Total Market", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "sp_total", ExpenseRatio: 0.0003, LastPrice: 110.00, Active: true},
		{Ticker: "SCHB", Name: "US Broad Market", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "broad_us", ExpenseRatio: 0.0003, LastPrice: 58.00, Active: true},
		{Ticker: "VXUS", Name: "Total International", AssetClass: "intl_equity", BucketCode: domain.BucketIntlEquity, SubstitutionGroup: "total_intl", ExpenseRatio: 0.0007, LastPrice: 62.00, Active: true},
		{Ticker: "ARKK", Name: "Innovation ETF", AssetClass: "us_equity", BucketCode: domain.BucketAlpha, SubstitutionGroup: "ark", ExpenseRatio: 0.0075, LastPrice: 45.00, Active: true},
		{Ticker: "DELISTED", Name: "Gone Fund", AssetClass: "us_equity", BucketCode: domain.BucketCoreEquity, SubstitutionGroup: "gone", ExpenseRatio: 0.005, LastPrice: 0, Active: false},
	}
}

// NewPolicyFixture returns a four-bucket policy with a 10% single-name cap.
func NewPolicyFixture() *domain.Policy {
	p := &domain.Policy{
		ID:        "pol-test",
		Name:      "Test Policy",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Buckets: []domain.Bucket{
			{Code: domain.BucketCash, Name: "Cash", Min: 0.02, Target: 0.05, Max: 0.20, AssetClasses: []string{"cash"}},
			{Code: domain.BucketBonds, Name: "Bonds", Min: 0.10, Target: 0.25, Max: 0.40, AssetClasses: []string{"us_bond"}},
			{Code: domain.BucketCoreEquity, Name: "Core Equity", Min: 0.30, Target: 0.55, Max: 0.70, AssetClasses: []string{"us_equity"}},
			{Code: domain.BucketAlpha, Name: "Alpha", Min: 0, Target: 0.15, Max: 0.20, AssetClasses: []string{"us_equity"}},
		},
	}
	p.Constraints.MaxSingleName = 0.10
	return p
}

// NewLotFixture builds a lot with the given per-share basis.
func NewLotFixture(id string, acquired time.Time, qty, basisPerShare float64) domain.Lot {
	return domain.Lot{
		ID:         id,
		AcquiredAt: acquired,
		Quantity:   qty,
		Basis:      qty * basisPerShare,
	}
}

// NewSnapshotFixture returns a single-taxpayer snapshot with one core
// equity holding carrying a long-term gain lot and a recent loss lot.
func NewSnapshotFixture(asOf time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		AsOf:     asOf,
		Taxpayer: "alice",
		Cash:     5_000,
		Holdings: []domain.Holding{
			{
				Taxpayer:    "alice",
				Account:     "brokerage",
				Ticker:      "VTI",
				BucketCode:  domain.BucketCoreEquity,
				Price:       250,
				MarketValue: 50_000,
				Lots: []domain.Lot{
					NewLotFixture("lot-old", asOf.AddDate(-3, 0, 0), 150, 180),
					NewLotFixture("lot-new", asOf.AddDate(0, 0, -90), 50, 280),
				},
			},
		},
	}
}
