// Package domain provides core domain models and types shared by the
// planning engine and its storage adapters.
package domain

import "time"

// Bucket codes form a fixed, ordered vocabulary. "b1" is always the cash
// bucket; the rest are risk-ascending allocation categories. Holdings that
// cannot be mapped to a bucket fall into the unassigned sentinel.
const (
	BucketCash       = "b1"
	BucketBonds      = "b2"
	BucketCoreEquity = "b3"
	BucketIntlEquity = "b4"
	BucketAlpha      = "b5"
	BucketRealAssets = "b6"
	BucketUnassigned = "unassigned"
)

// Side represents the direction of a trade recommendation
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Term represents the holding-period classification of a lot disposition.
type Term string

const (
	TermShort Term = "short_term"
	TermLong  Term = "long_term"
)

// LongTermHoldingDays is the holding period threshold for long-term
// treatment: dispositions at or past this many days are long-term.
const LongTermHoldingDays = 365

// ClassifyTerm returns the holding-period term for a sale of a lot
// acquired at acquiredAt and sold at saleDate.
func ClassifyTerm(acquiredAt, saleDate time.Time) Term {
	if saleDate.Sub(acquiredAt) >= LongTermHoldingDays*24*time.Hour {
		return TermLong
	}
	return TermShort
}

// RiskLevel is the three-valued wash-sale risk ordinal.
// Comparison follows integer order: RiskNone < RiskPossible < RiskDefinite.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskPossible
	RiskDefinite
)

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r >= other
}

// String returns the canonical name for the risk level
func (r RiskLevel) String() string {
	switch r {
	case RiskDefinite:
		return "definite"
	case RiskPossible:
		return "possible"
	default:
		return "none"
	}
}

// Lot is a specific, dated acquisition of shares. Quantity is always > 0
// while the lot is open. AdjustedBasis, when non-nil, carries wash-sale
// basis additions and takes precedence over Basis.
type Lot struct {
	AcquiredAt    time.Time `json:"acquired_at"`
	ID            string    `json:"id"`
	Quantity      float64   `json:"quantity"`
	Basis         float64   `json:"basis"`
	AdjustedBasis *float64  `json:"adjusted_basis,omitempty"`
}

// BasisTotal returns the lot's effective total basis, preferring the
// wash-sale adjusted basis when present.
func (l Lot) BasisTotal() float64 {
	if l.AdjustedBasis != nil {
		return *l.AdjustedBasis
	}
	return l.Basis
}

// BasisPerShare returns the effective basis per share. Callers must not
// pass zero-quantity lots; those are excluded upstream.
func (l Lot) BasisPerShare() float64 {
	return l.BasisTotal() / l.Quantity
}

// Holding is a taxpayer's position in a ticker at a point in time,
// computed fresh from snapshot data for each planning run.
type Holding struct {
	Taxpayer    string  `json:"taxpayer"`
	Account     string  `json:"account"`
	Ticker      string  `json:"ticker"`
	BucketCode  string  `json:"bucket_code"`
	MarketValue float64 `json:"market_value"`
	Price       float64 `json:"price"`
	Lots        []Lot   `json:"lots"`
}

// SelectedLot is the result of lot selection for one lot: the allocated
// quantity (possibly partial), its scaled basis and unrealized result, the
// holding-period term and the wash risk attached at selection time.
// It never mutates the source Lot.
type SelectedLot struct {
	AcquiredAt time.Time `json:"acquired_at"`
	LotID      string    `json:"lot_id"`
	Term       Term      `json:"term"`
	Quantity   float64   `json:"quantity"`
	Basis      float64   `json:"basis"`
	Unrealized float64   `json:"unrealized"`
	WashRisk   RiskLevel `json:"wash_risk"`
}

// Selection is an ordered sequence of picks covering up to the requested
// sell quantity. Filled may be less than Requested when wash-avoidance
// skipped loss lots; callers must detect partial fills and react.
type Selection struct {
	Picks     []SelectedLot `json:"picks"`
	Requested float64       `json:"requested"`
	Filled    float64       `json:"filled"`
}

// Partial reports whether the selection under-filled the request.
func (s Selection) Partial() bool {
	return s.Filled < s.Requested
}

// RealizedGains returns the selection's realized short-term and long-term
// gain totals.
func (s Selection) RealizedGains() (shortTerm, longTerm float64) {
	for _, p := range s.Picks {
		if p.Term == TermLong {
			longTerm += p.Unrealized
		} else {
			shortTerm += p.Unrealized
		}
	}
	return shortTerm, longTerm
}

// Bucket is a policy-defined allocation category with its band.
// Immutable once created as part of a policy version.
type Bucket struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Min          float64  `json:"min"`
	Target       float64  `json:"target"`
	Max          float64  `json:"max"`
	AssetClasses []string `json:"asset_classes"`
}

// PolicyConstraints is the policy-level constraints document.
type PolicyConstraints struct {
	// MaxSingleName caps any one ticker as a fraction of total portfolio
	// value. Zero disables the check.
	MaxSingleName float64 `json:"max_single_name"`
}

// Policy is a named, dated allocation scheme owning an ordered set of
// buckets. Policies are never mutated after creation; new requirements
// create a new policy version.
type Policy struct {
	CreatedAt   time.Time         `json:"created_at"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Buckets     []Bucket          `json:"buckets"`
	Constraints PolicyConstraints `json:"constraints"`
}

// Bucket returns the policy bucket with the given code, or nil.
func (p *Policy) Bucket(code string) *Bucket {
	for i := range p.Buckets {
		if p.Buckets[i].Code == code {
			return &p.Buckets[i]
		}
	}
	return nil
}

// Security is reference data for a tradeable ticker: its bucket
// assignment, asset class, substitution group and cost.
type Security struct {
	Ticker            string  `json:"ticker"`
	Name              string  `json:"name"`
	AssetClass        string  `json:"asset_class"`
	BucketCode        string  `json:"bucket_code"`
	SubstitutionGroup string  `json:"substitution_group"`
	ExpenseRatio      float64 `json:"expense_ratio"`
	LastPrice         float64 `json:"last_price"`
	Active            bool    `json:"active"`
}

// BuyEvent is a purchase considered by the wash-sale classifier: either an
// executed transaction from history or a proposed buy from the same plan.
type BuyEvent struct {
	ExecutedAt time.Time `json:"executed_at"`
	Taxpayer   string    `json:"taxpayer"`
	Ticker     string    `json:"ticker"`
	Quantity   float64   `json:"quantity"`
	Value      float64   `json:"value"`
	Proposed   bool      `json:"proposed"`
}

// Snapshot is the read-only holdings/cash state for one taxpayer at a
// point in time. The engine consumes it as a pure value; it never reads
// storage itself.
type Snapshot struct {
	AsOf     time.Time `json:"as_of"`
	Taxpayer string    `json:"taxpayer"`
	Holdings []Holding `json:"holdings"`
	Cash     float64   `json:"cash"`
}

// TotalValue returns holdings market value plus cash.
func (s *Snapshot) TotalValue() float64 {
	total := s.Cash
	for _, h := range s.Holdings {
		total += h.MarketValue
	}
	return total
}

// TradeRecommendation is one proposed trade. RequiresOverride is set when
// a hard policy or tax guardrail is crossed; the trade is still included
// for human review.
type TradeRecommendation struct {
	ID               string  `json:"id"`
	Side             Side    `json:"side"`
	Taxpayer         string  `json:"taxpayer"`
	Account          string  `json:"account"`
	Ticker           string  `json:"ticker"`
	BucketCode       string  `json:"bucket_code"`
	Quantity         float64 `json:"quantity"`
	Price            float64 `json:"price"`
	Value            float64 `json:"value"`
	Rationale        string  `json:"rationale"`
	RequiresOverride bool    `json:"requires_override"`
}

// RateAssumptions is the flat-rate tax model input.
type RateAssumptions struct {
	Ordinary float64 `json:"ordinary"`
	LTCG     float64 `json:"ltcg"`
	State    float64 `json:"state"`
	NIIT     float64 `json:"niit"`
}

// TaxpayerImpact is the realized-gain delta for one taxpayer.
type TaxpayerImpact struct {
	Taxpayer       string  `json:"taxpayer"`
	ShortTermGain  float64 `json:"short_term_gain"`
	LongTermGain   float64 `json:"long_term_gain"`
	EstimatedDelta float64 `json:"estimated_delta"`
}

// TaxImpact aggregates realized-gain deltas across taxpayers.
type TaxImpact struct {
	ByTaxpayer     []TaxpayerImpact `json:"by_taxpayer"`
	ShortTermGain  float64          `json:"short_term_gain"`
	LongTermGain   float64          `json:"long_term_gain"`
	EstimatedDelta float64          `json:"estimated_delta"`
}

// DriftStatus is the traffic-light allocation status for a bucket.
type DriftStatus string

const (
	DriftGreen  DriftStatus = "green"
	DriftYellow DriftStatus = "yellow"
	DriftRed    DriftStatus = "red"
)

// DriftRow is one bucket's evaluated allocation state.
type DriftRow struct {
	BucketCode string      `json:"bucket_code"`
	Value      float64     `json:"value"`
	Fraction   float64     `json:"fraction"`
	Status     DriftStatus `json:"status"`
	Reason     string      `json:"reason"`
}

// DriftReport is the evaluated allocation state for a whole portfolio.
// Rows are ordered by bucket code ascending for deterministic output.
type DriftReport struct {
	TotalValue float64    `json:"total_value"`
	Rows       []DriftRow `json:"rows"`
	Warnings   []string   `json:"warnings"`
}

// Row returns the report row for a bucket code, or nil.
func (r *DriftReport) Row(code string) *DriftRow {
	for i := range r.Rows {
		if r.Rows[i].BucketCode == code {
			return &r.Rows[i]
		}
	}
	return nil
}

// Plan is the consolidated multi-taxpayer output of a planning run.
type Plan struct {
	CreatedAt      time.Time                `json:"created_at"`
	ID             string                   `json:"id"`
	PolicyID       string                   `json:"policy_id"`
	Goal           Goal                     `json:"goal"`
	Trades         []TradeRecommendation    `json:"trades"`
	Picks          map[string][]SelectedLot `json:"picks"`
	Substitutes    map[string][]string      `json:"substitutes"`
	Tax            TaxImpact                `json:"tax"`
	PreTradeDrift  DriftReport              `json:"pre_trade_drift"`
	ProjectedDrift DriftReport              `json:"projected_drift"`
	Warnings       []string                 `json:"warnings"`
}
