package domain

import "fmt"

// GoalType tags the planning goal variants.
type GoalType string

const (
	// GoalRebalance trades back toward policy targets.
	GoalRebalance GoalType = "rebalance"
	// GoalRaiseCash raises a requested cash amount on top of the cash
	// bucket target, funded pro-rata from non-cash buckets.
	GoalRaiseCash GoalType = "raise_cash"
	// GoalReduceAlpha caps the risk bucket at its policy maximum.
	GoalReduceAlpha GoalType = "reduce_alpha"
	// GoalHarvestLosses sells loss positions until a cumulative realized
	// loss target is met or candidates exhaust.
	GoalHarvestLosses GoalType = "harvest_losses"
)

// Goal describes what a planning run should achieve. Exactly one type tag
// applies; the numeric parameters are goal-specific.
type Goal struct {
	Type GoalType `json:"type"`
	// RaiseAmount is the cash to raise for GoalRaiseCash.
	RaiseAmount float64 `json:"raise_amount,omitempty"`
	// ReduceBucket is the bucket capped by GoalReduceAlpha. Defaults to
	// the alpha bucket when empty.
	ReduceBucket string `json:"reduce_bucket,omitempty"`
	// HarvestTarget is the cumulative loss (positive number) sought by
	// GoalHarvestLosses.
	HarvestTarget float64 `json:"harvest_target,omitempty"`
}

// Validate checks the goal descriptor. A malformed goal is a caller
// defect and the only error class that aborts a planning run.
func (g Goal) Validate() error {
	switch g.Type {
	case GoalRebalance:
		return nil
	case GoalRaiseCash:
		if g.RaiseAmount <= 0 {
			return fmt.Errorf("raise_cash goal requires a positive amount, got %.2f", g.RaiseAmount)
		}
		return nil
	case GoalReduceAlpha:
		return nil
	case GoalHarvestLosses:
		if g.HarvestTarget <= 0 {
			return fmt.Errorf("harvest_losses goal requires a positive loss target, got %.2f", g.HarvestTarget)
		}
		return nil
	default:
		return fmt.Errorf("unknown goal type: %q", g.Type)
	}
}

// TargetBucket returns the bucket capped by a reduce goal.
func (g Goal) TargetBucket() string {
	if g.ReduceBucket != "" {
		return g.ReduceBucket
	}
	return BucketAlpha
}

// LotStrategy names a lot-selection strategy.
type LotStrategy string

const (
	StrategyTaxMin LotStrategy = "tax_min"
	StrategyFIFO   LotStrategy = "fifo"
	StrategyLIFO   LotStrategy = "lifo"
)

// PlannerConfig is the configuration bundle for a planning run.
type PlannerConfig struct {
	Strategy            LotStrategy     `json:"strategy"`
	AvoidWashSales      bool            `json:"avoid_wash_sales"`
	AllowShortTermGains bool            `json:"allow_short_term_gains"`
	PreferLowerCost     bool            `json:"prefer_lower_cost"`
	MinTradeValue       float64         `json:"min_trade_value"`
	WashWindowDays      int             `json:"wash_window_days"`
	Rates               RateAssumptions `json:"rates"`
}

// DefaultPlannerConfig returns the baseline configuration used when the
// caller supplies nothing: tax-minimizing selection, wash avoidance on,
// short-term gains disallowed, the standard 30-day wash window.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Strategy:            StrategyTaxMin,
		AvoidWashSales:      true,
		AllowShortTermGains: false,
		PreferLowerCost:     true,
		MinTradeValue:       250.0,
		WashWindowDays:      30,
		Rates: RateAssumptions{
			Ordinary: 0.37,
			LTCG:     0.20,
			NIIT:     0.038,
		},
	}
}
