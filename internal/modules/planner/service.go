// Package planner synthesizes multi-taxpayer trade plans from bucket
// deficits, subject to tax and concentration constraints.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/drift"
	"github.com/aristath/helmsman/internal/modules/lots"
	"github.com/aristath/helmsman/internal/modules/tax"
	"github.com/aristath/helmsman/internal/modules/washsale"
)

// Service orchestrates planning runs: drift evaluation, lot selection and
// wash-sale classification per taxpayer, then aggregation into one plan.
// Every constraint violation becomes a warning plus a requires_override
// flag on the specific trade; only malformed goals and unknown policy
// references abort a run.
type Service struct {
	snapshots  domain.SnapshotProvider
	securities domain.SecurityLookup
	policies   domain.PolicyProvider
	selector   *lots.Selector
	classifier *washsale.Classifier
	evaluator  *drift.Evaluator
	log        zerolog.Logger
}

// NewService creates a new planning service
func NewService(
	snapshots domain.SnapshotProvider,
	securities domain.SecurityLookup,
	policies domain.PolicyProvider,
	selector *lots.Selector,
	classifier *washsale.Classifier,
	evaluator *drift.Evaluator,
	log zerolog.Logger,
) *Service {
	return &Service{
		snapshots:  snapshots,
		securities: securities,
		policies:   policies,
		selector:   selector,
		classifier: classifier,
		evaluator:  evaluator,
		log:        log.With().Str("service", "planner").Logger(),
	}
}

// Request describes one planning run.
type Request struct {
	AsOf     time.Time            `json:"as_of"`
	PolicyID string               `json:"policy_id"`
	Goal     domain.Goal          `json:"goal"`
	Config   domain.PlannerConfig `json:"config"`
}

// CreatePlan runs the full multi-taxpayer planning pipeline and returns a
// best-effort plan. The engine is deterministic: identical inputs always
// reproduce identical trades and warnings.
func (s *Service) CreatePlan(req Request) (*domain.Plan, error) {
	if err := req.Goal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid goal: %w", err)
	}

	policy, err := s.policies.Get(req.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy %q: %w", req.PolicyID, err)
	}
	if policy == nil {
		return nil, fmt.Errorf("unknown policy: %q", req.PolicyID)
	}

	plan := &domain.Plan{
		ID:          uuid.New().String(),
		CreatedAt:   req.AsOf,
		PolicyID:    policy.ID,
		Goal:        req.Goal,
		Picks:       map[string][]domain.SelectedLot{},
		Substitutes: map[string][]string{},
	}

	taxpayers, err := s.snapshots.Taxpayers(req.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxpayers: %w", err)
	}
	if len(taxpayers) == 0 {
		plan.Warnings = append(plan.Warnings, "no taxpayers in scope; nothing to plan")
		plan.PreTradeDrift = s.evaluator.Evaluate(policy, map[string]float64{})
		plan.ProjectedDrift = plan.PreTradeDrift
		return plan, nil
	}
	sort.Strings(taxpayers)

	combinedValues := map[string]float64{}
	totalValueAllTaxpayers := 0.0
	var runs []*taxpayerRun

	for _, taxpayer := range taxpayers {
		snap, err := s.snapshots.Snapshot(req.PolicyID, taxpayer, req.AsOf)
		if err != nil {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("no holdings snapshot for taxpayer %s: %v", taxpayer, err))
			continue
		}

		run := newTaxpayerRun(policy, snap, req)
		runs = append(runs, run)
		for code, v := range run.startValues {
			combinedValues[code] += v
		}
		totalValueAllTaxpayers += run.totalValue
	}

	plan.PreTradeDrift = s.evaluator.Evaluate(policy, combinedValues)
	plan.Warnings = append(plan.Warnings, plan.PreTradeDrift.Warnings...)

	// Per-taxpayer planning is independent; aggregation below merges by
	// taxpayer identity in sorted order.
	for _, run := range runs {
		share := 0.0
		if totalValueAllTaxpayers > 0 {
			share = run.totalValue / totalValueAllTaxpayers
		}
		s.planTaxpayer(run, share)
	}

	s.aggregate(plan, policy, combinedValues, runs, req)

	s.log.Info().
		Str("plan_id", plan.ID).
		Str("policy_id", policy.ID).
		Str("goal", string(req.Goal.Type)).
		Int("taxpayers", len(runs)).
		Int("trades", len(plan.Trades)).
		Int("warnings", len(plan.Warnings)).
		Msg("Plan created")

	return plan, nil
}

// aggregate merges per-taxpayer results into the plan: trades, picks,
// realized-gain deltas, the tax estimate and the projected drift.
func (s *Service) aggregate(plan *domain.Plan, policy *domain.Policy, combinedValues map[string]float64, runs []*taxpayerRun, req Request) {
	projected := make(map[string]float64, len(combinedValues))
	for code, v := range combinedValues {
		projected[code] = v
	}

	impact := domain.TaxImpact{}
	for _, run := range runs {
		plan.Trades = append(plan.Trades, run.trades...)
		plan.Warnings = append(plan.Warnings, run.warnings...)
		for ticker, picks := range run.picks {
			plan.Picks[ticker] = append(plan.Picks[ticker], picks...)
		}
		for ticker, subs := range run.substitutes {
			if _, seen := plan.Substitutes[ticker]; !seen {
				plan.Substitutes[ticker] = subs
			}
		}

		delta := tax.EstimateGains(run.shortTermGain, run.longTermGain, req.Config.Rates)
		impact.ByTaxpayer = append(impact.ByTaxpayer, domain.TaxpayerImpact{
			Taxpayer:       run.taxpayer,
			ShortTermGain:  run.shortTermGain,
			LongTermGain:   run.longTermGain,
			EstimatedDelta: delta,
		})
		impact.ShortTermGain += run.shortTermGain
		impact.LongTermGain += run.longTermGain
	}
	impact.EstimatedDelta = tax.EstimateGains(impact.ShortTermGain, impact.LongTermGain, req.Config.Rates)
	plan.Tax = impact

	// Apply every trade's value against its bucket and cash, then re-run
	// the evaluator on the projection.
	for _, trade := range plan.Trades {
		if trade.Side == domain.SideSell {
			projected[trade.BucketCode] -= trade.Value
			projected[domain.BucketCash] += trade.Value
		} else {
			projected[trade.BucketCode] += trade.Value
			projected[domain.BucketCash] -= trade.Value
		}
	}

	plan.ProjectedDrift = s.evaluator.EvaluateWithOverrides(policy, combinedValues, projected)
	for _, row := range plan.ProjectedDrift.Rows {
		if row.Status != domain.DriftRed {
			continue
		}
		bucket := policy.Bucket(row.BucketCode)
		if bucket == nil {
			continue
		}
		if row.Fraction < bucket.Min || row.Fraction > bucket.Max {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("projected allocation for %s (%.1f%%) is outside its policy band", row.BucketCode, row.Fraction*100))
		}
	}
}

// tradeID derives a deterministic recommendation id so that re-running
// the planner on identical inputs yields identical output.
func tradeID(taxpayer, account, ticker string, side domain.Side, seq int) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%d", taxpayer, account, ticker, side, seq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
