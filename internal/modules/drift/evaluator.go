// Package drift evaluates portfolio allocation drift against policy bands.
package drift

import (
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

const (
	// epsilonFraction is 0.25% of portfolio value, expressed as a
	// fraction. Allocations below it against a positive target are
	// structurally under-allocated.
	epsilonFraction = 0.0025
	// toleranceFactor scales the yellow band: 15% of max(target, min).
	toleranceFactor = 0.15
)

// Status reason codes.
const (
	ReasonOnTarget   = "On target"
	ReasonOffTarget  = "Off target"
	ReasonUnderMin   = "Under min"
	ReasonOverMax    = "Over max"
	ReasonStructural = "Structural under-allocation"
)

// Evaluator classifies per-bucket allocation drift.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates a new drift evaluator
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		log: log.With().Str("component", "drift_evaluator").Logger(),
	}
}

// Evaluate computes each policy bucket's actual fraction of the supplied
// bucket values and assigns a traffic-light status. Zero total value and
// unassigned value are reported as warnings, never errors; computation
// proceeds on best-effort totals.
func (e *Evaluator) Evaluate(policy *domain.Policy, bucketValues map[string]float64) domain.DriftReport {
	return e.EvaluateWithOverrides(policy, bucketValues, nil)
}

// EvaluateWithOverrides is Evaluate with explicit bucket-value overrides
// applied on top of the actuals. It is used to project a hypothetical
// post-trade state without mutating real holdings.
func (e *Evaluator) EvaluateWithOverrides(policy *domain.Policy, bucketValues, overrides map[string]float64) domain.DriftReport {
	values := make(map[string]float64, len(bucketValues))
	for code, v := range bucketValues {
		values[code] = v
	}
	for code, v := range overrides {
		values[code] = v
	}

	codes := make([]string, 0, len(values))
	for code := range values {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	totals := make([]float64, 0, len(codes))
	for _, code := range codes {
		totals = append(totals, values[code])
	}
	total := floats.Sum(totals)

	report := domain.DriftReport{TotalValue: total}

	if total <= 0 {
		report.Warnings = append(report.Warnings, "portfolio total value is zero; drift statuses are best-effort")
	}
	if unassigned := values[domain.BucketUnassigned]; unassigned > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%.2f of portfolio value is unassigned to any bucket", unassigned))
	}

	buckets := append([]domain.Bucket(nil), policy.Buckets...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Code < buckets[j].Code })

	for _, bucket := range buckets {
		value := values[bucket.Code]
		var actual float64
		if total > 0 {
			actual = value / total
		}

		status, reason := classify(actual, bucket)
		report.Rows = append(report.Rows, domain.DriftRow{
			BucketCode: bucket.Code,
			Value:      value,
			Fraction:   actual,
			Status:     status,
			Reason:     reason,
		})
	}

	return report
}

// classify assigns the traffic-light status for one bucket.
func classify(actual float64, bucket domain.Bucket) (domain.DriftStatus, string) {
	switch {
	case bucket.Target > 0 && actual < epsilonFraction:
		return domain.DriftRed, ReasonStructural
	case actual < bucket.Min:
		return domain.DriftRed, ReasonUnderMin
	case actual > bucket.Max:
		return domain.DriftRed, ReasonOverMax
	}

	floor := bucket.Target
	if bucket.Min > floor {
		floor = bucket.Min
	}
	tolerance := toleranceFactor * floor
	if tolerance < epsilonFraction {
		tolerance = epsilonFraction
	}

	deviation := actual - bucket.Target
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > tolerance {
		return domain.DriftYellow, ReasonOffTarget
	}
	return domain.DriftGreen, ReasonOnTarget
}
