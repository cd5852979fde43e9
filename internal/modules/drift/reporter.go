package drift

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// Reporter aggregates holdings snapshots across taxpayers and evaluates
// the combined allocation against a policy. It backs the drift endpoint
// and the scheduled refresh job.
type Reporter struct {
	snapshots domain.SnapshotProvider
	policies  domain.PolicyProvider
	evaluator *Evaluator
	log       zerolog.Logger
}

// NewReporter creates a new drift reporter
func NewReporter(snapshots domain.SnapshotProvider, policies domain.PolicyProvider, evaluator *Evaluator, log zerolog.Logger) *Reporter {
	return &Reporter{
		snapshots: snapshots,
		policies:  policies,
		evaluator: evaluator,
		log:       log.With().Str("service", "drift_reporter").Logger(),
	}
}

// Report evaluates the policy's combined allocation as of a date.
// Taxpayers whose snapshots fail to load are reported as warnings and
// skipped; evaluation proceeds on what loaded.
func (r *Reporter) Report(policyID string, asOf time.Time) (domain.DriftReport, error) {
	policy, err := r.policies.Get(policyID)
	if err != nil {
		return domain.DriftReport{}, fmt.Errorf("failed to resolve policy %q: %w", policyID, err)
	}

	taxpayers, err := r.snapshots.Taxpayers(policyID)
	if err != nil {
		return domain.DriftReport{}, fmt.Errorf("failed to list taxpayers: %w", err)
	}
	sort.Strings(taxpayers)

	values := map[string]float64{}
	var warnings []string
	for _, taxpayer := range taxpayers {
		snap, err := r.snapshots.Snapshot(policyID, taxpayer, asOf)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("no holdings snapshot for taxpayer %s: %v", taxpayer, err))
			continue
		}
		values[domain.BucketCash] += snap.Cash
		for _, h := range snap.Holdings {
			code := h.BucketCode
			if code == "" || (policy.Bucket(code) == nil && code != domain.BucketUnassigned) {
				code = domain.BucketUnassigned
			}
			values[code] += h.MarketValue
		}
	}

	report := r.evaluator.Evaluate(policy, values)
	report.Warnings = append(warnings, report.Warnings...)

	r.log.Debug().
		Str("policy_id", policyID).
		Float64("total_value", report.TotalValue).
		Int("warnings", len(report.Warnings)).
		Msg("Drift report computed")

	return report, nil
}
