package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/drift"
)

// DriftRefreshJob recomputes the drift report for a policy and logs any
// buckets that have left their bands. It keeps operators aware of drift
// between planning runs without generating trades.
type DriftRefreshJob struct {
	reporter *drift.Reporter
	policyID string
	log      zerolog.Logger
}

// NewDriftRefreshJob creates a new drift refresh job
func NewDriftRefreshJob(reporter *drift.Reporter, policyID string, log zerolog.Logger) *DriftRefreshJob {
	return &DriftRefreshJob{
		reporter: reporter,
		policyID: policyID,
		log:      log.With().Str("job", "drift_refresh").Logger(),
	}
}

// Name returns the job name
func (j *DriftRefreshJob) Name() string {
	return "drift_refresh"
}

// Run recomputes drift and logs red buckets at warn level.
func (j *DriftRefreshJob) Run() error {
	report, err := j.reporter.Report(j.policyID, time.Now().UTC())
	if err != nil {
		return err
	}

	red := 0
	for _, row := range report.Rows {
		if row.Status != domain.DriftRed {
			continue
		}
		red++
		j.log.Warn().
			Str("policy_id", j.policyID).
			Str("bucket", row.BucketCode).
			Float64("fraction", row.Fraction).
			Str("reason", row.Reason).
			Msg("Bucket outside policy band")
	}

	j.log.Info().
		Str("policy_id", j.policyID).
		Float64("total_value", report.TotalValue).
		Int("red_buckets", red).
		Msg("Drift refreshed")
	return nil
}
