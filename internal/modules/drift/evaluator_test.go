package drift

import (
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/pkg/logger"
)

func testPolicy() *domain.Policy {
	return &domain.Policy{
		ID:   "p1",
		Name: "balanced",
		Buckets: []domain.Bucket{
			{Code: domain.BucketCash, Name: "Cash", Min: 0.02, Target: 0.05, Max: 0.20},
			{Code: domain.BucketBonds, Name: "Bonds", Min: 0.10, Target: 0.25, Max: 0.40},
			{Code: domain.BucketCoreEquity, Name: "Core equity", Min: 0.30, Target: 0.55, Max: 0.70},
			{Code: domain.BucketAlpha, Name: "Alpha", Min: 0.00, Target: 0.15, Max: 0.20},
		},
	}
}

func newEvaluator() *Evaluator {
	return NewEvaluator(logger.New(logger.Config{Level: "error"}))
}

func TestEvaluate_StructuralUnderAllocation(t *testing.T) {
	// Alpha has target 0.15 but zero value: RED with the structural
	// reason, not plain "under min".
	values := map[string]float64{
		domain.BucketCash:       50,
		domain.BucketBonds:      250,
		domain.BucketCoreEquity: 700,
		domain.BucketAlpha:      0,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	row := report.Row(domain.BucketAlpha)
	require.NotNil(t, row)
	assert.Equal(t, domain.DriftRed, row.Status)
	assert.Equal(t, ReasonStructural, row.Reason)
}

func TestEvaluate_GreenWithinTolerance(t *testing.T) {
	// Bonds target 0.25; actual 0.26 is within 15% of target (0.0375).
	values := map[string]float64{
		domain.BucketCash:       50,
		domain.BucketBonds:      260,
		domain.BucketCoreEquity: 550,
		domain.BucketAlpha:      140,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	row := report.Row(domain.BucketBonds)
	require.NotNil(t, row)
	assert.Equal(t, domain.DriftGreen, row.Status)
	assert.Equal(t, ReasonOnTarget, row.Reason)
}

func TestEvaluate_YellowOffTarget(t *testing.T) {
	// Bonds actual 0.32 deviates by 0.07 > tolerance 0.0375 while still
	// inside the min/max band.
	values := map[string]float64{
		domain.BucketCash:       50,
		domain.BucketBonds:      320,
		domain.BucketCoreEquity: 490,
		domain.BucketAlpha:      140,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	row := report.Row(domain.BucketBonds)
	require.NotNil(t, row)
	assert.Equal(t, domain.DriftYellow, row.Status)
	assert.Equal(t, ReasonOffTarget, row.Reason)
}

func TestEvaluate_RedOverMax(t *testing.T) {
	values := map[string]float64{
		domain.BucketCash:       300, // 0.30 > max 0.20
		domain.BucketBonds:      250,
		domain.BucketCoreEquity: 350,
		domain.BucketAlpha:      100,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	row := report.Row(domain.BucketCash)
	require.NotNil(t, row)
	assert.Equal(t, domain.DriftRed, row.Status)
	assert.Equal(t, ReasonOverMax, row.Reason)
}

func TestEvaluate_RedUnderMin(t *testing.T) {
	values := map[string]float64{
		domain.BucketCash:       10, // 0.01 < min 0.02, target positive but above epsilon? 0.01 > 0.0025
		domain.BucketBonds:      290,
		domain.BucketCoreEquity: 550,
		domain.BucketAlpha:      150,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	row := report.Row(domain.BucketCash)
	require.NotNil(t, row)
	assert.Equal(t, domain.DriftRed, row.Status)
	assert.Equal(t, ReasonUnderMin, row.Reason)
}

func TestEvaluate_ZeroTotalWarnsAndProceeds(t *testing.T) {
	report := newEvaluator().Evaluate(testPolicy(), map[string]float64{})

	assert.NotEmpty(t, report.Warnings)
	assert.Len(t, report.Rows, 4, "all buckets still evaluated")
}

func TestEvaluate_UnassignedValueWarns(t *testing.T) {
	values := map[string]float64{
		domain.BucketCash:       50,
		domain.BucketBonds:      250,
		domain.BucketCoreEquity: 560,
		domain.BucketAlpha:      140,
		domain.BucketUnassigned: 75,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "unassigned")
}

func TestEvaluate_RowsOrderedByBucketCode(t *testing.T) {
	values := map[string]float64{
		domain.BucketAlpha:      140,
		domain.BucketCoreEquity: 560,
		domain.BucketCash:       50,
		domain.BucketBonds:      250,
	}

	report := newEvaluator().Evaluate(testPolicy(), values)

	codes := make([]string, 0, len(report.Rows))
	for _, row := range report.Rows {
		codes = append(codes, row.BucketCode)
	}
	assert.Equal(t, []string{"b1", "b2", "b3", "b5"}, codes)
}

func TestEvaluateWithOverrides_ProjectsWithoutMutation(t *testing.T) {
	values := map[string]float64{
		domain.BucketCash:       300,
		domain.BucketBonds:      250,
		domain.BucketCoreEquity: 350,
		domain.BucketAlpha:      100,
	}

	e := newEvaluator()
	before := e.Evaluate(testPolicy(), values)
	require.Equal(t, domain.DriftRed, before.Row(domain.BucketCash).Status)

	projected := e.EvaluateWithOverrides(testPolicy(), values, map[string]float64{
		domain.BucketCash:       50,
		domain.BucketCoreEquity: 600,
	})
	assert.Equal(t, domain.DriftGreen, projected.Row(domain.BucketCash).Status)

	// Source map untouched.
	assert.Equal(t, 300.0, values[domain.BucketCash])
}
