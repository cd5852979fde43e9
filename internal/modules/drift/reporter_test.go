package drift

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

type reporterSnapshots struct {
	taxpayers []string
	snaps     map[string]*domain.Snapshot
}

func (s *reporterSnapshots) Taxpayers(string) ([]string, error) { return s.taxpayers, nil }

func (s *reporterSnapshots) Snapshot(_, taxpayer string, _ time.Time) (*domain.Snapshot, error) {
	snap, ok := s.snaps[taxpayer]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", taxpayer)
	}
	return snap, nil
}

type reporterPolicies struct {
	policy *domain.Policy
}

func (s *reporterPolicies) Get(policyID string) (*domain.Policy, error) {
	if s.policy == nil {
		return nil, fmt.Errorf("policy %s not found", policyID)
	}
	return s.policy, nil
}

func TestReporter_CombinesTaxpayers(t *testing.T) {
	policy := &domain.Policy{ID: "pol-test", Buckets: []domain.Bucket{
		{Code: domain.BucketCash, Min: 0.02, Target: 0.05, Max: 0.20},
		{Code: domain.BucketCoreEquity, Min: 0.30, Target: 0.55, Max: 0.70},
		{Code: domain.BucketBonds, Min: 0.10, Target: 0.40, Max: 0.60},
	}}
	asOf := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

	snapshots := &reporterSnapshots{
		taxpayers: []string{"alice", "bob"},
		snaps: map[string]*domain.Snapshot{
			"alice": {Taxpayer: "alice", Cash: 3_000, Holdings: []domain.Holding{
				{Ticker: "VTI", BucketCode: domain.BucketCoreEquity, MarketValue: 40_000},
			}},
			"bob": {Taxpayer: "bob", Cash: 2_000, Holdings: []domain.Holding{
				{Ticker: "VTI", BucketCode: domain.BucketCoreEquity, MarketValue: 15_000},
				{Ticker: "BND", BucketCode: domain.BucketBonds, MarketValue: 40_000},
			}},
		},
	}
	reporter := NewReporter(snapshots, &reporterPolicies{policy: policy}, NewEvaluator(zerolog.Nop()), zerolog.Nop())

	report, err := reporter.Report("pol-test", asOf)
	require.NoError(t, err)

	assert.InDelta(t, 100_000, report.TotalValue, 1)
	core := report.Row(domain.BucketCoreEquity)
	require.NotNil(t, core)
	assert.InDelta(t, 0.55, core.Fraction, 1e-9)
	assert.Equal(t, domain.DriftGreen, core.Status)
	assert.Empty(t, report.Warnings)
}

func TestReporter_SkipsFailedSnapshots(t *testing.T) {
	policy := &domain.Policy{ID: "pol-test", Buckets: []domain.Bucket{
		{Code: domain.BucketCash, Target: 0.05, Max: 1},
	}}
	snapshots := &reporterSnapshots{
		taxpayers: []string{"alice", "ghost"},
		snaps: map[string]*domain.Snapshot{
			"alice": {Taxpayer: "alice", Cash: 1_000},
		},
	}
	reporter := NewReporter(snapshots, &reporterPolicies{policy: policy}, NewEvaluator(zerolog.Nop()), zerolog.Nop())

	report, err := reporter.Report("pol-test", time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 1_000, report.TotalValue, 1e-9)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "ghost")
}

func TestReporter_UnknownPolicy(t *testing.T) {
	reporter := NewReporter(&reporterSnapshots{}, &reporterPolicies{}, NewEvaluator(zerolog.Nop()), zerolog.Nop())
	_, err := reporter.Report("pol-missing", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pol-missing")
}
