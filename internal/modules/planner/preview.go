package planner

import (
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
)

// BucketPreview is one bucket's current-versus-target position.
type BucketPreview struct {
	BucketCode string  `json:"bucket_code"`
	Current    float64 `json:"current"`
	Target     float64 `json:"target"`
	Excess     float64 `json:"excess"`
}

// Preview is a cheap pre-plan summary: per-bucket excess liquidity and
// whether the cash bucket alone can fund the buy needs without selling
// anything short-term.
type Preview struct {
	TotalValue  float64         `json:"total_value"`
	B1Excess    float64         `json:"b1_excess"`
	BuyNeeds    float64         `json:"buy_needs"`
	Buckets     []BucketPreview `json:"buckets"`
	StatusLines []string        `json:"status_lines"`
}

// Preview computes bucket excesses for a prospective run without
// selecting any lots. It shares the goal validation and policy
// resolution semantics of CreatePlan.
func (s *Service) Preview(req Request) (*Preview, error) {
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

	taxpayers, err := s.snapshots.Taxpayers(req.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxpayers: %w", err)
	}
	sort.Strings(taxpayers)

	values := map[string]float64{}
	total := 0.0
	for _, taxpayer := range taxpayers {
		snap, err := s.snapshots.Snapshot(req.PolicyID, taxpayer, req.AsOf)
		if err != nil {
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
		total += snap.TotalValue()
	}

	preview := &Preview{TotalValue: total}

	buckets := append([]domain.Bucket(nil), policy.Buckets...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Code < buckets[j].Code })

	for _, bucket := range buckets {
		target := bucket.Target * total
		switch {
		case req.Goal.Type == domain.GoalRaiseCash && bucket.Code == domain.BucketCash:
			target += req.Goal.RaiseAmount
		case req.Goal.Type == domain.GoalReduceAlpha && bucket.Code == req.Goal.TargetBucket():
			if limit := bucket.Max * total; values[bucket.Code] > limit {
				target = limit
			} else {
				target = values[bucket.Code]
			}
		}

		current := values[bucket.Code]
		excess := current - target
		preview.Buckets = append(preview.Buckets, BucketPreview{
			BucketCode: bucket.Code,
			Current:    current,
			Target:     target,
			Excess:     excess,
		})

		if bucket.Code == domain.BucketCash {
			preview.B1Excess = excess
		} else if excess < 0 {
			preview.BuyNeeds += -excess
		}
	}

	if preview.B1Excess >= preview.BuyNeeds {
		preview.StatusLines = append(preview.StatusLines, "ST-sale avoidance: OK")
	} else {
		preview.StatusLines = append(preview.StatusLines,
			fmt.Sprintf("ST-sale avoidance: sells required (shortfall %.2f)", preview.BuyNeeds-preview.B1Excess))
	}

	return preview, nil
}
