package domain

import "time"

// SnapshotProvider supplies read-only holdings/cash snapshots. The engine
// calls it once per taxpayer per run; implementations live in the storage
// layer so the engine stays pure and unit-testable.
type SnapshotProvider interface {
	// Taxpayers lists the taxpayers in scope for a policy.
	Taxpayers(policyID string) ([]string, error)
	// Snapshot returns one taxpayer's holdings and cash as of a date.
	Snapshot(policyID, taxpayer string, asOf time.Time) (*Snapshot, error)
}

// SecurityLookup resolves security reference data and bucket assignments.
type SecurityLookup interface {
	// ByTicker returns a security, or nil when unknown.
	ByTicker(ticker string) (*Security, error)
	// ByBucket returns the active securities assigned to a bucket.
	ByBucket(bucketCode string) ([]Security, error)
	// ByAssetClass returns the active securities in an asset class.
	ByAssetClass(assetClass string) ([]Security, error)
}

// PolicyProvider resolves policy versions with their bucket bands.
type PolicyProvider interface {
	// Get returns the policy with the given id. A missing policy is a
	// caller defect and aborts the run.
	Get(policyID string) (*Policy, error)
}

// TransactionHistory supplies executed buy activity for wash-sale
// matching.
type TransactionHistory interface {
	// BuysInWindow returns executed buys for a taxpayer between from and
	// to inclusive, across all tickers.
	BuysInWindow(taxpayer string, from, to time.Time) ([]BuyEvent, error)
}

// PlanStore persists generated plans for later human review.
type PlanStore interface {
	Save(plan *Plan) error
	Get(planID string) (*Plan, error)
	List(limit int) ([]*Plan, error)
}
