// Package snapshots assembles point-in-time holdings snapshots from the
// portfolio database.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// HoldingsRepository reads holdings, tax lots and cash balances and
// assembles them into domain.Snapshot values. It implements
// domain.SnapshotProvider.
type HoldingsRepository struct {
	db         *sql.DB
	securities domain.SecurityLookup
	log        zerolog.Logger
}

// NewHoldingsRepository creates a new holdings repository. Bucket codes
// live in the security universe, so a lookup is required to stamp them
// onto holdings.
func NewHoldingsRepository(db *sql.DB, securities domain.SecurityLookup, log zerolog.Logger) *HoldingsRepository {
	return &HoldingsRepository{
		db:         db,
		securities: securities,
		log:        log.With().Str("repository", "holdings").Logger(),
	}
}

// Taxpayers lists the distinct taxpayers holding positions or cash under
// a policy, ordered by name.
func (r *HoldingsRepository) Taxpayers(policyID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT taxpayer FROM holdings WHERE policy_id = ?
		UNION
		SELECT taxpayer FROM cash_balances WHERE policy_id = ?
		ORDER BY taxpayer`, policyID, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxpayers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tp string
		if err := rows.Scan(&tp); err != nil {
			return nil, fmt.Errorf("failed to scan taxpayer: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// Snapshot assembles one taxpayer's holdings and cash. Only lots acquired
// on or before asOf are included, and holding market values are recomputed
// from the included quantity so the snapshot is internally consistent.
func (r *HoldingsRepository) Snapshot(policyID, taxpayer string, asOf time.Time) (*domain.Snapshot, error) {
	holdings, err := r.loadHoldings(policyID, taxpayer, asOf)
	if err != nil {
		return nil, err
	}

	cash, err := r.loadCash(policyID, taxpayer)
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		AsOf:     asOf,
		Taxpayer: taxpayer,
		Holdings: holdings,
		Cash:     cash,
	}, nil
}

func (r *HoldingsRepository) loadHoldings(policyID, taxpayer string, asOf time.Time) ([]domain.Holding, error) {
	rows, err := r.db.Query(`
		SELECT account, ticker, quantity, price
		FROM holdings
		WHERE policy_id = ? AND taxpayer = ?
		ORDER BY account, ticker`, policyID, taxpayer)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h := domain.Holding{Taxpayer: taxpayer}
		var qty float64
		if err := rows.Scan(&h.Account, &h.Ticker, &qty, &h.Price); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range holdings {
		h := &holdings[i]

		lots, err := r.loadLots(policyID, taxpayer, h.Account, h.Ticker, asOf)
		if err != nil {
			return nil, err
		}
		h.Lots = lots

		var qty float64
		for _, l := range lots {
			qty += l.Quantity
		}
		h.MarketValue = qty * h.Price

		h.BucketCode = r.bucketFor(h.Ticker)
	}

	return holdings, nil
}

func (r *HoldingsRepository) loadLots(policyID, taxpayer, account, ticker string, asOf time.Time) ([]domain.Lot, error) {
	rows, err := r.db.Query(`
		SELECT id, quantity, basis, adjusted_basis, acquired_at
		FROM lots
		WHERE policy_id = ? AND taxpayer = ? AND account = ? AND ticker = ?
		  AND acquired_at <= ?
		ORDER BY acquired_at, id`,
		policyID, taxpayer, account, ticker, asOf.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query lots for %s: %w", ticker, err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		var l domain.Lot
		var adjusted sql.NullFloat64
		var acquired int64
		if err := rows.Scan(&l.ID, &l.Quantity, &l.Basis, &adjusted, &acquired); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		if adjusted.Valid {
			v := adjusted.Float64
			l.AdjustedBasis = &v
		}
		l.AcquiredAt = time.Unix(acquired, 0).UTC()
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (r *HoldingsRepository) loadCash(policyID, taxpayer string) (float64, error) {
	var cash float64
	err := r.db.QueryRow(
		`SELECT amount FROM cash_balances WHERE policy_id = ? AND taxpayer = ?`,
		policyID, taxpayer).Scan(&cash)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cash balance: %w", err)
	}
	return cash, nil
}

// bucketFor resolves a ticker's bucket through the universe. Unknown
// tickers land in the unassigned bucket, which the drift evaluator flags.
func (r *HoldingsRepository) bucketFor(ticker string) string {
	sec, err := r.securities.ByTicker(ticker)
	if err != nil {
		r.log.Warn().Err(err).Str("ticker", ticker).Msg("Bucket lookup failed")
		return domain.BucketUnassigned
	}
	if sec == nil {
		return domain.BucketUnassigned
	}
	return sec.BucketCode
}
