// Package history reads and records executed transactions in the ledger
// database. The ledger is append-only; rows are never updated.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// TransactionRepository persists executed trades and answers wash-sale
// window queries. It implements domain.TransactionHistory.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repository", "transactions").Logger(),
	}
}

// BuysInWindow returns executed buys for a taxpayer between from and to
// inclusive, ordered by execution time.
func (r *TransactionRepository) BuysInWindow(taxpayer string, from, to time.Time) ([]domain.BuyEvent, error) {
	rows, err := r.db.Query(`
		SELECT taxpayer, ticker, quantity, value, executed_at
		FROM transactions
		WHERE taxpayer = ? AND side = ? AND executed_at >= ? AND executed_at <= ?
		ORDER BY executed_at, id`,
		taxpayer, string(domain.SideBuy), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query buy window: %w", err)
	}
	defer rows.Close()

	var out []domain.BuyEvent
	for rows.Next() {
		var ev domain.BuyEvent
		var executed int64
		if err := rows.Scan(&ev.Taxpayer, &ev.Ticker, &ev.Quantity, &ev.Value, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan buy event: %w", err)
		}
		ev.ExecutedAt = time.Unix(executed, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Record appends an executed trade to the ledger.
func (r *TransactionRepository) Record(taxpayer, ticker string, side domain.Side, quantity, value float64, executedAt time.Time) error {
	sideStr := strings.ToUpper(string(side))
	if sideStr != string(domain.SideBuy) && sideStr != string(domain.SideSell) {
		return fmt.Errorf("invalid trade side %q", side)
	}

	_, err := r.db.Exec(`
		INSERT INTO transactions (taxpayer, ticker, side, quantity, value, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taxpayer, ticker, sideStr, quantity, value, executedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}
