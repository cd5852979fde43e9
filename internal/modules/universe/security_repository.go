// Package universe manages the investable security universe.
package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// SecurityRepository handles security persistence in the universe database.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repository", "securities").Logger(),
	}
}

const securityColumns = `ticker, name, asset_class, bucket_code, substitution_group, expense_ratio, last_price, active`

func scanSecurity(row interface{ Scan(...any) error }) (domain.Security, error) {
	var s domain.Security
	var active int
	err := row.Scan(&s.Ticker, &s.Name, &s.AssetClass, &s.BucketCode,
		&s.SubstitutionGroup, &s.ExpenseRatio, &s.LastPrice, &active)
	if err != nil {
		return domain.Security{}, err
	}
	s.Active = active != 0
	return s, nil
}

// ByTicker returns a single security, or nil when the ticker is unknown.
func (r *SecurityRepository) ByTicker(ticker string) (*domain.Security, error) {
	row := r.db.QueryRow(
		`SELECT `+securityColumns+` FROM securities WHERE ticker = ?`, ticker)
	s, err := scanSecurity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security %s: %w", ticker, err)
	}
	return &s, nil
}

// ByBucket returns all securities assigned to a bucket, ordered by ticker.
func (r *SecurityRepository) ByBucket(code string) ([]domain.Security, error) {
	return r.query(
		`SELECT `+securityColumns+` FROM securities WHERE bucket_code = ? ORDER BY ticker`, code)
}

// ByAssetClass returns all securities in an asset class, ordered by ticker.
func (r *SecurityRepository) ByAssetClass(class string) ([]domain.Security, error) {
	return r.query(
		`SELECT `+securityColumns+` FROM securities WHERE asset_class = ? ORDER BY ticker`, class)
}

// All returns every security in the universe, ordered by ticker.
func (r *SecurityRepository) All() ([]domain.Security, error) {
	return r.query(`SELECT ` + securityColumns + ` FROM securities ORDER BY ticker`)
}

func (r *SecurityRepository) query(q string, args ...any) ([]domain.Security, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		s, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a security.
func (r *SecurityRepository) Upsert(s domain.Security) error {
	active := 0
	if s.Active {
		active = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO securities (ticker, name, asset_class, bucket_code, substitution_group, expense_ratio, last_price, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			name = excluded.name,
			asset_class = excluded.asset_class,
			bucket_code = excluded.bucket_code,
			substitution_group = excluded.substitution_group,
			expense_ratio = excluded.expense_ratio,
			last_price = excluded.last_price,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		s.Ticker, s.Name, s.AssetClass, s.BucketCode, s.SubstitutionGroup,
		s.ExpenseRatio, s.LastPrice, active, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", s.Ticker, err)
	}
	return nil
}

// UpdatePrice updates the last known price of a security.
func (r *SecurityRepository) UpdatePrice(ticker string, price float64) error {
	res, err := r.db.Exec(
		`UPDATE securities SET last_price = ?, updated_at = ? WHERE ticker = ?`,
		price, time.Now().Unix(), ticker)
	if err != nil {
		return fmt.Errorf("failed to update price for %s: %w", ticker, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		r.log.Warn().Str("ticker", ticker).Msg("Price update for unknown ticker")
	}
	return nil
}

// Deactivate marks a security as no longer purchasable. It remains in the
// universe so held positions keep their metadata.
func (r *SecurityRepository) Deactivate(ticker string) error {
	_, err := r.db.Exec(
		`UPDATE securities SET active = 0, updated_at = ? WHERE ticker = ?`,
		time.Now().Unix(), ticker)
	if err != nil {
		return fmt.Errorf("failed to deactivate security %s: %w", ticker, err)
	}
	return nil
}
