// Package policy manages allocation policies: named bucket band sets plus
// policy-level constraints. Policies are immutable versions; edits create
// a new policy row.
package policy

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// PolicyRepository persists policies and their buckets in the config
// database. It implements domain.PolicyProvider.
type PolicyRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *sql.DB, log zerolog.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:  db,
		log: log.With().Str("repository", "policies").Logger(),
	}
}

// Get returns the policy with its buckets in stored order. A missing
// policy is an error, not a nil: the engine treats it as a caller defect.
func (r *PolicyRepository) Get(policyID string) (*domain.Policy, error) {
	p := &domain.Policy{ID: policyID}
	var created int64
	err := r.db.QueryRow(
		`SELECT name, max_single_name, created_at FROM policies WHERE id = ?`, policyID).
		Scan(&p.Name, &p.Constraints.MaxSingleName, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("policy %s not found", policyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", policyID, err)
	}
	p.CreatedAt = time.Unix(created, 0).UTC()

	rows, err := r.db.Query(`
		SELECT code, name, min_frac, target_frac, max_frac, asset_classes
		FROM policy_buckets WHERE policy_id = ? ORDER BY position, code`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy buckets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.Bucket
		var classes string
		if err := rows.Scan(&b.Code, &b.Name, &b.Min, &b.Target, &b.Max, &classes); err != nil {
			return nil, fmt.Errorf("failed to scan policy bucket: %w", err)
		}
		b.AssetClasses = splitClasses(classes)
		p.Buckets = append(p.Buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// List returns all policy IDs and names, newest first.
func (r *PolicyRepository) List() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT id, name FROM policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// Save stores a policy and its buckets in a single transaction. Buckets
// are replaced wholesale; a saved policy is a complete version.
func (r *PolicyRepository) Save(p *domain.Policy) error {
	if err := Validate(p); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO policies (id, name, max_single_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_single_name = excluded.max_single_name,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Constraints.MaxSingleName, createdAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", p.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM policy_buckets WHERE policy_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear policy buckets: %w", err)
	}

	for i, b := range p.Buckets {
		_, err := tx.Exec(`
			INSERT INTO policy_buckets (policy_id, code, name, min_frac, target_frac, max_frac, asset_classes, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, b.Code, b.Name, b.Min, b.Target, b.Max,
			strings.Join(b.AssetClasses, ","), i)
		if err != nil {
			return fmt.Errorf("failed to save bucket %s: %w", b.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policy save: %w", err)
	}

	r.log.Info().Str("policy_id", p.ID).Int("buckets", len(p.Buckets)).Msg("Policy saved")
	return nil
}

// Validate checks a policy's structural invariants: every bucket band
// must satisfy 0 <= min <= target <= max, codes must be unique, and the
// cash bucket must exist.
func Validate(p *domain.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if len(p.Buckets) == 0 {
		return fmt.Errorf("policy %s has no buckets", p.ID)
	}

	seen := make(map[string]bool, len(p.Buckets))
	hasCash := false
	for _, b := range p.Buckets {
		if seen[b.Code] {
			return fmt.Errorf("policy %s has duplicate bucket %s", p.ID, b.Code)
		}
		seen[b.Code] = true
		if b.Code == domain.BucketCash {
			hasCash = true
		}
		if b.Min < 0 || b.Min > b.Target || b.Target > b.Max {
			return fmt.Errorf("bucket %s band violates min <= target <= max (%.4f/%.4f/%.4f)",
				b.Code, b.Min, b.Target, b.Max)
		}
	}
	if !hasCash {
		return fmt.Errorf("policy %s has no cash bucket (%s)", p.ID, domain.BucketCash)
	}
	return nil
}

func splitClasses(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
