package planner

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/helmsman/internal/domain"
)

// PlanRepository persists generated plans for later human review.
// Plans are stored whole as msgpack blobs alongside queryable metadata
// columns; the plan itself is a pure value object so round-tripping it is
// lossless.
// Database: portfolio.db (plans table)
type PlanRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *sql.DB, log zerolog.Logger) *PlanRepository {
	return &PlanRepository{
		db:  db,
		log: log.With().Str("repository", "plan").Logger(),
	}
}

// Save stores a plan. Existing plans with the same id are replaced.
func (r *PlanRepository) Save(plan *domain.Plan) error {
	blob, err := msgpack.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan %s: %w", plan.ID, err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO plans (id, policy_id, goal_type, created_at, trade_count, warning_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.PolicyID,
		string(plan.Goal.Type),
		plan.CreatedAt.Unix(),
		len(plan.Trades),
		len(plan.Warnings),
		blob,
	)
	if err != nil {
		return fmt.Errorf("failed to store plan %s: %w", plan.ID, err)
	}

	r.log.Debug().Str("plan_id", plan.ID).Int("trades", len(plan.Trades)).Msg("Plan stored")
	return nil
}

// Get returns a stored plan by id, or nil when not found.
func (r *PlanRepository) Get(planID string) (*domain.Plan, error) {
	row := r.db.QueryRow(`SELECT payload FROM plans WHERE id = ?`, planID)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}

	var plan domain.Plan
	if err := msgpack.Unmarshal(blob, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", planID, err)
	}
	return &plan, nil
}

// List returns the most recent plans, newest first.
func (r *PlanRepository) List(limit int) ([]*domain.Plan, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(`SELECT payload FROM plans ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		var plan domain.Plan
		if err := msgpack.Unmarshal(blob, &plan); err != nil {
			return nil, fmt.Errorf("failed to decode stored plan: %w", err)
		}
		plans = append(plans, &plan)
	}
	return plans, rows.Err()
}

// Prune deletes plans created before the cutoff and returns the number
// removed.
func (r *PlanRepository) Prune(olderThan time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM plans WHERE created_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune plans: %w", err)
	}
	return res.RowsAffected()
}
