package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/planner"
)

// PlanPruneJob deletes stored plans older than the retention window.
type PlanPruneJob struct {
	repo      *planner.PlanRepository
	retention time.Duration
	log       zerolog.Logger
}

// NewPlanPruneJob creates a new plan prune job
func NewPlanPruneJob(repo *planner.PlanRepository, retention time.Duration, log zerolog.Logger) *PlanPruneJob {
	return &PlanPruneJob{
		repo:      repo,
		retention: retention,
		log:       log.With().Str("job", "plan_prune").Logger(),
	}
}

// Name returns the job name
func (j *PlanPruneJob) Name() string {
	return "plan_prune"
}

// Run deletes plans created before the retention cutoff.
func (j *PlanPruneJob) Run() error {
	cutoff := time.Now().UTC().Add(-j.retention)
	removed, err := j.repo.Prune(cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Old plans pruned")
	}
	return nil
}
