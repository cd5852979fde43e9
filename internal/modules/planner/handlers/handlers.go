// Package handlers exposes the planning service over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/planner"
)

// PlanHandlers handles plan creation, preview and retrieval requests.
type PlanHandlers struct {
	service       *planner.Service
	repo          *planner.PlanRepository
	defaults      domain.PlannerConfig
	defaultPolicy string
	log           zerolog.Logger
}

// NewPlanHandlers creates new plan handlers
func NewPlanHandlers(service *planner.Service, repo *planner.PlanRepository, defaults domain.PlannerConfig, defaultPolicy string, log zerolog.Logger) *PlanHandlers {
	return &PlanHandlers{
		service:       service,
		repo:          repo,
		defaults:      defaults,
		defaultPolicy: defaultPolicy,
		log:           log.With().Str("handler", "plans").Logger(),
	}
}

// planRequest is the JSON body for plan creation and preview. Omitted
// fields fall back to server defaults.
type planRequest struct {
	PolicyID string                `json:"policy_id"`
	AsOf     *time.Time            `json:"as_of,omitempty"`
	Goal     domain.Goal           `json:"goal"`
	Config   *domain.PlannerConfig `json:"config,omitempty"`
}

func (h *PlanHandlers) buildRequest(r *http.Request) (planner.Request, error) {
	var body planRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return planner.Request{}, err
	}

	req := planner.Request{
		PolicyID: body.PolicyID,
		Goal:     body.Goal,
		Config:   h.defaults,
		AsOf:     time.Now().UTC(),
	}
	if req.PolicyID == "" {
		req.PolicyID = h.defaultPolicy
	}
	if req.Goal.Type == "" {
		req.Goal.Type = domain.GoalRebalance
	}
	if body.AsOf != nil {
		req.AsOf = *body.AsOf
	}
	if body.Config != nil {
		req.Config = *body.Config
	}
	return req, nil
}

// HandleCreatePlan handles POST /api/plans
func (h *PlanHandlers) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.service.CreatePlan(req)
	if err != nil {
		h.log.Error().Err(err).Str("policy_id", req.PolicyID).Msg("Plan creation failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := h.repo.Save(plan); err != nil {
		h.log.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to store plan")
	}

	writeJSON(w, h.log, http.StatusCreated, plan)
}

// HandlePreview handles POST /api/plans/preview
func (h *PlanHandlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	preview, err := h.service.Preview(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, h.log, http.StatusOK, preview)
}

// HandleGetPlan handles GET /api/plans/{id}
func (h *PlanHandlers) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "id")

	plan, err := h.repo.Get(planID)
	if err != nil {
		h.log.Error().Err(err).Str("plan_id", planID).Msg("Failed to load plan")
		http.Error(w, "Failed to load plan", http.StatusInternalServerError)
		return
	}
	if plan == nil {
		http.Error(w, "Plan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, http.StatusOK, plan)
}

// HandleListPlans handles GET /api/plans
func (h *PlanHandlers) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	plans, err := h.repo.List(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list plans")
		http.Error(w, "Failed to list plans", http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []*domain.Plan{}
	}
	writeJSON(w, h.log, http.StatusOK, plans)
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
