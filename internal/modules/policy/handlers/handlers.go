// Package handlers exposes policy management over HTTP.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/policy"
)

// PolicyHandlers handles policy CRUD requests.
type PolicyHandlers struct {
	repo *policy.PolicyRepository
	log  zerolog.Logger
}

// NewPolicyHandlers creates new policy handlers
func NewPolicyHandlers(repo *policy.PolicyRepository, log zerolog.Logger) *PolicyHandlers {
	return &PolicyHandlers{
		repo: repo,
		log:  log.With().Str("handler", "policies").Logger(),
	}
}

// HandleList handles GET /api/policies
func (h *PolicyHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	policies, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list policies")
		http.Error(w, "Failed to list policies", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, policies)
}

// HandleGet handles GET /api/policies/{id}
func (h *PolicyHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	p, err := h.repo.Get(policyID)
	if err != nil {
		http.Error(w, "Policy not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleSave handles PUT /api/policies/{id}. The body is a full policy
// document; buckets are replaced wholesale.
func (h *PolicyHandlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	p.ID = chi.URLParam(r, "id")

	if err := h.repo.Save(&p); err != nil {
		h.log.Warn().Err(err).Str("policy_id", p.ID).Msg("Policy save rejected")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.writeJSON(w, http.StatusOK, &p)
}

// HandleImport handles POST /api/policies/import with a YAML body.
func (h *PolicyHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	p, err := policy.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := h.repo.Save(p); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *PolicyHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
