// Package handlers exposes drift reporting over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/modules/drift"
)

// DriftHandlers handles drift report requests.
type DriftHandlers struct {
	reporter      *drift.Reporter
	defaultPolicy string
	log           zerolog.Logger
}

// NewDriftHandlers creates new drift handlers
func NewDriftHandlers(reporter *drift.Reporter, defaultPolicy string, log zerolog.Logger) *DriftHandlers {
	return &DriftHandlers{
		reporter:      reporter,
		defaultPolicy: defaultPolicy,
		log:           log.With().Str("handler", "drift").Logger(),
	}
}

// HandleReport handles GET /api/drift?policy_id=...&as_of=...
func (h *DriftHandlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	policyID := r.URL.Query().Get("policy_id")
	if policyID == "" {
		policyID = h.defaultPolicy
	}

	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid as_of timestamp", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	report, err := h.reporter.Report(policyID, asOf)
	if err != nil {
		h.log.Error().Err(err).Str("policy_id", policyID).Msg("Drift report failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
