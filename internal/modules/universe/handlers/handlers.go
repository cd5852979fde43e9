// Package handlers exposes the security universe over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/universe"
)

// UniverseHandlers handles security reference-data requests.
type UniverseHandlers struct {
	repo *universe.SecurityRepository
	log  zerolog.Logger
}

// NewUniverseHandlers creates new universe handlers
func NewUniverseHandlers(repo *universe.SecurityRepository, log zerolog.Logger) *UniverseHandlers {
	return &UniverseHandlers{
		repo: repo,
		log:  log.With().Str("handler", "universe").Logger(),
	}
}

// HandleList handles GET /api/securities?bucket=...
func (h *UniverseHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		secs []domain.Security
		err  error
	)
	if bucket := r.URL.Query().Get("bucket"); bucket != "" {
		secs, err = h.repo.ByBucket(bucket)
	} else {
		secs, err = h.repo.All()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		http.Error(w, "Failed to list securities", http.StatusInternalServerError)
		return
	}
	if secs == nil {
		secs = []domain.Security{}
	}
	h.writeJSON(w, http.StatusOK, secs)
}

// HandleGet handles GET /api/securities/{ticker}
func (h *UniverseHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	sec, err := h.repo.ByTicker(ticker)
	if err != nil {
		http.Error(w, "Failed to load security", http.StatusInternalServerError)
		return
	}
	if sec == nil {
		http.Error(w, "Security not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, sec)
}

// HandleUpsert handles PUT /api/securities/{ticker}
func (h *UniverseHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var sec domain.Security
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sec.Ticker = chi.URLParam(r, "ticker")

	if err := h.repo.Upsert(sec); err != nil {
		h.log.Error().Err(err).Str("ticker", sec.Ticker).Msg("Failed to upsert security")
		http.Error(w, "Failed to store security", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, &sec)
}

// HandleUpdatePrice handles POST /api/securities/{ticker}/price
func (h *UniverseHandlers) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Price <= 0 {
		http.Error(w, "Invalid price", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdatePrice(ticker, body.Price); err != nil {
		http.Error(w, "Failed to update price", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UniverseHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
