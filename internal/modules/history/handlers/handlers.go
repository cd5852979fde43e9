// Package handlers exposes the transaction ledger over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/history"
)

// HistoryHandlers handles ledger requests.
type HistoryHandlers struct {
	repo *history.TransactionRepository
	log  zerolog.Logger
}

// NewHistoryHandlers creates new history handlers
func NewHistoryHandlers(repo *history.TransactionRepository, log zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		repo: repo,
		log:  log.With().Str("handler", "history").Logger(),
	}
}

type recordRequest struct {
	Taxpayer   string      `json:"taxpayer"`
	Ticker     string      `json:"ticker"`
	Side       domain.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	Value      float64     `json:"value"`
	ExecutedAt *time.Time  `json:"executed_at,omitempty"`
}

// HandleRecord handles POST /api/transactions
func (h *HistoryHandlers) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Taxpayer == "" || req.Ticker == "" {
		http.Error(w, "taxpayer and ticker are required", http.StatusBadRequest)
		return
	}

	executedAt := time.Now().UTC()
	if req.ExecutedAt != nil {
		executedAt = *req.ExecutedAt
	}

	if err := h.repo.Record(req.Taxpayer, req.Ticker, req.Side, req.Quantity, req.Value, executedAt); err != nil {
		h.log.Warn().Err(err).Str("ticker", req.Ticker).Msg("Transaction rejected")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
