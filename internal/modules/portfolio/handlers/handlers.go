// Package handlers provides HTTP handlers for portfolio valuation.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Valuer values the holdings of an account
type Valuer interface {
	GetBalances(ctx context.Context, accountID string) ([]portfolio.Position, error)
	GetSummary(ctx context.Context, accountID string) (*portfolio.Summary, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	service Valuer
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service Valuer, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetBalances handles GET /api/portfolio/{accountID}/balances
func (h *Handler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	positions, err := h.service.GetBalances(r.Context(), accountID)
	if err != nil {
		h.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to value balances")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"balances": positions,
			"count":    len(positions),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetSummary handles GET /api/portfolio/{accountID}/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	summary, err := h.service.GetSummary(r.Context(), accountID)
	if err != nil {
		h.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to get portfolio summary")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": summary,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{
		"code":    domain.APICode(err),
		"message": err.Error(),
	}
	if symbols := domain.MissingSymbols(err); len(symbols) > 0 {
		body["symbols"] = symbols
	}
	h.writeJSON(w, domain.HTTPStatus(err), map[string]interface{}{"error": body})
}
