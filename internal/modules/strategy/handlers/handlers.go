// Package handlers provides HTTP handlers for strategy management.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Store reads and writes account strategies
type Store interface {
	GetActiveStrategy(ctx context.Context, accountID string) (*domain.StrategyConfig, error)
	Upsert(ctx context.Context, cfg domain.StrategyConfig) (*domain.StrategyConfig, error)
}

// Handler handles strategy HTTP requests
type Handler struct {
	store Store
	log   zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "strategy").Logger(),
	}
}

// RegisterRoutes registers all strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies/{accountID}", func(r chi.Router) {
		r.Get("/", h.HandleGetStrategy)
		r.Put("/", h.HandlePutStrategy)
	})
}

// HandleGetStrategy handles GET /api/strategies/{accountID}
func (h *Handler) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	cfg, err := h.store.GetActiveStrategy(r.Context(), accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get strategy")
		h.writeError(w, err)
		return
	}
	if cfg == nil {
		h.writeError(w, domain.NewError(domain.CodeStrategyNotFound, "no strategy for account %s", accountID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": cfg,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandlePutStrategy handles PUT /api/strategies/{accountID}.
// The account id of the path wins over any id in the body.
func (h *Handler) HandlePutStrategy(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var cfg domain.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, domain.NewError(domain.CodeInvalidRequest, "invalid request body: %v", err))
		return
	}
	cfg.AccountID = accountID

	stored, err := h.store.Upsert(r.Context(), cfg)
	if err != nil {
		h.log.Warn().Err(err).Str("account_id", accountID).Msg("Strategy update refused")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stored,
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
	h.writeJSON(w, domain.HTTPStatus(err), map[string]interface{}{
		"error": map[string]interface{}{
			"code":    domain.APICode(err),
			"message": err.Error(),
		},
	})
}
