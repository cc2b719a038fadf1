// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Rebalancer is the orchestrator surface exposed over HTTP
type Rebalancer interface {
	Plan(ctx context.Context, accountID string) (*rebalancing.PlanResult, error)
	Execute(ctx context.Context, accountID string) (*rebalancing.ExecutionResult, error)
	Tick(ctx context.Context, accountID string) (*rebalancing.ExecutionResult, error)
}

// DecisionLister reads the auto tick audit log
type DecisionLister interface {
	ListRecent(ctx context.Context, accountID string, limit int) ([]domain.DecisionLogEntry, error)
}

// OrderLister reads recorded orders
type OrderLister interface {
	ListActive(ctx context.Context, accountID string) ([]domain.Order, error)
	List(ctx context.Context, accountID string, status domain.OrderStatus, limit int) ([]domain.Order, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	service   Rebalancer
	decisions DecisionLister
	orders    OrderLister
	log       zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(
	service Rebalancer,
	decisions DecisionLister,
	orders OrderLister,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:   service,
		decisions: decisions,
		orders:    orders,
		log:       log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandlePlan handles GET /api/rebalancing/{accountID}/plan
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	plan, err := h.service.Plan(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": plan,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"note":      "Dry-run calculation - no orders submitted",
		},
	})
}

// HandleExecute handles POST /api/rebalancing/{accountID}/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	result, err := h.service.Execute(r.Context(), accountID)
	if err != nil {
		body := newErrorBody(err)
		if result != nil {
			// Orders placed before the stop are live on the exchange
			h.log.Warn().
				Err(err).
				Str("account_id", accountID).
				Int("submissions", len(result.Submissions)).
				Msg("Execution stopped early")
			body["submissions"] = result.Submissions
		}
		h.writeJSON(w, domain.HTTPStatus(err), map[string]interface{}{"error": body})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleTick handles POST /api/rebalancing/{accountID}/tick.
// The pass is always accepted; its outcome is in the decision log.
func (h *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	result, err := h.service.Tick(r.Context(), accountID)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Manual tick failed")
	}

	data := map[string]interface{}{}
	if result != nil {
		data["decision_id"] = result.DecisionID
		data["state"] = result.State
		data["reason"] = result.Reason
		data["tick_epoch"] = result.TickEpoch
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetDecisions handles GET /api/rebalancing/{accountID}/decisions
func (h *Handler) HandleGetDecisions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, domain.NewError(domain.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.decisions.ListRecent(r.Context(), accountID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to list decisions")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"decisions": entries,
			"count":     len(entries),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetOrders handles GET /api/rebalancing/{accountID}/orders
func (h *Handler) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	status := r.URL.Query().Get("status")

	var (
		orders []domain.Order
		err    error
	)
	if status == "active" {
		orders, err = h.orders.ListActive(r.Context(), accountID)
	} else {
		orders, err = h.orders.List(r.Context(), accountID, domain.OrderStatus(status), 100)
	}
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to list orders")
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"orders": orders,
			"count":  len(orders),
		},
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

// writeError writes the coded error body
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, domain.HTTPStatus(err), map[string]interface{}{"error": newErrorBody(err)})
}

func newErrorBody(err error) map[string]interface{} {
	body := map[string]interface{}{
		"code":    domain.APICode(err),
		"message": err.Error(),
	}
	if symbols := domain.MissingSymbols(err); len(symbols) > 0 {
		body["symbols"] = symbols
	}
	return body
}
