package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio/{accountID}", func(r chi.Router) {
		r.Get("/balances", h.HandleGetBalances) // Every balance, allocated first
		r.Get("/summary", h.HandleGetSummary)   // NAV and drift against targets
	})
}
