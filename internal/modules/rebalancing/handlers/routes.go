package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing/{accountID}", func(r chi.Router) {
		r.Get("/plan", h.HandlePlan)
		r.Post("/execute", h.HandleExecute)
		r.Post("/tick", h.HandleTick)
		r.Get("/decisions", h.HandleGetDecisions)
		r.Get("/orders", h.HandleGetOrders)
	})
}
