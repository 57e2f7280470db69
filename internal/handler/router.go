package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/raffle-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса розыгрышей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/prize-table", h.PrizeTable)

		r.Route("/raffles", func(r chi.Router) {
			r.Post("/", h.ConfigureMonthly)
			r.Get("/{id}", h.GetMonthly)
			r.Put("/{id}/allocation", h.UpdateAllocation)
		})

		r.Route("/weekly/{id}", func(r chi.Router) {
			r.Post("/entries", h.Enter)
			r.Post("/exclusions", h.Exclude)
			r.Post("/draw", h.Draw)
			r.Get("/winners", h.GetWinners)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
