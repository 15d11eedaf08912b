package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/partner-console/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware партнёрской консоли.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/partner", func(r chi.Router) {
		r.Post("/session", h.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/restaurants", h.GetRestaurants)
			r.Post("/restaurants/{id}/select", h.SelectRestaurant)
			r.Put("/restaurants/{id}/status", h.SetRestaurantStatus)

			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{uid}", h.OpenOrder)
			r.Post("/orders/{uid}/status", h.UpdateOrderStatus)

			r.Get("/alarm", h.GetAlarm)
			r.Post("/notifications", h.ResolveNotification)
			r.Post("/app-state", h.SetAppState)

			r.Get("/ws", h.Stream)
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
