/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the counter frontend

ROUTE GROUPS:
  /api/lines/*          Medicine line lifecycle
  /api/appointments/*   Per-appointment views, quote, checkout
  /api/items/*          Lot snapshots per item
  /api/lots             Inventory receipt
  /api/coupons          Order coupon listing

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Line routes
		r.Route("/lines", func(r chi.Router) {
			r.Post("/", h.RecordLine)
			r.Get("/{id}", h.GetLine)
			r.Post("/{id}/pack", h.PackLine)
			r.Get("/{id}/suggestion", h.SuggestPack)
			r.Post("/{id}/returns", h.ReturnUnits)
			r.Put("/{id}/coupon", h.SetCoupon)
		})

		// Appointment routes
		r.Route("/appointments", func(r chi.Router) {
			r.Get("/{id}/lines", h.ListLines)
			r.Get("/{id}/quote", h.GetQuote)
			r.Post("/{id}/checkout", h.Checkout)
		})

		// Inventory routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/{id}/lots", h.ListLots)
		})
		r.Post("/lots", h.SaveLot)

		// Coupon routes
		r.Get("/coupons", h.ListCoupons)
	})

	return r
}
