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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/programs/*     Program lifecycle, policies, catalog
  /api/attendance     Attendance facts -> point accrual
  /api/gifts          Manager budget distribution
  /api/redemptions    Point-for-item exchange
  /api/wallets/*      Balances, history, reconciliation
  /api/admin/*        Budget reset operations
  /api/scenarios/*    Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Program routes
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/active", h.GetActiveProgram)
			r.Get("/{id}", h.GetProgram)
			r.Post("/{id}/activate", h.ActivateProgram)
			r.Post("/{id}/deactivate", h.DeactivateProgram)
			r.Post("/{id}/policies", h.AddPolicy)
			r.Post("/{id}/items", h.AddItem)
			r.Get("/{id}/items", h.ListProgramItems)
			r.Get("/{id}/transactions", h.GetProgramTransactions)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Put("/{id}", h.UpdatePolicy)
		})

		// Accrual routes
		r.Route("/attendance", func(r chi.Router) {
			r.Post("/", h.RecordAttendance)
			r.Post("/batch", h.RecordAttendanceBatch)
		})

		// Gift and redemption routes
		r.Post("/gifts", h.CreateGift)
		r.Post("/redemptions", h.CreateRedemption)

		// Wallet routes
		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", h.FindWallet)
			r.Get("/{id}", h.GetWallet)
			r.Get("/{id}/transactions", h.GetWalletTransactions)
			r.Get("/{id}/reconciliation", h.GetWalletReconciliation)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/budget-resets", h.TriggerBudgetReset)
			r.Get("/budget-resets", h.ListBudgetResets)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
