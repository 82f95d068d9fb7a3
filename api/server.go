/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for the desk frontend
  5. RequireActor: X-Actor-ID / X-Actor-Role on every /api route

ROUTE GROUPS:
  /api/operation-types, /api/rates/*   Catalog and rate calculator
  /api/operations/*                    Operations and executions
  /api/cashboxes/*                     Cash boxes
  /api/clients/*                       Clients
  /api/expense-categories/*            Expense categories
  /api/admin/*                         Audit log and reset
  /api/reports/*                       Read-only reports
  /healthz                             Liveness probe (no actor)

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor)

		r.Get("/operation-types", h.ListOperationTypes)
		r.Post("/rates/solve", h.SolveRate)

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", h.ListOperations)
			r.Post("/", h.CreateOperation)
			r.Get("/{id}", h.GetOperation)
			r.Put("/{id}", h.UpdateOperation)
			r.Delete("/{id}", h.DeleteOperation)
			r.Post("/{id}/executions", h.ExecuteOperation)
		})

		r.Route("/cashboxes", func(r chi.Router) {
			r.Get("/", h.ListCashBoxes)
			r.Post("/", h.CreateCashBox)
			r.Get("/{id}", h.GetCashBox)
			r.Put("/{id}", h.UpdateCashBox)
			r.Delete("/{id}", h.DeleteCashBox)
			r.Post("/{id}/adjust", h.AdjustCashBox)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Put("/{id}", h.UpdateClient)
			r.Delete("/{id}", h.DeleteClient)
		})

		r.Route("/expense-categories", func(r chi.Router) {
			r.Get("/", h.ListExpenseCategories)
			r.Post("/", h.AddExpenseCategory)
			r.Delete("/{tag}", h.RemoveExpenseCategory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/log", h.ListAuditLog)
			r.Post("/reset", h.ResetData)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/balances", h.ReportBalances)
			r.Get("/expenses", h.ReportExpenses)
			r.Get("/outstanding", h.ReportOutstanding)
			r.Get("/cashflow", h.ReportCashFlow)
		})
	})

	return r
}
