/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/requests/*       Leave request lifecycle
  /api/approvals/*      Approver decisions
  /api/employees/*      Employees, balances, ledger, work status
  /api/attendance       Check-in/check-out capture
  /api/admin/*          Reconciliation and accrual operations
  /internal/*           Service-to-service writes
  /health               Store reachability

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

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// AccessLog toggles chi's request logger.
	AccessLog bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/withdraw", h.WithdrawRequest)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.ListPendingApprovals)
			r.Get("/{id}", h.GetApproval)
			r.Post("/{id}/decision", h.DecideApproval)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/requests", h.ListEmployeeRequests)
			r.Get("/{id}/work-status", h.GetWorkStatus)
		})

		r.Post("/attendance", h.RecordAttendance)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/unreconciled", h.ListUnreconciled)
			r.Post("/reconcile", h.Reconcile)
			r.Get("/accrual/failures", h.ListAccrualFailures)
			r.Post("/accrual/{rule}/run", h.RunAccrual)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Put("/work-status", h.UpsertWorkStatus)
		r.Post("/balance/grants", h.GrantBalance)
	})

	return r
}
