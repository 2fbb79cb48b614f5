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
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/groups/*         Billing group directory
  /api/members/*        Member directory
  /api/purchases/*      Purchase ledger
  /api/invoices/*       Invoices and consolidation
  /api/payments/*       Payment recording
  /api/credits/*        Credit ledger
  /api/debits/*         Debit ledger
  /api/statements/*     Per-buyer statements
  /api/dashboard/*      Back-office rollups
  /api/scenarios/*      Demo scenarios

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
		// Directory routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{id}", h.GetGroup)
			r.Put("/{id}", h.UpdateGroup)
			r.Delete("/{id}", h.DeleteGroup)
		})

		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
		})

		// Purchase ledger routes
		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", h.ListPurchases)
			r.Post("/", h.RecordPurchase)
			r.Delete("/{id}", h.RemovePurchase)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/consolidate", h.Consolidate)
			r.Get("/full", h.FullInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/send", h.SendInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.RecordPayment)
			r.Delete("/{id}", h.RemovePayment)
		})

		// Credit/debit ledger routes
		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.ListCredits)
			r.Post("/", h.GrantCredit)
		})

		r.Route("/debits", func(r chi.Router) {
			r.Get("/", h.ListDebits)
			r.Post("/", h.CreateDebit)
			r.Put("/{id}", h.UpdateDebit)
		})

		// Read-side routes
		r.Get("/statements/{buyerId}", h.GetStatement)
		r.Get("/dashboard/summary", h.DashboardSummary)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Minimal landing page for anyone hitting the root in a browser.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Canteen Billing Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Canteen Billing Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/groups">/api/groups</a> - List billing groups</li>
<li><a href="/api/purchases">/api/purchases</a> - List purchases</li>
<li><a href="/api/invoices">/api/invoices</a> - List invoices</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
