/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline, propagated to the store
  6. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /healthz              Liveness and store reachability
  /api/auth/*           Login and signup (login and public signup are open)
  /api/users/*          Accounts and balances (bearer token)
  /api/travel/*         Travel requests (bearer token)
  /api/scenarios/*      Demo scenarios (bearer token, manager)

ALIASES:
  /api/travel/myrequests and /api/travel/all are kept next to /mine and
  the collection root for older frontends. Decisions accept PUT and POST.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Bearer token authentication
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the router.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// DefaultRouterOptions allows the local frontend dev servers.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		RequestTimeout: 30 * time.Second,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Open auth routes
		r.Post("/auth/login", h.Login)
		r.Post("/auth/signup/public", h.PublicSignup)

		// Everything else needs a token
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Post("/auth/signup", h.Signup)

			// User routes
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Get("/me", h.Me)
				r.Get("/{id}/leaves", h.GetLeaves)
				r.Get("/{id}/transactions", h.GetTransactions)
				r.Post("/{id}/adjustments", h.CreateAdjustment)
			})

			// Travel request routes
			r.Route("/travel", func(r chi.Router) {
				r.Post("/", h.SubmitRequest)
				r.Get("/", h.ListAllRequests)
				r.Get("/all", h.ListAllRequests)
				r.Get("/mine", h.ListMyRequests)
				r.Get("/myrequests", h.ListMyRequests)
				r.Get("/{id}", h.GetRequest)
				r.Get("/{id}/history", h.GetHistory)
				r.Put("/{id}/approve", h.ApproveRequest)
				r.Post("/{id}/approve", h.ApproveRequest)
				r.Put("/{id}/reject", h.RejectRequest)
				r.Post("/{id}/reject", h.RejectRequest)
			})

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})

	return r
}
