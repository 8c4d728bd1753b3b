/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, logged with every line
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Tracing:    Extracts W3C trace context from incoming headers
  4. Logger:     Structured request logging (zap)
  5. CORS:       Cross-origin requests for the purchase form

ROUTE GROUPS:
  /api/transactions/*     Transaction service
  /api/account-holders/*  Account holders and manual adjustments
  /api/scenarios/*        Demo scenarios
  /metrics                Prometheus exposition
  /healthz                Liveness plus breaker state and store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/points-engine/internal/observability"
)

// RouterOptions configures NewRouter. Zero values are usable.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     *observability.Metrics

	// Ping checks the document store for /healthz; nil reports ok.
	Ping func(ctx context.Context) error

	// BreakerState reports the store circuit breaker for /healthz. An
	// open breaker fails the check without pinging.
	BreakerState func() string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.UpsertTransaction)
			r.Post("/preview", h.PreviewTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Patch("/{id}", h.PatchTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Route("/account-holders", func(r chi.Router) {
			r.Get("/", h.ListHolders)
			r.Post("/", h.SaveHolder)
			r.Put("/", h.ReplaceHolders)
			r.Get("/{id}", h.GetHolder)
			r.Delete("/{id}", h.DeleteHolder)
			r.Post("/{id}/adjustments", h.AdjustHolder)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if opts.BreakerState != nil {
			state := opts.BreakerState()
			if state == "open" {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", errors.New("circuit breaker open"))
				return
			}
			body["breaker"] = state
		}
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, body)
	})

	return r
}
