package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trailguard/audit-ledger/app"
	"github.com/trailguard/audit-ledger/handlers"
	"github.com/trailguard/audit-ledger/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.Metrics(deps.Metrics))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Audit-Secret"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// deps.DB may be nil when routes are exercised without infrastructure.
	var dbHandle *sql.DB
	if deps.DB != nil {
		dbHandle = deps.DB.DB
	}

	healthHandler := handlers.NewHealthHandler(dbHandle, deps.Logger)
	ingestHandler := handlers.NewIngestHandler(deps.Ledger, deps.Logger)
	eventHandler := handlers.NewEventHandler(deps.Ledger, deps.Logger)
	sessionHandler := handlers.NewSessionHandler(deps.Workflow, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Prometheus scrape endpoint
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion gateway (shared-secret auth, no JWT)
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.IngestAuth.RequireSecret)
			r.Post("/events", ingestHandler.HandleAppendEvent)
		})

		// Ledger read API (require admin role)
		r.Route("/streams", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/", eventHandler.HandleListStreams)
			r.Get("/{streamType}/{streamKey}/events", eventHandler.HandleListStreamEvents)
			r.Post("/{streamType}/{streamKey}/verify", eventHandler.HandleVerifyStream)
		})
		r.Route("/events", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole("admin"))
			r.Get("/{id}", eventHandler.HandleGetEvent)
		})

		// Edit session workflow
		r.Route("/sessions", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", sessionHandler.HandleCreateSession)
			r.Get("/", sessionHandler.HandleListSessions)
			r.Get("/{id}", sessionHandler.HandleGetSession)
			r.Post("/{id}/submit", sessionHandler.HandleSubmitSession)
			r.Post("/{id}/approve", sessionHandler.HandleApproveSession)
			r.Post("/{id}/merge", sessionHandler.HandleMergeSession)
			r.Post("/{id}/reject", sessionHandler.HandleRejectSession)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
