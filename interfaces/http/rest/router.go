// Package rest mounts the HTTP API.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"designgraph/application/services"
	"designgraph/interfaces/http/rest/handlers"
	"designgraph/interfaces/http/rest/middleware"
	"designgraph/pkg/errors"
)

// ReadinessCheck reports whether the backing stores can serve requests
type ReadinessCheck func(ctx context.Context) error

// Services bundles the application services the API exposes
type Services struct {
	Graphs    *services.GraphService
	Views     *services.ViewService
	Approvals *services.ApprovalService
	Mutations *services.MutationService
	Policies  *services.PolicyService
}

// Options toggles the optional parts of the router
type Options struct {
	EnableCORS     bool
	AllowedOrigins []string
	// Served at /metrics when set
	MetricsHandler  http.Handler
	MetricsRecorder middleware.RequestRecorder
	Readiness       ReadinessCheck
}

// Router creates and configures the HTTP router
type Router struct {
	services     Services
	opts         Options
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
}

// NewRouter creates a new router instance
func NewRouter(svcs Services, opts Options, logger *zap.Logger, errorHandler *errors.ErrorHandler) *Router {
	return &Router{
		services:     svcs,
		opts:         opts,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.MetricsRecorder != nil {
		router.Use(middleware.Metrics(rt.opts.MetricsRecorder))
	}

	if rt.opts.EnableCORS {
		origins := rt.opts.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "If-Match", "X-Request-ID"},
			ExposedHeaders:   []string{"ETag", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.MetricsHandler != nil {
		router.Handle("/metrics", rt.opts.MetricsHandler)
	}

	sessionHandler := handlers.NewSessionHandler(rt.services.Graphs, rt.services.Views, rt.logger, rt.errorHandler)
	approvalHandler := handlers.NewApprovalHandler(rt.services.Approvals, rt.services.Mutations, rt.logger, rt.errorHandler)
	policyHandler := handlers.NewPolicyHandler(rt.services.Policies, rt.logger, rt.errorHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.CreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Post("/patches", sessionHandler.ApplyPatch)
				r.Get("/view", sessionHandler.GetView)
				r.Get("/view/delta", sessionHandler.GetViewDelta)
				r.Get("/view/text", sessionHandler.ExportText)
				r.Post("/mutations", approvalHandler.SubmitMutation)
				r.Get("/approvals", approvalHandler.ListApprovals)
			})
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", approvalHandler.ProposeApproval)
			r.Get("/{approvalID}", approvalHandler.GetApproval)
			r.Post("/{approvalID}/decision", approvalHandler.DecideApproval)
		})

		r.Route("/tenants/{tenantID}/policy", func(r chi.Router) {
			r.Get("/", policyHandler.GetPolicy)
			r.Put("/", policyHandler.SavePolicy)
			r.Post("/invalidate", policyHandler.InvalidateTenant)
		})
		r.Post("/policy-cache/invalidate", policyHandler.InvalidateAll)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if rt.opts.Readiness != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rt.opts.Readiness(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
