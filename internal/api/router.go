package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	basePath := s.cfg.BasePath
	if basePath == "" {
		basePath = "/"
	}

	r.Route(basePath, func(r chi.Router) {
		// Health and metrics (no auth required for basic monitoring)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Token validation (the handler answers 401 itself)
		r.Get("/auth", s.handleAuth)

		// Sync Channel (auth is the first frame)
		r.Get("/ws", s.handleWebSocket)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(s.sharedSecretMiddleware)

			r.Post("/register_client", s.handleRegisterClient)
			r.Post("/revoke_client", s.handleRevokeClient)
			r.Get("/clients/backup", s.handleBackupClients)
			r.Post("/clients/restore", s.handleRestoreClients)
			r.Get("/exposure", s.handleGetExposure)
			r.Put("/exposure", s.handlePutExposure)
			r.Get("/audit", s.handleListAudit)
		})

		// Visible to clients and operators
		r.Group(func(r chi.Router) {
			r.Use(s.clientOrSecretMiddleware)
			r.Get("/clients", s.handleListClients)
		})

		// Client endpoints
		r.Group(func(r chi.Router) {
			r.Use(s.clientAuthMiddleware)

			r.Get("/entities", s.handleListEntities)
			r.Post("/call_service", s.handleCallService)
		})
	})

	return r
}

// handleHealth returns the server health status and each dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"sessions": s.hub.ClientCount(),
		"checks":   checks,
	})
}
