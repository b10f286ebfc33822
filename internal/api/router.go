package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexus-stack/nexus-core/internal/guard"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Open routes
		r.Group(func(r chi.Router) {
			r.Use(s.guarded(guard.Public()))

			r.Get("/health", s.handleHealth)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/password-reset", s.handleResetInitiate)
			r.Post("/auth/password-reset/verify", s.handleResetVerify)
			r.Post("/auth/password-reset/complete", s.handleResetComplete)
		})

		// Personalised when a session exists, anonymous otherwise
		r.Group(func(r chi.Router) {
			r.Use(s.guarded(guard.Optional()))
			r.Get("/status", s.handleStatus)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(s.guarded(guard.Authenticated()))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Get("/devices", s.handleListDevices)

			r.Route("/auth/2fa", func(r chi.Router) {
				r.Post("/enroll", s.handleTwoFactorEnroll)
				r.Post("/confirm", s.handleTwoFactorConfirm)
				r.Post("/disable", s.handleTwoFactorDisable)
			})
		})

		// Permission-gated team routes
		r.Group(func(r chi.Router) {
			r.Use(s.guarded(guard.RequirePermissions("manage_team")))
			r.Get("/teams/{id}", s.handleGetTeam)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.guarded(guard.RequirePermissions("manage_roles", "manage_team")))
			r.Get("/teams/{id}/roles", s.handleListTeamRoles)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
