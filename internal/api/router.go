package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/facilityops/inspection-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
// Every route under the protected group passes the auth gate; admin and
// data routes additionally declare their Requirement here.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	r.Use(s.requestTimeoutMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/complete-registration", s.handleCompleteRegistration)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.authorize(auth.RequireRoles(auth.RoleAdmin)))

				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Delete("/", s.handleDeleteUser)
					r.Post("/require-password-change", s.handleRequirePasswordChange)
				})
			})

			r.Route("/sites", func(r chi.Router) {
				r.Use(s.authorize(auth.RequirePermissions(auth.PermSitesRead)))

				r.Get("/", s.handleListSites)
				r.Get("/{id}", s.handleGetSite)
			})

			r.With(s.authorize(auth.RequirePermissions(auth.PermAuditRead))).
				Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}
