package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	SubmitHandler       http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	GetArtifactHandler  http.HandlerFunc
	GalleryHandler      http.HandlerFunc
	BalanceHandler      http.HandlerFunc
	CreateUserHandler   http.HandlerFunc
	CreateKeyHandler    http.HandlerFunc
	GrantCreditsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.With(deps.Auth.RequireScope("generate")).
			Post("/api/v1/generations", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/generations/{jobID}", orNotImplemented(deps.GetJobHandler))

		r.Get("/api/v1/artifacts/{artifactID}", orNotImplemented(deps.GetArtifactHandler))
		r.Get("/api/v1/gallery", orNotImplemented(deps.GalleryHandler))
		r.Get("/api/v1/balance", orNotImplemented(deps.BalanceHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/users", orNotImplemented(deps.CreateUserHandler))
			r.Post("/api/v1/admin/users/{userID}/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Post("/api/v1/admin/users/{userID}/credits", orNotImplemented(deps.GrantCreditsHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
