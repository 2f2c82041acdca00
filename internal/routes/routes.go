package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/handlers"
	"github.com/BradenHooton/edugate/internal/middleware"
	"github.com/BradenHooton/edugate/internal/models"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds everything the router needs
type Dependencies struct {
	Auth  *handlers.AuthHandler
	Users *handlers.UserHandler
	MFA   *handlers.MFAHandler
	Admin *handlers.AdminHandler

	Tokens   *auth.TokenManager
	Sessions auth.SessionValidator
	UserRepo auth.UserRepository

	IPConfig   *pkghttp.IPConfig
	FloodLimit middleware.RateLimitConfig
	Health     http.HandlerFunc
	Logger     *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	authenticate := auth.AuthMiddleware(deps.Tokens, deps.Sessions, deps.Logger)
	csrf := middleware.CSRFProtection(deps.Logger)

	if deps.Health != nil {
		router.Get("/health", deps.Health)
	}

	router.Route("/auth", func(r chi.Router) {
		// Coarse flood guard; the per-endpoint policies are enforced by the service
		r.Use(middleware.RateLimitByIP(deps.FloodLimit, deps.IPConfig))

		// Public
		r.Post("/login", deps.Auth.Login)
		r.Post("/register", deps.Auth.Register)
		r.Post("/password-reset", deps.Auth.RequestPasswordReset)
		r.Put("/password-reset", deps.Auth.ResetPassword)

		// Public but may ride on cookies
		r.With(csrf).Post("/refresh", deps.Auth.RefreshToken)
		r.With(csrf).Post("/logout", deps.Auth.Logout)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(authenticate, csrf)

			r.Delete("/logout", deps.Auth.LogoutAll)

			r.Get("/profile", deps.Users.GetProfile)
			r.Put("/profile", deps.Users.UpdateProfile)
			r.Put("/password", deps.Users.ChangePassword)
			r.Get("/sessions", deps.Users.ListSessions)
			r.Delete("/sessions/{id}", deps.Users.RevokeSession)

			r.Post("/mfa/setup", deps.MFA.Setup)
			r.Post("/mfa/enable", deps.MFA.Enable)
			r.Post("/mfa/disable", deps.MFA.Disable)
		})
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticate, csrf, auth.RequireRole(deps.UserRepo, models.RoleAdmin))

		r.Get("/stats", deps.Admin.GetDashboardStats)
		r.Get("/audit", deps.Admin.QueryAudit)
		r.Get("/users", deps.Admin.ListUsers)
		r.Put("/users/{id}/status", deps.Admin.SetUserStatus)
		r.Post("/users/{id}/unlock", deps.Admin.UnlockUser)
		r.Delete("/users/{id}/sessions", deps.Admin.RevokeUserSessions)
	})
}
