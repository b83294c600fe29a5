package api

import (
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/handler"
	customMiddleware "github.com/Rrens/agent-bridge/internal/api/middleware"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/security"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Dependencies are the services behind the HTTP surface. Auth and JWT are
// nil when authentication is disabled; RateLimiter is nil without redis.
type Dependencies struct {
	Config      *config.Config
	Chat        *service.ChatService
	Sessions    *service.SessionService
	Auth        *service.AuthService
	JWT         *security.JWTManager
	RateLimiter customMiddleware.Limiter
	Ready       map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log.Logger))
	r.Use(middleware.Recoverer)

	// CORS
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(deps.Chat)
	wsHandler := handler.NewWSHandler(deps.Chat, cfg.Server.AllowedOrigins)
	sessionHandler := handler.NewSessionHandler(deps.Sessions)

	protect := func(r chi.Router) {
		if deps.JWT != nil {
			r.Use(customMiddleware.NewAuthMiddleware(deps.JWT).Authenticate)
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready))

		if deps.Auth != nil {
			authHandler := handler.NewAuthHandler(deps.Auth)
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
			})
		}

		// Streaming routes run as long as the turn does
		r.Group(func(r chi.Router) {
			protect(r)
			if deps.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit)
			}
			r.Post("/chat", chatHandler.Stream)
			r.Get("/chat/ws", wsHandler.Serve)
		})

		r.Group(func(r chi.Router) {
			protect(r)
			if cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			}

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Patch("/", sessionHandler.Update)
					r.Delete("/", sessionHandler.Delete)
				})
			})

			r.Post("/tool-calls/{callID}/confirm", chatHandler.Confirm)
		})
	})

	return r
}
