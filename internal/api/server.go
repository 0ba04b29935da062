package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/culturebridge/learning-engine/internal/config"
	"github.com/culturebridge/learning-engine/internal/content"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/exchange"
	"github.com/culturebridge/learning-engine/internal/health"
	"github.com/culturebridge/learning-engine/internal/learning"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/rewards"
	"github.com/culturebridge/learning-engine/internal/storage"
)

const requestTimeout = 60 * time.Second

// Deps are the services the API exposes. Exchanges may be nil.
type Deps struct {
	Repo      storage.Repository
	Learning  *learning.Service
	Rewards   *rewards.Engine
	Library   *content.Library
	Exchanges *exchange.Service
	Hub       *events.Hub
	Health    *health.Registry
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	deps           Deps
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.NewRegistry(0)
	}
	s := &Server{
		config:         cfg,
		deps:           deps,
		authMiddleware: NewAuthMiddleware(deps.Repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	auth := s.authMiddleware
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.With(auth.RequirePermission(models.PermCatalogRead)).Get("/catalog/rewards", s.handleRewardCatalog)
			r.With(auth.RequirePermission(models.PermCatalogRead)).Get("/catalog/achievements", s.handleAchievementCatalog)
			r.With(auth.RequirePermission(models.PermCatalogRead)).Get("/content", s.handleListContent)
			r.With(auth.RequirePermission(models.PermCatalogRead)).Get("/content/{id}", s.handleGetContent)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			// the event feed is long-lived and stays outside the request timeout
			r.With(auth.RequirePermission(models.PermEventsRead)).Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Route("/sessions", func(r chi.Router) {
					r.With(auth.RequirePermission(models.PermLearningRead)).Get("/", s.handleListSessions)
					r.With(auth.RequirePermission(models.PermLearningWrite)).Post("/", s.handleCreateSession)

					r.Route("/{id}", func(r chi.Router) {
						r.With(auth.RequirePermission(models.PermLearningRead)).Get("/", s.handleGetSession)
						r.With(auth.RequirePermission(models.PermLearningWrite)).Post("/exercises/{index}", s.handleCompleteExercise)
						r.With(auth.RequirePermission(models.PermLearningWrite)).Post("/complete", s.handleCompleteSession)
						r.With(auth.RequirePermission(models.PermLearningWrite)).Post("/abandon", s.handleAbandonSession)
					})
				})

				r.With(auth.RequirePermission(models.PermLearningRead)).Get("/stats", s.handleUserStats)
				r.With(auth.RequirePermission(models.PermLearningRead)).Get("/recommendations", s.handleRecommendations)

				r.With(auth.RequirePermission(models.PermRewardsWrite)).Post("/rewards", s.handleGrantReward)
				r.With(auth.RequirePermission(models.PermRewardsRead)).Get("/balance", s.handleBalance)
				r.With(auth.RequirePermission(models.PermRewardsRead)).Get("/transactions", s.handleListTransactions)

				if s.deps.Exchanges != nil {
					r.With(auth.RequirePermission(models.PermExchangeRead)).Get("/exchanges", s.handleListExchanges)
					r.With(auth.RequirePermission(models.PermExchangeWrite)).Post("/exchanges", s.handleCreateExchange)
					r.With(auth.RequirePermission(models.PermExchangeRead)).Get("/exchanges/{id}", s.handleGetExchange)
					r.With(auth.RequirePermission(models.PermExchangeWrite)).Post("/exchanges/{id}/join", s.handleJoinExchange)
				}
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
