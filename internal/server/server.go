// Package server wires handlers and middleware into the route table and
// runs the HTTP server with graceful shutdown.
//
// main builds every dependency and hands them over in Deps; New only
// decides which URL reaches which handler, behind which middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/civicfix/internal/auth"
	"github.com/sakif/civicfix/internal/config"
	"github.com/sakif/civicfix/internal/handler"
	"github.com/sakif/civicfix/internal/middleware"
	"github.com/sakif/civicfix/internal/ratelimit"
	"github.com/sakif/civicfix/internal/repository"
	"github.com/sakif/civicfix/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Database is what the system endpoints need from the store.
type Database interface {
	repository.Pinger
	repository.Migrator
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Auth      *service.AuthService
	Users     *service.UserService
	Issues    *service.IssueService
	Comments  *service.CommentService
	Stats     *service.StatsService
	Analytics *service.AnalyticsService

	Authenticator *auth.Authenticator
	GitHub        *auth.GitHubProvider // nil disables the GitHub routes

	DB      Database
	Storage repository.Pinger

	LoginLimiter  ratelimit.Limiter
	UploadLimiter ratelimit.Limiter
}

type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	recycler *middleware.Recycler
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		recycler: middleware.NewRecycler(cfg.MaxRequests),
	}
	s.routes(deps)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes builds the route table:
//
//	GET    /                                 service info
//	GET    /health                           db + storage health
//	POST   /init-db                          idempotent migration
//	POST   /api/v1/auth/signup
//	POST   /api/v1/auth/login-with-password  rate limited per client IP
//	GET    /api/v1/auth/github/login         only when GitHub is configured
//	GET    /api/v1/auth/github/callback
//	GET    /api/v1/users/me                  auth
//	PUT    /api/v1/users/me                  auth
//	GET    /api/v1/users/{id}/issues
//	GET    /api/v1/issues                    ?status ?category ?search
//	POST   /api/v1/issues                    auth
//	POST   /api/v1/issues/upload-media       auth, rate limited per user
//	GET    /api/v1/issues/nearby             ?latitude ?longitude ?radius
//	GET    /api/v1/issues/{id}               optional auth (user_upvoted)
//	GET    /api/v1/issues/{id}/history
//	PUT    /api/v1/issues/{id}               auth (reporter or admin)
//	PUT    /api/v1/issues/{id}/status        auth (reporter or admin)
//	DELETE /api/v1/issues/{id}               auth (reporter or admin)
//	POST   /api/v1/issues/{id}/upvote        auth
//	GET    /api/v1/issues/{id}/comments
//	POST   /api/v1/issues/{id}/comments      auth
//	DELETE /api/v1/comments/{id}             auth (author or admin)
//	GET    /api/v1/stats
//	GET    /api/v1/categories
//	GET    /api/v1/status-options
//	GET    /api/v1/priority-options
//	GET    /api/v1/analytics/summary         auth (admin)
//
// Middleware order matters: RequestID and RealIP must run before the
// logger and the rate limiters read them. RealIP only trusts the
// forwarding headers when the peer is in TRUSTED_PROXIES.
func (s *Server) routes(d Deps) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RealIP(s.config.TrustedProxies))
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(s.recycler.Middleware)
	r.Use(middleware.CORS(s.config.CORSOrigins))
	r.Use(chimiddleware.Timeout(s.config.RequestTimeout))

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	systemH := handler.NewSystemHandler(s.config.Version, d.DB, d.Storage, d.DB, d.Stats, s.logger)
	authH := handler.NewAuthHandler(d.Auth, d.GitHub, s.logger)
	userH := handler.NewUserHandler(d.Users, d.Issues, s.logger)
	issueH := handler.NewIssueHandler(d.Issues, s.config.MaxUploadBytes, s.logger)
	commentH := handler.NewCommentHandler(d.Comments, s.logger)
	analyticsH := handler.NewAnalyticsHandler(d.Analytics, s.logger)

	requireAuth := auth.RequireAuth(d.Authenticator)
	optionalAuth := auth.OptionalAuth(d.Authenticator)
	loginLimit := middleware.RateLimit(d.LoginLimiter, middleware.ByIP, s.logger)
	uploadLimit := middleware.RateLimit(d.UploadLimiter, middleware.ByUser, s.logger)

	r.Get("/", systemH.HandleRoot)
	r.Get("/health", systemH.HandleHealth)
	r.Post("/init-db", systemH.HandleInitDB)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimit).Post("/signup", authH.HandleSignup)
			r.With(loginLimit).Post("/login-with-password", authH.HandleLoginWithPassword)
			if d.GitHub != nil {
				r.Get("/github/login", authH.HandleGitHubLogin)
				r.Get("/github/callback", authH.HandleGitHubCallback)
			}
		})

		r.Get("/users/{id}/issues", userH.HandleUserIssues)
		r.Get("/issues", issueH.HandleList)
		r.Get("/issues/nearby", issueH.HandleNearby)
		r.With(optionalAuth).Get("/issues/{id}", issueH.HandleGet)
		r.Get("/issues/{id}/history", issueH.HandleHistory)
		r.Get("/issues/{id}/comments", commentH.HandleList)
		r.Get("/stats", systemH.HandleStats)
		r.Get("/categories", systemH.HandleCategories)
		r.Get("/status-options", systemH.HandleStatusOptions)
		r.Get("/priority-options", systemH.HandlePriorityOptions)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/users/me", userH.HandleMe)
			r.Put("/users/me", userH.HandleUpdateMe)

			r.Post("/issues", issueH.HandleCreate)
			r.With(uploadLimit).Post("/issues/upload-media", issueH.HandleUploadMedia)
			r.Put("/issues/{id}", issueH.HandleUpdate)
			r.Put("/issues/{id}/status", issueH.HandleUpdateStatus)
			r.Delete("/issues/{id}", issueH.HandleDelete)
			r.Post("/issues/{id}/upvote", issueH.HandleUpvote)
			r.Post("/issues/{id}/comments", commentH.HandleCreate)

			r.Delete("/comments/{id}", commentH.HandleDelete)

			r.Get("/analytics/summary", analyticsH.HandleSummary)
		})
	})
}

// Start listens on the configured port until SIGINT/SIGTERM or until the
// request limit is reached, then drains in-flight requests.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("server: listening on port %d: %w", s.config.Port, err)
	}
	s.logger.Info("server starting",
		slog.Int("port", s.config.Port),
		slog.String("version", s.config.Version),
	)
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done or the recycler fires.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       s.config.RequestTimeout,
		WriteTimeout:      s.config.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case <-s.recycler.Done():
		s.logger.Info("request limit reached, recycling", slog.Int64("requests", s.recycler.Count()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
