// Package server is the composition root: it builds every dependency from
// the loaded config, mounts the routes and runs the HTTP server until a
// shutdown signal arrives.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlite.DB → repositories
//	             → TokenService, PasswordService, Limiter, Mailer
//	             → AuthService, GameService, QuestService
//	             → handlers → chi routes
//
// Each layer only receives what it needs; handlers never touch the
// database and services never touch HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/quest-platform/internal/auth"
	"github.com/sakif/quest-platform/internal/config"
	"github.com/sakif/quest-platform/internal/handler"
	"github.com/sakif/quest-platform/internal/mail"
	"github.com/sakif/quest-platform/internal/middleware"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/ratelimit"
	sqliteRepo "github.com/sakif/quest-platform/internal/repository/sqlite"
	"github.com/sakif/quest-platform/internal/service"
)

// mailMaxInFlight bounds concurrent background sends.
const mailMaxInFlight = 32

// shutdownTimeout is how long in-flight requests and queued mail get to
// finish after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Server owns the database, the limiter backend, the mail dispatcher and
// the throttle; all of them are released in Close.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	db         *sqliteRepo.DB
	limiter    ratelimit.Limiter
	redis      *redis.Client
	dispatcher *mail.Dispatcher
	throttle   *middleware.Throttle

	// closers run in reverse order on Close.
	closers []func() error
}

// New wires the application. On error every resource opened so far is
// released.
func New(cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// === DATABASE ===
	s.db, err = sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.closers = append(s.closers, s.db.Close)

	// === CREDENTIAL PRIMITIVES ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	passwords, err := auth.NewPasswordServiceWithCost(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	if err := s.setupLimiter(); err != nil {
		return nil, err
	}
	s.setupMailer()

	s.throttle = middleware.NewThrottle(float64(cfg.ThrottleRPS), cfg.ThrottleBurst, 3*time.Minute, logger)
	s.closers = append(s.closers, s.throttle.Close)

	// === SERVICES ===
	authSvc := service.NewAuthService(s.db.Users(), tokens, passwords, s.limiter, s.dispatcher,
		service.AuthConfig{
			SessionTTL:          cfg.SessionTTL,
			ResetTTL:            cfg.ResetTokenTTL,
			ResetURL:            cfg.FrontURL + "/reset-password",
			ResetLimitOnSuccess: cfg.LoginRateResetOnSuccess,
		}, logger)
	gameSvc := service.NewGameService(s.db.Games(), logger)
	questSvc := service.NewQuestService(s.db.Quests(), logger)

	s.setupRoutes(tokens, authSvc, gameSvc, questSvc)
	return s, nil
}

// setupLimiter uses Redis when RATE_LIMIT_REDIS_URL is set so replicas
// share a budget, and the in-process limiter otherwise.
func (s *Server) setupLimiter() error {
	policy := ratelimit.Policy{MaxAttempts: s.cfg.LoginRateMax, Window: s.cfg.LoginRateWindow}

	if s.cfg.RateLimitRedisURL == "" {
		mem, err := ratelimit.NewMemory(policy)
		if err != nil {
			return err
		}
		s.limiter = mem
		s.logger.Info("login limiter using process memory")
		return nil
	}

	opts, err := redis.ParseURL(s.cfg.RateLimitRedisURL)
	if err != nil {
		return fmt.Errorf("parsing RATE_LIMIT_REDIS_URL: %w", err)
	}
	s.redis = redis.NewClient(opts)
	s.closers = append(s.closers, s.redis.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	lim, err := ratelimit.NewRedis(s.redis, policy, "")
	if err != nil {
		return err
	}
	s.limiter = lim
	s.logger.Info("login limiter using redis", slog.String("addr", opts.Addr))
	return nil
}

// setupMailer sends through SMTP when configured. Either way sends run in
// the background with a bounded timeout.
func (s *Server) setupMailer() {
	var inner mail.Mailer = &mail.NopMailer{Logger: s.logger}
	if s.cfg.MailEnabled() {
		inner = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:        s.cfg.SMTPHost,
			Port:        s.cfg.SMTPPort,
			Username:    s.cfg.SMTPUsername,
			Password:    s.cfg.SMTPPassword,
			FromAddress: s.cfg.MailFrom,
		})
	} else {
		s.logger.Warn("SMTP_HOST not set, password reset emails will be dropped")
	}
	s.dispatcher = mail.NewDispatcher(inner, s.cfg.MailTimeout, mailMaxInFlight, s.logger)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/users/register          → create account
// POST   /api/users/login             → session cookie + token
// POST   /api/users/logout            → clear cookie
// GET    /api/users/me                → current user
// POST   /api/users/forgot-password   → email reset link
// POST   /api/users/reset-password    → set new password
// GET    /api/users/check/{userName}  → {"exists": bool}
// GET    /api/users/users/{userName}  → same, legacy path
// GET    /api/users                   → list users           [administrator]
// PATCH  /api/users/{id}/role         → change role          [administrator]
// GET    /auth/google(/callback)      → Google sign-in       [when configured]
// GET    /games, /games/{id}          → catalogue
// POST   /games, PUT|DELETE /games/{id}    → [moderator, administrator]
// GET    /quests                      → quests with status
// POST   /quests, PUT|DELETE /quests/{id}  → [moderator, administrator]
// GET    /upload/*                    → static uploads
// GET    /healthz, /metrics
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP come first so the logger and both limiters see the
// real client address; Recoverer sits inside the logger so a panic is
// logged as a 500.
func (s *Server) setupRoutes(tokens *auth.TokenService, authSvc *service.AuthService, gameSvc *service.GameService, questSvc *service.QuestService) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   s.cfg.AllowedOrigins(),
		AllowCredentials: true,
	}))
	r.Use(s.throttle.Handler)

	authH := handler.NewAuthHandler(authSvc, handler.CookieConfig{
		Secure: s.cfg.SecureCookies(),
		TTL:    s.cfg.SessionTTL,
	}, s.logger)
	gameH := handler.NewGameHandler(gameSvc, s.logger)
	questH := handler.NewQuestHandler(questSvc, s.logger)
	healthH := handler.NewHealthHandler(s.db, s.logger)

	// Role checks read the stored role, not the one baked into the token.
	requireAdmin := []func(http.Handler) http.Handler{
		auth.RequireAuth(tokens),
		auth.RefreshRole(authSvc),
		auth.RequireRole(string(model.RoleAdministrator)),
	}
	requireStaff := []func(http.Handler) http.Handler{
		auth.RequireAuth(tokens),
		auth.RefreshRole(authSvc),
		auth.RequireRole(string(model.RoleModerator), string(model.RoleAdministrator)),
	}

	r.Get("/healthz", healthH.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/register", authH.HandleRegister)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
		r.Get("/me", authH.HandleMe)
		r.Post("/forgot-password", authH.HandleForgotPassword)
		r.Post("/reset-password", authH.HandleResetPassword)
		r.Get("/check/{userName}", authH.HandleCheckUserName)
		r.Get("/users/{userName}", authH.HandleCheckUserName) // legacy front-end path

		r.With(requireAdmin...).Get("/", authH.HandleList)
		r.With(requireAdmin...).Patch("/{id}/role", authH.HandleUpdateRole)
	})

	if s.cfg.GoogleEnabled() {
		google := auth.NewGoogleProvider(auth.GoogleConfig{
			ClientID:     s.cfg.GoogleClientID,
			ClientSecret: s.cfg.GoogleClientSecret,
			RedirectURL:  s.cfg.BaseURL + "/auth/google/callback",
		})
		oauthH := handler.NewOAuthHandler(google, authH, s.cfg.FrontURL, s.logger)
		r.Get("/auth/google", oauthH.HandleStart)
		r.Get("/auth/google/callback", oauthH.HandleCallback)
	} else {
		s.logger.Info("GOOGLE_CLIENT_ID not set, Google sign-in disabled")
	}

	r.Route("/games", func(r chi.Router) {
		r.Get("/", gameH.HandleList)
		r.Get("/{id}", gameH.HandleGetByID)
		r.With(requireStaff...).Post("/", gameH.HandleCreate)
		r.With(requireStaff...).Put("/{id}", gameH.HandleUpdate)
		r.With(requireStaff...).Delete("/{id}", gameH.HandleDelete)
	})

	r.Route("/quests", func(r chi.Router) {
		r.Get("/", questH.HandleList)
		r.With(requireStaff...).Post("/", questH.HandleCreate)
		r.With(requireStaff...).Put("/{id}", questH.HandleUpdate)
		r.With(requireStaff...).Delete("/{id}", questH.HandleDelete)
	})

	// GET /upload/cover.png → {UploadDir}/cover.png. Directory listings are
	// not served.
	fileServer := http.StripPrefix("/upload/", http.FileServer(http.Dir(s.cfg.UploadDir)))
	r.Get("/upload/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases everything New opened, newest first.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
//  1. Stop accepting connections and wait for in-flight requests
//  2. Let queued reset emails finish
//  3. Close the limiter, Redis client and database
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("environment", s.cfg.Environment),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := s.dispatcher.Shutdown(ctx); err != nil {
			s.logger.Warn("mail dispatcher did not drain", slog.String("error", err.Error()))
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
