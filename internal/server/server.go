package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gcc-cricket/clubserver/config"
	"github.com/gcc-cricket/clubserver/internal/db"
	"github.com/gcc-cricket/clubserver/internal/handlers"
	"github.com/gcc-cricket/clubserver/internal/mq"
	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/gcc-cricket/clubserver/internal/session"
	"github.com/gcc-cricket/clubserver/internal/storage"
	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the backends the HTTP surface runs on.
type Deps struct {
	Accounts services.AccountRepository
	Receipts services.ReceiptRepository
	Objects  services.ObjectStore
	Sessions session.Store
	// Events may be nil to disable receipt events.
	Events services.EventPublisher
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	sessions   session.Store
	broker     *mq.MQ
	logger     *slog.Logger
}

// New opens the database, object storage, session store and broker named by
// cfg and mounts the API on them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	sessions, err := session.Open(cfg.Session)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}

	deps := Deps{
		Accounts: store.NewAccountRepository(dbConn),
		Receipts: store.NewReceiptRepository(dbConn),
		Objects:  objects,
		Sessions: sessions,
	}

	broker, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		logger.Info("receipt events disabled")
	case err != nil:
		_ = sessions.Close()
		_ = dbConn.Close()
		return nil, fmt.Errorf("open mq: %w", err)
	default:
		deps.Events = broker
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	router := NewRouter(cfg, deps, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		sessions:   sessions,
		broker:     broker,
		logger:     logger,
	}, nil
}

// NewRouter builds the services over deps and mounts every route.
func NewRouter(cfg config.Config, deps Deps, logger *slog.Logger) *chi.Mux {
	urls := services.NewMediaURLs(cfg.PublicBaseURL)
	roles := services.NewRoleResolver(deps.Accounts)
	issuer := services.NewCredentialIssuer(deps.Accounts, deps.Objects, urls)

	registration := services.NewRegistrationService(deps.Accounts, deps.Objects, cfg.Auth.ClubAdminInviteCode, logger)
	users := services.NewUserService(deps.Accounts, deps.Receipts, roles, deps.Objects, deps.Sessions, urls, logger)
	receipts := services.NewReceiptService(deps.Receipts, deps.Accounts, roles, issuer, deps.Objects, urls, deps.Events, cfg.MQ.ReceiptTopic, logger)
	scanner := services.NewScanService(deps.Accounts, deps.Receipts, urls, logger)

	authHandler := handlers.NewAuthHandler(users, registration, deps.Sessions, handlers.AuthOptions{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL:    cfg.Auth.RefreshTokenTTL,
		LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
		LoginBurst:         cfg.Auth.LoginBurst,
	}, logger)
	authMiddleware := handlers.RequireAuth(cfg.Auth.JWTSecret)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.Logging(logger),
		middleware.Timeout(timeout),
	)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, authHandler)
	handlers.UserRouter(router, handlers.NewUserHandler(users, logger), authMiddleware)
	handlers.ReceiptRouter(router, handlers.NewReceiptHandler(receipts, logger), authMiddleware)
	handlers.ScanRouter(router, handlers.NewScanHandler(scanner, logger), authMiddleware)
	handlers.MediaRouter(router, handlers.NewMediaHandler(deps.Objects, logger), authMiddleware)

	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.broker != nil {
		if cerr := s.broker.Close(); cerr != nil {
			s.logger.Warn("close mq", "error", cerr)
		}
	}
	if s.sessions != nil {
		if cerr := s.sessions.Close(); cerr != nil {
			s.logger.Warn("close sessions", "error", cerr)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
