// NTO Agent Portal server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/nto-labs/agentforce-portal/internal/agentforce"
	"github.com/nto-labs/agentforce-portal/internal/api"
	"github.com/nto-labs/agentforce-portal/internal/auth"
	"github.com/nto-labs/agentforce-portal/internal/catalog"
	"github.com/nto-labs/agentforce-portal/internal/config"
	"github.com/nto-labs/agentforce-portal/internal/middleware"
	"github.com/nto-labs/agentforce-portal/internal/salesforce"
	"github.com/nto-labs/agentforce-portal/internal/store"
	"github.com/nto-labs/agentforce-portal/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.InstanceURL, cfg.SessionTTL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	agents, err := catalog.Load()
	if err != nil {
		slog.Error("Failed to load agent catalog", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sfTokens := salesforce.NewTokenProvider(cfg.InstanceURL, cfg.ClientID, cfg.ClientSecret)
	transcriber := salesforce.NewTranscriber(cfg.TranscriptionURL)
	sessions := agentforce.NewSessionManager(repo, sfTokens, cfg.AgentforceBaseURL, cfg.InstanceURL)
	controller := agentforce.NewController(repo, sfTokens, cfg.AgentforceBaseURL)
	loginTokens := auth.NewTokenManager([]byte(cfg.JWTSecret))

	// Initialize handlers.
	authHandler := auth.NewHandler(cfg.AuthPassword, loginTokens, cfg.IsDevelopment())
	chatHandler := api.NewChatHandler(repo, agents, sessions, controller)
	sfHandler := api.NewSalesforceHandler(sfTokens, transcriber)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)

	// Browser routes behind the login cookie.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(loginTokens))
		chatHandler.RegisterRoutes(r)
	})

	// Proxy routes for workshop tooling behind the shared secret.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSharedSecret(cfg.AuthPassword))
		sfHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
