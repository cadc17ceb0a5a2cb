// Chat widget conversation service for the LumenReach marketing site.
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

	"github.com/lumenreach/chatwidget/internal/agent"
	"github.com/lumenreach/chatwidget/internal/api"
	"github.com/lumenreach/chatwidget/internal/config"
	"github.com/lumenreach/chatwidget/internal/conversation"
	"github.com/lumenreach/chatwidget/internal/identity"
	"github.com/lumenreach/chatwidget/internal/middleware"
	"github.com/lumenreach/chatwidget/internal/store"
	"github.com/lumenreach/chatwidget/internal/transcript"
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

	slog.Info("Starting widget server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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

	agentClient, err := agent.NewHTTPClient(agent.HTTPClientConfig{
		Endpoint: cfg.Agent.Endpoint,
		AgentID:  cfg.Agent.AgentID,
		Timeout:  cfg.Agent.Timeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize agent client", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent client initialized", "endpoint", cfg.Agent.Endpoint, "agent_id", cfg.Agent.AgentID)

	transcriptLogger := transcript.NewNoop()
	if cfg.Transcript.Enabled {
		fileLogger, err := transcript.NewFileLogger(transcript.Config{
			Dir:       cfg.Transcript.Dir,
			QueueSize: cfg.Transcript.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize transcript logger", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := fileLogger.Close(); closeErr != nil {
				slog.Warn("Failed to close transcript logger", "error", closeErr)
			}
		}()
		transcriptLogger = fileLogger
		slog.Info("Transcript logging enabled", "dir", cfg.Transcript.Dir)
	}

	ids := identity.RandomSource{}

	registry := conversation.NewRegistry(conversation.Config{
		GreetingDelay:   cfg.Widget.GreetingDelay,
		MaxMessageChars: cfg.Widget.MaxMessageChars,
		BookingURL:      cfg.Widget.BookingURL,
	}, conversation.Deps{
		Repo:       repo,
		Agent:      agentClient,
		IDs:        ids,
		Transcript: transcriptLogger,
	})
	defer registry.CloseAll()

	// Initialize handlers.
	widgetHandler := api.NewHandler(registry, cfg)
	streamHandler := api.NewStreamHandler(registry, cfg.SiteURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.SiteURL}
	}
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(ids, cfg.IsDevelopment()))

	widgetHandler.RegisterRoutes(r)

	// WebSocket state stream.
	r.Get("/ws/widget", streamHandler.ServeHTTP)

	// Create server. The WebSocket stream needs long-lived connections, so
	// no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartEviction(ctx, cfg.Widget.SessionTTL)

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
