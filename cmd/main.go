package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_service/internal/auth"
	"chat_service/internal/chat"
	"chat_service/internal/config"
	"chat_service/internal/http_server/handlers/history"
	"chat_service/internal/http_server/handlers/logout"
	"chat_service/internal/http_server/handlers/presence"
	"chat_service/internal/http_server/handlers/session"
	"chat_service/internal/http_server/handlers/signin"
	"chat_service/internal/http_server/handlers/verify"
	rateLimit "chat_service/internal/middleware/ratelimit"
	"chat_service/internal/rabbitmq"
	"chat_service/internal/storage"
	"chat_service/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting chat service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	store, err := postgres.Connect(ctx, cfg)
	if err != nil {
		log.Error("failed to connect storage", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer msgBroker.Close()

	authService := auth.New(
		log,
		storage.NewTokens(store),
		storage.NewSessions(store),
		storage.NewUsers(store),
		msgBroker,
		cfg.Auth.VerificationTokenTTL,
		cfg.Auth.SessionTTL,
	)

	registry := chat.NewRegistry()
	broadcaster := chat.NewBroadcaster(cfg.Chat.SubscriberBuffer)
	events := storage.NewEvents(store)

	chatHandler := chat.NewHandler(log, registry, broadcaster, events, authService, cfg.Chat)

	router := setupRouter(log, cfg, authService, chatHandler, registry, events)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	}

	if err := chatHandler.Shutdown(5 * time.Second); err != nil {
		log.Error("Chat shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	authService *auth.Auth,
	chatHandler *chat.Handler,
	registry *chat.Registry,
	events chat.EventStore,
) *chi.Mux {
	validate := validator.New()

	secureCookie := cfg.Env == envProd

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(rateLimit.SignIn()).Post("/signin",
		signin.New(log, validate, authService, cfg.Auth.CallbackURL),
	)
	r.With(rateLimit.Verify()).Get("/verify",
		verify.New(log, authService, secureCookie),
	)
	r.With(rateLimit.Logout()).Post("/logout",
		logout.New(log, authService),
	)
	r.With(rateLimit.Session()).Get("/session",
		session.New(log, authService),
	)
	r.With(rateLimit.History()).Get("/history",
		history.New(log, authService, events, cfg.Chat.HistoryLimit),
	)
	r.Get("/presence",
		presence.New(registry),
	)
	r.Get("/ws", chatHandler.ServeWS)

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
