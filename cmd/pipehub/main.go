package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pipehub/pipehub/internal/config"
	"github.com/pipehub/pipehub/internal/credential"
	"github.com/pipehub/pipehub/internal/github"
	"github.com/pipehub/pipehub/internal/relay"
	"github.com/pipehub/pipehub/internal/server"
	"github.com/pipehub/pipehub/internal/storage"
	"github.com/pipehub/pipehub/internal/storage/memory"
	"github.com/pipehub/pipehub/internal/storage/sqlite"
	"github.com/pipehub/pipehub/internal/telemetry"
	"github.com/pipehub/pipehub/internal/user"
	"github.com/pipehub/pipehub/internal/wechat"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.Init("pipehub", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	messenger := wechat.NewClient(cfg.WeChat.BaseURL)
	sessions := server.NewSessionManager(cfg.Session.Secret, cfg.Session.Secure)
	gh := github.NewClient(github.Options{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		RedirectURL:  cfg.GitHub.RedirectURL,
		AuthURL:      cfg.GitHub.AuthURL,
		TokenURL:     cfg.GitHub.TokenURL,
		APIURL:       cfg.GitHub.APIURL,
	})

	relayHandler := relay.New(store, credential.NewCache(), messenger, logger)
	userHandler := user.New(store, gh, sessions, cfg.Server.Domain, cfg.Server.DomainWeb, cfg.Session.Secure, logger)

	srv := server.New(cfg.Server.Addr(), logger)
	registerRoutes(srv, relayHandler, userHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("pipehub started",
		slog.String("addr", cfg.Server.Addr()),
		slog.String("database", cfg.Database.Driver),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (storage.TenantStore, error) {
	if cfg.Database.Driver == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(cfg.Database.DSN)
}

func registerRoutes(srv *server.Server, relayHandler *relay.Handler, userHandler *user.Handler) {
	r := srv.Router

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := server.HandlerFunc(relayHandler.Send)
	r.Method(http.MethodGet, "/send/{key}", send)
	r.Method(http.MethodPost, "/send/{key}", send)

	r.Get("/login", userHandler.Login)
	r.Get("/callback", userHandler.Callback)

	r.Method(http.MethodGet, "/user", server.HandlerFunc(userHandler.Profile))
	r.Method(http.MethodPut, "/user", server.HandlerFunc(userHandler.UpdateProfile))
	r.Method(http.MethodPost, "/user/reset_key", server.HandlerFunc(userHandler.ResetKey))
	r.Method(http.MethodGet, "/wechat", server.HandlerFunc(userHandler.WeChatApp))
	r.Method(http.MethodPut, "/wechat", server.HandlerFunc(userHandler.UpdateWeChatApp))
}
