package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/config"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/handlers"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/publisher"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/ratelimit"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/server"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/signature"

	natsclient "github.com/ls1intum/Hephaestus-sub003/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	loader, err := config.NewLoader(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := loader.Config()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting webhook ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("path", cfg.GitHub.Path),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if file := loader.ConfigFile(); file != "" {
		slog.Info("Loaded configuration", logging.File(file))
	}

	// Connect to JetStream
	jsClient, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           cfg.NATS.URL,
		Name:          "webhook-ingest",
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.ConnectTimeout,
		Username:      cfg.NATS.Username,
		Password:      cfg.NATS.Password,
		Token:         cfg.NATS.Token,
		Logger:        logger.Logger,
	})
	if err != nil {
		slog.Error("Failed to connect to NATS", slog.String("url", cfg.NATS.URL), logging.Error(err))
		os.Exit(1)
	}
	defer jsClient.Close()

	if cfg.NATS.EnsureStream {
		streamCfg := natsclient.DefaultStreamConfig(cfg.NATS.Stream, []string{messaging.SubjectWildcard})
		streamCfg.MaxAge = cfg.NATS.MaxAge
		streamCfg.MaxBytes = cfg.NATS.MaxBytes

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		info, err := jsClient.EnsureStream(ctx, streamCfg)
		cancel()
		if err != nil {
			slog.Error("Failed to ensure stream", logging.Stream(cfg.NATS.Stream), logging.Error(err))
			os.Exit(1)
		}
		slog.Info("Stream ready",
			logging.Stream(info.Name),
			slog.Uint64("messages", info.Messages),
		)
	}

	pub := publisher.New(jsClient, publisher.Policy{
		MaxAttempts: cfg.Publish.MaxAttempts,
		BaseDelay:   cfg.Publish.BaseDelay,
		MaxDelay:    cfg.Publish.MaxDelay,
		Timeout:     cfg.Publish.Timeout,
		Retryable:   messaging.IsRetryable,
	}, publisher.WithLogger(logger))

	// Initialize rate limiter
	var rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without rate limiting", logging.Error(err))
		} else {
			rateLimiter = limiter
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.RateLimit.Requests),
				slog.Duration("window", cfg.RateLimit.Window),
			)
		}
	} else {
		slog.Info("Rate limiting disabled in configuration")
	}
	defer rateLimiter.Close()

	verifier := signature.NewVerifier(cfg.GitHub.WebhookSecret)

	// Pick up a rotated secret without a restart
	if loader.Watch(func(next *config.Config) {
		if next.GitHub.WebhookSecret == "" {
			slog.Warn("Ignoring config change without a webhook secret")
			return
		}
		verifier.SetSecret(next.GitHub.WebhookSecret)
		slog.Info("Webhook secret reloaded")
	}) {
		slog.Info("Watching configuration for changes", logging.File(loader.ConfigFile()))
	}

	// Initialize HTTP handlers
	handler := handlers.NewWebhookHandler(pub, verifier,
		handlers.WithRateLimiter(rateLimiter),
		handlers.WithTrustedProxyHeaders(cfg.RateLimit.TrustProxyHeaders),
		handlers.WithHealthChecker(jsClient),
		handlers.WithMaxBodyBytes(cfg.GitHub.MaxBodyBytes),
		handlers.WithLogger(logger),
	)
	router := server.NewRouter(handler, cfg.GitHub.Path, logger.Logger)

	// Create server with config values
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Webhook ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		slog.Error("Server error", logging.Error(err))
	}

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}

	// Let in-flight publish acks arrive before closing
	if err := jsClient.Drain(); err != nil {
		slog.Warn("Failed to drain NATS connection", logging.Error(err))
	}

	slog.Info("Server stopped")
}
