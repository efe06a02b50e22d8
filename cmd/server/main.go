package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/api"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/irfndi/flashloan-arb-go/internal/logging"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/services"
	"github.com/irfndi/flashloan-arb-go/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateStartup(); err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	logs := logging.NewBuffer(logging.DefaultBufferSize)
	broadcaster := services.NewBroadcaster(services.DefaultSubscriberBuffer)
	logger.AddHook(logging.NewBroadcastHook(logs, func(line logging.Line) {
		broadcaster.Publish(models.EventLog, line)
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitTelemetry(ctx, telemetry.FromConfig(cfg.Telemetry, cfg.Environment), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to shutdown telemetry")
		}
	}()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	bot, err := buildBot(ctx, cfg, stores, broadcaster, logger)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Dependencies{
		Bot:         bot,
		Logs:        logs,
		DB:          stores.dbHealth(),
		Redis:       stores.redisHealth(),
		Server:      cfg.Server,
		Security:    cfg.Security,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.ServiceVersion,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"service": cfg.Telemetry.ServiceName,
			"version": cfg.Telemetry.ServiceVersion,
			"port":    cfg.Server.Port,
		}).Info("Application startup")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := bot.Run(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to start bot: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	bot.Shutdown(shutdownCtx)

	logger.Info("Server exited gracefully")
	return nil
}
