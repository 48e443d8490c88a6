package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-time-awareness/internal/config"
	"github.com/tjfontaine/polyglot-time-awareness/internal/runtime"
	"github.com/tjfontaine/polyglot-time-awareness/internal/telemetry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var level slog.LevelVar
	logger, err := config.NewLogger(os.Stdout, cfg.Logging, &level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.Options{ServiceName: cfg.Tracing.ServiceName}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := runtime.New(ctx,
		runtime.WithConfig(cfg),
		runtime.WithWatch(*configPath),
		runtime.WithLogger(logger, &level),
	)
	if err != nil {
		logger.Error("failed to create service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}
