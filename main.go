package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server"
	"go.uber.org/zap"
)

func main() {
	if _, err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Critical error: Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadPath(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		fmt.Printf("Critical error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Printf("Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Printf("Warning: Failed to sync logger: %v\n", syncErr)
		}
	}()

	errors.SetLogger(logger)

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Shutdown signal received",
			zap.String("signal", sig.String()),
			zap.String("action", "initiating graceful shutdown"),
		)
		cancel()
	}()

	logger.Info("Starting relay", zap.Int("port", cfg.Server.Port), zap.String("locale", cfg.Locale))
	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server startup or runtime error",
			zap.Error(err),
			zap.String("action", "server_start_failed"),
		)
	}
}
