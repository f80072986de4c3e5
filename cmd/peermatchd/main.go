package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/peermatch/internal/app"
	"github.com/knoguchi/peermatch/internal/config"
	"github.com/knoguchi/peermatch/internal/embedder"
	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/memory"
	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/repository/postgres"
	"github.com/knoguchi/peermatch/internal/reranker"
	"github.com/knoguchi/peermatch/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting matching service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"directory", cfg.DirectoryBackend,
	)

	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to release resources", "error", err)
		}
	}()

	grpcServer := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: slog.Default(),
		Ready:  a.People,
	})
	httpServer := server.NewHTTPServer(a.HTTPConfig())

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		slog.Info("starting gRPC server", "port", cfg.GRPCPort)
		if err := grpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown gRPC server", "error", err)
	}

	slog.Info("servers stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.PersonRepository = (*postgres.PersonRepo)(nil)
	_ memory.ConversationStore    = (*memory.BadgerStore)(nil)
	_ embedder.Embedder           = (*embedder.OllamaEmbedder)(nil)
	_ reranker.Reranker           = (*reranker.CrossEncoderClient)(nil)
	_ llm.ChatModel               = (*llm.OpenAIClient)(nil)
	_ llm.LLM                     = (*llm.OllamaClient)(nil)
)
