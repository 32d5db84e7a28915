package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shelfwatch/shelfwatch/internal/agent"
	"github.com/shelfwatch/shelfwatch/internal/backend/openai"
	"github.com/shelfwatch/shelfwatch/internal/config"
	"github.com/shelfwatch/shelfwatch/internal/detect"
	"github.com/shelfwatch/shelfwatch/internal/pipeline"
	"github.com/shelfwatch/shelfwatch/internal/server"
	"github.com/shelfwatch/shelfwatch/internal/store/sqlite"
	"github.com/shelfwatch/shelfwatch/internal/telemetry"
	"github.com/shelfwatch/shelfwatch/internal/tool"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("shelfwatch", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := sqlite.New(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open inventory store: %v", err)
	}
	defer st.Close()

	mapping, err := detect.LoadMapping(cfg.Detection.MappingPath, logger)
	if err != nil {
		log.Fatalf("Failed to load label mapping: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Detection.WatchMapping {
		if err := mapping.Watch(ctx); err != nil {
			log.Fatalf("Failed to watch label mapping: %v", err)
		}
	}

	registry, err := tool.NewRegistry(tool.NewStockTool(st))
	if err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}

	var backendOpts []openai.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		backendOpts = append(backendOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	backend := openai.NewClient(cfg.OpenAI.APIKey, backendOpts...)

	callTimeout, err := cfg.AgentCallTimeout()
	if err != nil {
		log.Fatalf("Invalid agent call timeout: %v", err)
	}

	engine := agent.New(backend, registry, cfg.OpenAI.Model,
		agent.WithCallTimeout(callTimeout),
		agent.WithDefaultUserID(cfg.Agent.DefaultUserID),
		agent.WithLogger(logger),
	)

	applier := pipeline.NewApplier(st, logger)
	pipe := pipeline.New(engine, applier, logger)
	adapter := detect.NewAdapter(mapping, logger)

	srv := server.New(cfg.Server.Port, logger)
	handlers := server.NewHandlers(pipe, adapter, st, logger)
	if cfg.Detection.ModelURL != "" {
		handlers.WithModelClient(detect.NewClient(cfg.Detection.ModelURL))
	}
	handlers.Register(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("shelfwatch started",
		slog.Int("port", cfg.Server.Port),
		slog.String("model", cfg.OpenAI.Model),
		slog.Int("labels", mapping.Len()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shelfwatch shutdown complete")
}
