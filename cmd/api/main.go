package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/agent-salon/backend/internal/config"
	"github.com/zhouzirui/agent-salon/backend/internal/handler"
	"github.com/zhouzirui/agent-salon/backend/internal/logging"
	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/service/ai"
	"github.com/zhouzirui/agent-salon/backend/internal/service/artifact"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	"github.com/zhouzirui/agent-salon/backend/internal/service/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/transcript"
	"github.com/zhouzirui/agent-salon/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	agents, err := loadAgents(cfg.Agents, logger)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var factory ai.ModelFactory
	if cfg.AI.Enabled() {
		factory = func(ctx context.Context, modelName string) (model.ChatModel, error) {
			return cfg.AI.NewChatModelFor(ctx, modelName)
		}
		logger.Info("ark chat model configured", "model", cfg.AI.Model)
	} else {
		logger.Warn("Ark 凭证未配置，仅 mock agent 可用")
	}
	aiService := ai.NewService(factory, logger)

	broadcaster := events.NewBroadcaster(logger)
	defer broadcaster.Close()

	sessions := session.NewService(st, agents, aiService, session.Config{
		DefaultMaxTurns: cfg.Session.DefaultMaxTurns,
		InjectRounds:    cfg.Session.InjectRounds,
	}, session.WithPublisher(broadcaster), session.WithLogger(logger))
	artifacts := artifact.NewSynthesizer(aiService, agents, logger)
	exporter := transcript.NewExporter(sessions, artifacts, agents, logger)

	router := handler.NewRouter(handler.Deps{
		Agents:      agents,
		Sessions:    sessions,
		Artifacts:   artifacts,
		Exporter:    exporter,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Streams end with the process context instead of holding shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info("agent salon backend listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
	return runServer(ctx, srv)
}

func loadAgents(cfg config.AgentsConfig, logger *slog.Logger) (agent.Store, error) {
	if cfg.File == "" {
		return agent.NewMemoryStore(agent.Seed()), nil
	}

	profiles, err := agent.LoadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	logger.Info("agent roster loaded", "path", cfg.File, "agents", len(profiles))
	return agent.NewMemoryStore(profiles), nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		st, err := store.NewSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
