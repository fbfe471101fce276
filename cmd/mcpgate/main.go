package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/pipeline"
	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
	"github.com/mcpgate/mcpgate/internal/state/store"
	"github.com/mcpgate/mcpgate/internal/tool"
	"github.com/mcpgate/mcpgate/internal/transport"
	"github.com/mcpgate/mcpgate/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	stdio := flag.Bool("stdio", false, "serve one JSON request per stdin line instead of HTTP")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath, *stdio); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run exits non-zero only on startup misconfiguration; individual request
// failures are reported in-band and never terminate the process.
func run(configPath string, stdio bool) error {
	logger := log.New(os.Stderr, "mcpgate ", log.LstdFlags)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	completer := provider.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)

	registry := tool.NewRegistry()
	if cfg.Tools.LuaDir != "" {
		n, err := tool.LoadDir(registry, cfg.Tools.LuaDir)
		if err != nil {
			return fmt.Errorf("loading lua tools: %w", err)
		}
		logger.Printf("loaded %d lua tools from %s", n, cfg.Tools.LuaDir)
	}

	sessionStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sessionStore.Close() }()

	// Memory backend with a data dir configured: restore last snapshot and
	// write one on shutdown.
	if mem, ok := sessionStore.(*state.MemoryStore); ok && cfg.Sessions.DataDir != "" {
		snapshotPath := filepath.Join(cfg.Sessions.DataDir, "sessions.yaml")
		if err := mem.LoadSnapshot(snapshotPath); err != nil {
			logger.Printf("session snapshot: %v", err)
		}
		defer func() {
			if err := mem.SaveSnapshot(snapshotPath); err != nil {
				logger.Printf("session snapshot: %v", err)
			}
		}()
	}

	idleExpiry, err := cfg.Sessions.ParseIdleExpiry()
	if err != nil {
		return fmt.Errorf("sessions.idle_expiry: %w", err)
	}
	if idleExpiry > 0 {
		pruner, err := state.NewPruner(sessionStore, cfg.Sessions.SweepSpec, idleExpiry, logger)
		if err != nil {
			return fmt.Errorf("sessions.sweep_spec: %w", err)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	toolTimeout, err := cfg.Engine.ParseToolTimeout()
	if err != nil {
		return fmt.Errorf("engine.tool_timeout: %w", err)
	}
	resolver := pipeline.NewResolver(registry, logger)
	executor := pipeline.NewExecutor(registry, cfg.Engine.Workers, toolTimeout, logger)

	eng := engine.New(completer, registry, resolver, executor, sessionStore, engine.Options{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		MaxIterations:  cfg.Engine.MaxIterations,
		EventQueueSize: cfg.Server.EventQueueSize,
		Logger:         logger,
	})

	hbInterval, err := cfg.Server.Heartbeat.ParseInterval()
	if err != nil {
		return fmt.Errorf("server.heartbeat.interval: %w", err)
	}
	metrics := transport.NewMetrics()
	adapter := transport.NewAdapter(eng, metrics, transport.Heartbeat{
		Enabled:  cfg.Server.Heartbeat.Enabled,
		Interval: hbInterval,
		MaxCount: cfg.Server.Heartbeat.MaxCount,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stdio {
		logger.Printf("%s serving stdio", version.Get())
		return adapter.ServeStdio(ctx, os.Stdin, os.Stdout)
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := transport.NewServer(addr, adapter, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Printf("%s ready", version.Get())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Sessions.Store {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		db, err := store.Open(cfg.Sessions.DataDir)
		if err != nil {
			return nil, err
		}
		return store.NewSessionStore(db, cfg.Sessions.MaxMessages), nil
	case "postgres":
		return store.OpenPostgres(cfg.Sessions.Postgres, cfg.Sessions.MaxMessages)
	case "redis":
		return store.OpenRedis(cfg.Sessions.Redis, cfg.Sessions.RedisDB, cfg.Sessions.MaxMessages)
	default:
		return nil, fmt.Errorf("unknown sessions.store %q", cfg.Sessions.Store)
	}
}
