package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/agent"
	"github.com/deepsense-ai/deepsense/pkg/blob"
	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/compaction"
	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/datasource"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/observability"
	"github.com/deepsense-ai/deepsense/pkg/sandbox"
	"github.com/deepsense-ai/deepsense/pkg/server"
	"github.com/deepsense-ai/deepsense/pkg/session"
	"github.com/deepsense-ai/deepsense/pkg/tokens"
	"github.com/deepsense-ai/deepsense/pkg/tools"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Host to bind (overrides config)."`
	Port int    `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	// Observability first so everything below records into it.
	if _, err := observability.InitGlobalTracer(ctx, cfg.Observability.Tracing); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	metrics, err := observability.InitMetrics(ctx, cfg.Observability.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	providers := llms.NewProviderRegistry()
	for name, providerCfg := range cfg.LLMs {
		if _, err := providers.CreateFromConfig(name, providerCfg); err != nil {
			return fmt.Errorf("failed to create LLM provider '%s': %w", name, err)
		}
	}
	planner, err := providers.GetProvider(cfg.Planner)
	if err != nil {
		return fmt.Errorf("planner provider: %w", err)
	}

	registry, err := buildToolRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("Tool catalog ready", "tools", len(registry.ListTools()))

	store, err := checkpoint.NewFromConfig(&cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}
	defer store.Close()

	uploader, err := blob.NewFromConfig(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	estimator := tokens.NewEstimator(cfg.LLMs[cfg.Planner].Model)
	engine, err := buildCompactionEngine(cfg, providers, planner, uploader, estimator)
	if err != nil {
		return err
	}

	loop := agent.NewLoop(planner, registry, store, engine, cfg.Server.MaxTransitions)
	service := session.NewService(loop, store, cfg.SystemPrompt)
	srv := server.NewServer(service, store, cfg.Server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		cancel()
	}()

	return srv.Start()
}

// buildToolRegistry registers datasources, the sandbox tool, and MCP
// servers into one catalog.
func buildToolRegistry(ctx context.Context, cfg *config.Config) (*tools.ToolRegistry, error) {
	registry := tools.NewToolRegistry()

	for name, dsCfg := range cfg.Datasources {
		ds, err := datasource.NewFromConfig(dsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build datasource '%s': %w", name, err)
		}
		if err := registry.RegisterSource(ctx, datasource.NewSource(ds)); err != nil {
			return nil, fmt.Errorf("failed to register datasource '%s': %w", name, err)
		}
		slog.Info("Registered datasource", "name", name, "type", dsCfg.Type)
	}

	if cfg.Sandbox.URL != "" {
		tool, err := sandbox.NewTool(sandbox.NewClient(cfg.Sandbox))
		if err != nil {
			return nil, fmt.Errorf("failed to build sandbox tool: %w", err)
		}
		local := tools.NewLocalToolSource("sandbox")
		local.Add(tool)
		if err := registry.RegisterSource(ctx, local); err != nil {
			return nil, fmt.Errorf("failed to register sandbox tool: %w", err)
		}
		slog.Info("Registered sandbox tool", "url", cfg.Sandbox.URL)
	}

	for name, toolCfg := range cfg.Tools {
		if toolCfg.Type != "mcp" {
			continue
		}
		source, err := tools.NewMCPToolSource(name, toolCfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect MCP server '%s': %w", name, err)
		}
		if err := source.DiscoverTools(ctx); err != nil {
			return nil, fmt.Errorf("failed to discover tools from '%s': %w", name, err)
		}
		if err := registry.RegisterSource(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to register MCP source '%s': %w", name, err)
		}
		slog.Info("Registered MCP source", "name", name, "url", toolCfg.ServerURL)
	}

	return registry, nil
}

func buildCompactionEngine(cfg *config.Config, providers *llms.ProviderRegistry, planner llms.Provider, uploader blob.Uploader, estimator *tokens.Estimator) (*compaction.Engine, error) {
	decision := planner
	if cfg.Compaction.DecisionLLM != "" {
		p, err := providers.GetProvider(cfg.Compaction.DecisionLLM)
		if err != nil {
			return nil, fmt.Errorf("decision provider: %w", err)
		}
		decision = p
	}

	reducer := planner
	if cfg.Compaction.ReducerLLM != "" {
		p, err := providers.GetProvider(cfg.Compaction.ReducerLLM)
		if err != nil {
			return nil, fmt.Errorf("reducer provider: %w", err)
		}
		reducer = p
	}

	return compaction.NewEngine(decision, reducer, uploader, estimator, cfg.Compaction, cfg.Blob.Prefix), nil
}
