// Command sqlchat serves the conversational SQL agent over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/client"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/sqlchat/pkg/agent"
	"github.com/randalmurphal/sqlchat/pkg/config"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/sqlchat/pkg/flowgraph/errors"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
	"github.com/randalmurphal/sqlchat/pkg/llm"
	"github.com/randalmurphal/sqlchat/pkg/server"
	"github.com/randalmurphal/sqlchat/pkg/sqlstore"
	"github.com/randalmurphal/sqlchat/pkg/stream"
	"github.com/randalmurphal/sqlchat/pkg/tools"
	"github.com/randalmurphal/sqlchat/pkg/upload"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("sqlchat", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	prompts, err := config.LoadPrompts(cfg.Prompts)
	if err != nil {
		return err
	}

	ctx := context.Background()

	spans, metrics, shutdownTelemetry, err := setupTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}

	db := sqlstore.NewHandle(cfg.Database.DSN, logger)

	store, err := openCheckpoints(cfg.Checkpoint)
	if err != nil {
		return err
	}

	chatModel, err := llm.NewOpenAI(ctx, llm.OpenAIConfig{
		Model:   cfg.Model.Name,
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	})
	if err != nil {
		return err
	}
	adapter := llm.New(chatModel,
		llm.WithRetry(fgerrors.NewRetryConfig(cfg.Model.MaxRetries, 0)),
		llm.WithLogger(logger),
		llm.WithTracing(spans),
		llm.WithMetrics(metrics),
	)

	registry := tools.NewRegistry(
		tools.WithLogger(logger),
		tools.WithTracing(spans),
		tools.WithMetrics(metrics),
	)
	for _, t := range tools.SQLTools(db) {
		if err := registry.Register(ctx, t); err != nil {
			return err
		}
	}

	stages := agent.NewStages(adapter, registry, db.Dialect(), prompts, agent.Limits{
		TopK:             cfg.Workflow.TopK,
		MaxToolRounds:    cfg.Workflow.MaxToolRounds,
		MaxQueryAttempts: cfg.Workflow.MaxQueryAttempts,
	})

	var (
		mcpClient  *client.Client
		searchName string
	)
	if cfg.Search.Enabled {
		mcpClient, err = tools.ConnectMCP(ctx, tools.MCPConfig{
			Command: cfg.Search.Command,
			Args:    cfg.Search.Args,
			Env:     cfg.Search.Env,
			URL:     cfg.Search.URL,
		})
		if err != nil {
			return err
		}
		search, err := tools.NewSearchTool(ctx, mcpClient, tools.SearchConfig{
			Name:       cfg.Search.ToolName,
			RemoteTool: cfg.Search.RemoteTool,
		})
		if err != nil {
			_ = mcpClient.Close()
			return err
		}
		if err := registry.Register(ctx, search); err != nil {
			_ = mcpClient.Close()
			return err
		}
		searchName = search.Name()
		stages.EnableSearch(searchName)
	}

	graph, err := agent.BuildGraph(cfg.Workflow.Variant, stages)
	if err != nil {
		return err
	}

	chat := agent.NewService(graph, store,
		agent.WithLogger(logger),
		agent.WithTracing(spans),
		agent.WithMetrics(metrics),
		agent.WithMaxIterations(cfg.Workflow.MaxIterations),
	)

	uploads, err := upload.NewService(cfg.Upload.Dir, db, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, chat, stream.NewProjector(searchName, logger), uploads, logger)

	srv.OnShutdown(func(ctx context.Context) {
		var errs []error
		if mcpClient != nil {
			errs = append(errs, mcpClient.Close())
		}
		errs = append(errs, store.Close(), db.Close(), shutdownTelemetry(ctx))
		if err := errors.Join(errs...); err != nil {
			logger.Error("shutdown", "error", err)
		}
	})

	logger.Info("sqlchat listening",
		"addr", cfg.Server.Addr,
		"variant", cfg.Workflow.Variant,
		"model", cfg.Model.Name,
		"checkpoints", cfg.Checkpoint.Driver,
		"search", searchName != "",
	)
	srv.Spin()
	return nil
}

func openCheckpoints(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return checkpoint.NewSQLiteStore(cfg.Path)
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}

// setupTelemetry installs SDK providers when enabled. Spans and metrics are
// recorded in process; exporters are attached by the deployment.
func setupTelemetry(cfg config.TelemetryConfig) (observability.SpanManager, observability.MetricsRecorder, func(context.Context) error, error) {
	if !cfg.Enabled {
		return observability.NoopSpanManager{}, observability.NoopMetrics{}, func(context.Context) error { return nil }, nil
	}

	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	metrics, err := observability.NewMetricsRecorderFrom(mp)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("telemetry: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return observability.NewSpanManagerFrom(tp), metrics, shutdown, nil
}
