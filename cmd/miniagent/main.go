// Package main is the CLI entry point for the mini-agent runtime: an
// LLM-driven reason/act loop served over HTTP with SSE streaming.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miniagent/miniagent/internal/agent"
	"github.com/miniagent/miniagent/internal/config"
	"github.com/miniagent/miniagent/internal/llm"
	"github.com/miniagent/miniagent/internal/memory"
	"github.com/miniagent/miniagent/internal/observability"
	"github.com/miniagent/miniagent/internal/server"
	"github.com/miniagent/miniagent/internal/sessions"
	"github.com/miniagent/miniagent/internal/skills"
	"github.com/miniagent/miniagent/internal/toolctx"
	"github.com/miniagent/miniagent/internal/tools"
	"github.com/miniagent/miniagent/internal/tools/files"
	"github.com/miniagent/miniagent/internal/tools/websearch"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "miniagent",
		Short:        "Mini-agent - an LLM agent runtime with streaming tool use",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("miniagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			setupLogging(cfg)
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides MINIAGENT_ADDR)")
	return cmd
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "miniagent")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	store, err := sessions.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}
	ctxStore, err := toolctx.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	mem, err := memory.NewIndex(cfg.DataDir)
	if err != nil {
		return err
	}

	manager := skills.NewManager(cfg.SkillsDirs)
	go func() {
		if err := manager.Watch(ctx); err != nil {
			slog.Warn("skills watcher stopped", "error", err)
		}
	}()

	registry, err := buildRegistry(cfg, manager)
	if err != nil {
		return err
	}
	slog.Info("tools registered", "tools", registry.Names())

	provider := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	ag := agent.New(provider, registry, store, ctxStore, mem, cfg.Model, cfg.MaxIterations)

	srv := server.New(cfg.Addr, ag, store, registry, manager)
	return srv.ListenAndServe(ctx)
}

// buildRegistry registers tools by environment capability: web search only
// when a Tavily key is configured, filesystem tools against the configured
// workspace, and the skill tool when any skill was discovered.
func buildRegistry(cfg *config.Config, manager *skills.Manager) (*tools.Registry, error) {
	registry := tools.NewRegistry(cfg.ToolTimeout)

	if cfg.TavilyAPIKey != "" {
		if err := registry.Register(websearch.NewSpec(websearch.NewClient(cfg.TavilyAPIKey, ""))); err != nil {
			return nil, err
		}
	}

	workspace, err := files.NewWorkspace(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	for _, spec := range workspace.Specs() {
		if err := registry.Register(spec); err != nil {
			return nil, err
		}
	}

	if len(manager.List()) > 0 {
		if err := registry.Register(skills.NewSpec(manager)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
