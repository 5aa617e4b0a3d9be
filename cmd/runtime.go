package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pigforge/gopig/internal/agent"
	"github.com/pigforge/gopig/internal/bootstrap"
	"github.com/pigforge/gopig/internal/config"
	"github.com/pigforge/gopig/internal/extensions"
	"github.com/pigforge/gopig/internal/providers"
	"github.com/pigforge/gopig/internal/queue"
	"github.com/pigforge/gopig/internal/session"
	"github.com/pigforge/gopig/internal/tools"
	"github.com/pigforge/gopig/internal/tracing"
)

// runtime bundles everything a command needs to run the agent.
type runtime struct {
	cfg       *config.Config
	workspace string
	provider  providers.Provider
	registry  *tools.Registry
	sessions  *session.Manager
	queue     *queue.Queue
	hub       *extensions.Hub
	api       *extensions.API
	assembler *bootstrap.Assembler
	loop      *agent.Loop

	mcp          *extensions.MCPLoader
	shutdownTrace func(context.Context) error
}

// buildRuntime assembles the agent from config. Failures here are
// configuration errors; callers report them and exit 1.
func buildRuntime(ctx context.Context, cfg *config.Config, stream bool, onToken func(string)) (*runtime, error) {
	workspace := config.ExpandPath(cfg.Agent.Workspace)
	if !filepath.IsAbs(workspace) {
		if abs, err := filepath.Abs(workspace); err == nil {
			workspace = abs
		}
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if _, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		return nil, fmt.Errorf("seed workspace: %w", err)
	}

	pcfg := cfg.ProviderSettings()
	provider, err := providers.New(cfg.Agent.Provider, providers.Config{
		APIKey:  pcfg.APIKey,
		BaseURL: pcfg.BaseURL,
		Model:   pcfg.Model,
	})
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, workspace); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	store, err := session.NewStore(config.ExpandPath(cfg.Sessions.Storage))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	sessions := session.NewManager(store)

	hub := extensions.NewHub()
	api := extensions.NewAPI(registry, hub)
	extensions.EnableAll(api, cfg.Extensions.Enabled)

	mcp := extensions.NewMCPLoader(api)
	mcpDir := cfg.Extensions.Dir
	if !filepath.IsAbs(mcpDir) {
		mcpDir = filepath.Join(workspace, mcpDir)
	}
	mcp.LoadDir(ctx, mcpDir)

	assembler, err := bootstrap.NewAssembler(workspace)
	if err != nil {
		return nil, err
	}
	if err := assembler.Watch(); err != nil {
		return nil, fmt.Errorf("watch prompt files: %w", err)
	}

	shutdownTrace, err := tracing.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	// One-at-a-time is the default; "all" opts into batch draining.
	drainMode := queue.DrainOne
	if cfg.Agent.DrainMode == "all" {
		drainMode = queue.DrainAll
	}

	q := queue.New()
	loop := agent.NewLoop(agent.Config{
		Provider:      provider,
		Registry:      registry,
		Sessions:      sessions,
		Queue:         q,
		Events:        hub,
		SystemPrompt:  assembler.SystemPrompt,
		Model:         pcfg.Model,
		MaxIterations: cfg.Agent.MaxIterations,
		DrainMode:     drainMode,
		Stream:        stream,
		OnToken:       onToken,
	})

	return &runtime{
		cfg:           cfg,
		workspace:     workspace,
		provider:      provider,
		registry:      registry,
		sessions:      sessions,
		queue:         q,
		hub:           hub,
		api:           api,
		assembler:     assembler,
		loop:          loop,
		mcp:           mcp,
		shutdownTrace: shutdownTrace,
	}, nil
}

func (r *runtime) close(ctx context.Context) {
	r.assembler.Close()
	r.mcp.Close()
	if r.shutdownTrace != nil {
		_ = r.shutdownTrace(ctx)
	}
}
