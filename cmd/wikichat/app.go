package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"wikichat/internal/adapter/embedding"
	"wikichat/internal/adapter/llm"
	"wikichat/internal/infra/config"
	"wikichat/internal/infra/logger"
	"wikichat/internal/infra/tracer"
	"wikichat/internal/usecase"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	toolbox  *usecase.Toolbox
	sessions *usecase.SessionManager
	conv     *usecase.Conversation
	llms     *llm.Registry
	model    string

	closers []func(context.Context) error
}

// appOptions adjust wiring per subcommand.
type appOptions struct {
	// logFile replaces a terminal log output, for commands that own the terminal.
	logFile string
	// stderrLogs moves stdout logging to stderr, for commands that speak on stdout.
	stderrLogs bool
}

// configPath resolves --config, then WIKICHAT_CONFIG, then ./config.yaml.
func configPath(flags *rootFlags) string {
	if flags.configPath != "" {
		return flags.configPath
	}
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig loads the config file and applies the command-line overrides.
// Flags win over the environment, which wins over the file.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath(flags))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.pages == "" && flags.mode == "" {
		return cfg, nil
	}
	if flags.pages != "" {
		cfg.Corpus.Pages = flags.pages
	}
	if flags.mode != "" {
		cfg.Agent.Mode = flags.mode
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newApp wires config, logging, tracing, the LLM, the embedder, the
// toolbox, the agent and the conversation service, in that order.
// Any error is a startup error.
func newApp(ctx context.Context, flags *rootFlags, opts appOptions) (_ *app, err error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logCfg := cfg.Logger
	terminal := logCfg.Output == "" || strings.EqualFold(logCfg.Output, "stdout") || strings.EqualFold(logCfg.Output, "stderr")
	switch {
	case opts.logFile != "" && terminal:
		logCfg.Output = opts.logFile
	case opts.stderrLogs && strings.EqualFold(logCfg.Output, "stdout"):
		logCfg.Output = "stderr"
	}
	log, logCloser, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.logger = log
	a.closers = append(a.closers, func(context.Context) error { return logCloser() })

	// Spans share the terminal rules of the log stream: stdout stays free
	// for the protocol in mcp and ask, and the TUI owns the screen.
	traceCfg := cfg.Tracer
	if traceCfg.Exporter == "stdout" {
		switch {
		case opts.logFile != "":
			traceCfg.Exporter, traceCfg.Output = "file", opts.logFile+".trace"
		case opts.stderrLogs:
			traceCfg.Exporter = "stderr"
		}
	}
	shutdownTracer, err := tracer.Setup(ctx, traceCfg)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	provider, llms, err := llm.Build(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.llms = llms
	a.model = modelName(cfg.LLM)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	tb, err := usecase.NewToolbox(ctx, usecase.ToolboxDeps{
		Config:   cfg,
		LLM:      provider,
		Model:    a.model,
		Embedder: embedder,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("toolbox: %w", err)
	}
	a.toolbox = tb
	a.closers = append(a.closers, func(context.Context) error { return tb.Close() })

	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:            provider,
		ContextBuilder: usecase.NewContextBuilder(cfg.Agent.SystemPrompt, a.model, cfg.Agent.MemoryWindow, cfg.Agent.Temperature),
		Logger:         log,
		Mode:           cfg.Agent.Mode,
		MaxIterations:  cfg.Agent.MaxIterations,
		MaxRetries:     cfg.Agent.MaxRetries,
		Timeout:        cfg.Agent.Timeout,
	})

	a.sessions = usecase.NewSessionManager(cfg.Session.Dir)
	a.conv = usecase.NewConversation(agent, tb, a.sessions, log)

	corpus := tb.Corpus()
	log.Info("wikichat ready",
		"version", version,
		"mode", agent.Mode(),
		"provider", cfg.LLM.DefaultProvider,
		"tools", len(tb.Tools()),
		"pages", corpus.Key,
		"articles", corpus.Articles,
	)
	return a, nil
}

// runReaper evicts idle sessions until ctx is done.
func (a *app) runReaper(ctx context.Context) {
	go a.sessions.RunReaper(ctx, a.cfg.Session.ReapInterval, a.cfg.Session.MaxAge, a.logger)
}

// warmModels preloads local models in the background so the first
// question does not wait for them.
func (a *app) warmModels(ctx context.Context) {
	go a.llms.Warm(ctx, a.logger)
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// modelName returns the model of the default provider, or its name.
func modelName(cfg config.LLMConfig) string {
	name := cfg.DefaultProvider
	for _, p := range cfg.Providers {
		if name == "" || p.Name == name {
			if p.Model != "" {
				return p.Model
			}
			return p.Name
		}
	}
	return name
}
