// Package main runs the pirate joke workflow once, or serves it over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"traceflow/config"
	"traceflow/internal/app"
	"traceflow/internal/logging"
	"traceflow/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	versionFlag := flag.Bool("version", false, "Print version information")
	serve := flag.Bool("serve", false, "Serve the workflow over HTTP instead of running it once")
	prompt := flag.String("prompt", "", "Override the user prompt")
	model := flag.String("model", "", "Override the model")
	maxTokens := flag.Int("max-tokens", 0, "Override max_tokens")
	workflowName := flag.String("workflow", "", "Override the workflow name")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	// LOG_* may come from .env, which config.Load reads
	slog.SetDefault(logging.New(logging.OptionsFromEnv()))

	applyFlags(cfg, *prompt, *model, *maxTokens, *workflowName)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		return 1
	}

	if *serve {
		return serveHTTP(ctx, a, ":"+cfg.Server.Port)
	}

	runErr := a.RunOnce(ctx, os.Stdout)
	if runErr != nil {
		slog.Error("workflow failed", "workflow", cfg.Workflow.Name, "error", runErr)
	}
	if err := shutdown(a); err != nil || runErr != nil {
		return 1
	}
	return 0
}

func serveHTTP(ctx context.Context, a *app.App, addr string) int {
	slog.Info("starting traceflow",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		stopped <- shutdown(a)
	}()

	if err := a.Start(addr); err != nil {
		slog.Error("server error", "error", err)
		_ = shutdown(a)
		return 1
	}

	// Start returns once the listener closes; spans are still being flushed.
	if err := <-stopped; err != nil {
		slog.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

func applyFlags(cfg *config.Config, prompt, model string, maxTokens int, workflowName string) {
	if prompt != "" {
		cfg.Workflow.Prompt = prompt
	}
	if model != "" {
		cfg.Anthropic.Model = model
	}
	if maxTokens != 0 {
		cfg.Anthropic.MaxTokens = maxTokens
	}
	if workflowName != "" {
		cfg.Workflow.Name = workflowName
	}
}
