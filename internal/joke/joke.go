// Package joke runs the pirate joke workflow: one traced model call whose
// reply is printed to the user.
package joke

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/trace"

	"traceflow/config"
	"traceflow/internal/core"
	"traceflow/internal/workflow"
)

// Generator asks a provider for a joke inside a workflow span.
type Generator struct {
	Provider  core.Provider
	Model     string
	MaxTokens int
	Prompt    string
	Workflow  string
}

// Overrides replace Generator defaults for a single run. Zero values keep the default.
type Overrides struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// Run is the outcome of one workflow execution.
type Run struct {
	Workflow string
	RunID    string
	// TraceID is empty when tracing is disabled or the run was not sampled
	TraceID  string
	Response *core.ChatResponse
}

// New creates a Generator using the model and workflow settings from cfg.
func New(p core.Provider, cfg *config.Config) *Generator {
	return &Generator{
		Provider:  p,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Prompt:    cfg.Workflow.Prompt,
		Workflow:  cfg.Workflow.Name,
	}
}

// Generate runs the workflow with the generator's defaults and returns the model reply.
func (g *Generator) Generate(ctx context.Context) (*core.ChatResponse, error) {
	run, err := g.GenerateWith(ctx, Overrides{})
	if err != nil {
		return nil, err
	}
	return run.Response, nil
}

// GenerateWith runs the workflow, applying o on top of the defaults.
func (g *Generator) GenerateWith(ctx context.Context, o Overrides) (*Run, error) {
	if g.Provider == nil {
		return nil, fmt.Errorf("joke generator has no provider")
	}
	if o.MaxTokens < 0 {
		return nil, core.NewInvalidRequestError("max_tokens must be positive", nil)
	}

	req := core.NewUserRequest(
		pick(o.Model, g.Model, config.DefaultModel),
		pick(o.Prompt, g.Prompt, config.DefaultPrompt),
		pickInt(o.MaxTokens, g.MaxTokens, config.DefaultMaxTokens),
	)
	name := pick("", g.Workflow, config.DefaultWorkflowName)

	return workflow.Run(ctx, name, func(ctx context.Context) (*Run, error) {
		run := &Run{Workflow: name, RunID: core.GetRunID(ctx)}
		// An unsampled run is never exported, so its trace id would not resolve.
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.IsSampled() {
			run.TraceID = sc.TraceID().String()
		}
		resp, err := g.Provider.ChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		run.Response = resp
		return run, nil
	})
}

// Print writes the reply text followed by a newline.
func Print(w io.Writer, resp *core.ChatResponse) error {
	_, err := fmt.Fprintln(w, resp.Text())
	return err
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
