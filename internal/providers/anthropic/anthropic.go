// Package anthropic sends single-turn requests to the Anthropic Messages API.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"traceflow/internal/core"
	"traceflow/internal/pkg/llmclient"
)

const (
	// Name is the provider name used in errors, span attributes and metric labels.
	Name = "anthropic"

	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

// Options configures a Provider
type Options struct {
	APIKey     string
	BaseURL    string
	MaxRetries *int
	HTTPClient *http.Client
}

// Provider implements core.Provider for Anthropic
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider
func New(apiKey string) *Provider {
	return NewWithOptions(Options{APIKey: apiKey})
}

// NewWithOptions creates an Anthropic provider with a custom base URL, retry budget or HTTP client
func NewWithOptions(opts Options) *Provider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cfg := llmclient.DefaultConfig(Name, baseURL)
	if opts.MaxRetries != nil {
		cfg.MaxRetries = *opts.MaxRetries
	}

	p := &Provider{apiKey: opts.APIKey}
	p.client = llmclient.NewWithHTTPClient(opts.HTTPClient, cfg, p.setHeaders)
	return p
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(strings.TrimRight(url, "/"))
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Supports returns true if this provider can handle the given model
func (p *Provider) Supports(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func convertRequest(req *core.ChatRequest) *messagesRequest {
	out := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
	}

	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	// The Messages API takes the system prompt as a top-level field.
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			if out.System == "" {
				out.System = msg.Content
			} else {
				out.System += "\n" + msg.Content
			}
			continue
		}
		out.Messages = append(out.Messages, message{Role: msg.Role, Content: msg.Content})
	}

	return out
}

func convertResponse(resp *messagesResponse) *core.ChatResponse {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	role := resp.Role
	if role == "" {
		role = core.RoleAssistant
	}

	return &core.ChatResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Provider:   Name,
		Role:       role,
		Content:    text.String(),
		StopReason: resp.StopReason,
		Created:    time.Now().Unix(),
		Usage: core.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func validate(req *core.ChatRequest) error {
	if req == nil {
		return core.NewInvalidRequestError("request is required", nil)
	}
	if req.Model == "" {
		return core.NewInvalidRequestError("model is required", nil)
	}
	if len(req.Messages) == 0 {
		return core.NewInvalidRequestError("at least one message is required", nil)
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return core.NewInvalidRequestError("max_tokens must be positive", nil)
	}
	return nil
}

// ChatCompletion sends one request to POST /messages and blocks until it completes
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var resp messagesResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     convertRequest(req),
	}, &resp)
	if err != nil {
		return nil, err
	}

	return convertResponse(&resp), nil
}
