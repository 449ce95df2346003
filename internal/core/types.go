package core

// Message roles accepted by the Messages API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatRequest is a single model request
type ChatRequest struct {
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

// NewUserRequest builds the fixed-shape request of one user message.
func NewUserRequest(model, prompt string, maxTokens int) *ChatRequest {
	return &ChatRequest{
		Model:     model,
		MaxTokens: &maxTokens,
		Messages: []Message{
			{Role: RoleUser, Content: prompt},
		},
	}
}

// Message represents a single message in the conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the normalized model response
type ChatResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	Provider   string `json:"provider,omitempty"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
	Created    int64  `json:"created"`
	Cached     bool   `json:"cached,omitempty"`
}

// Text returns the response content exactly as the model produced it.
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.Content
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
