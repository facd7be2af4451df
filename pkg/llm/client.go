package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/codeready-toolchain/conveyor/pkg/config"
)

// requestTimeout bounds one chat-completion call; it must stay below the
// broker lease so a slow model cannot cost the worker its claim.
const requestTimeout = 45 * time.Second

// Client is the interface the tool loop drives; tests substitute a scripted
// implementation.
type Client interface {
	// ChatWithTools sends the conversation and tool schema and returns the
	// assistant message of the first choice.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*Message, error)
}

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

// chatResponse is the subset of the chat-completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// HTTPClient talks to an OpenAI-compatible endpoint over HTTP.
type HTTPClient struct {
	rest *resty.Client
	cfg  *config.LLMConfig
}

// NewHTTPClient creates a client for the configured endpoint.
func NewHTTPClient(cfg *config.LLMConfig) *HTTPClient {
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		rest.SetAuthToken(cfg.APIKey)
	}
	return &HTTPClient{rest: rest, cfg: cfg}
}

// ChatWithTools implements Client. An HTTP error status or transport failure
// is returned as an error: the caller fails the job rather than consuming
// tool budget.
func (c *HTTPClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*Message, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var out chatResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return &Message{Role: RoleAssistant}, nil
	}

	msg := out.Choices[0].Message
	if msg.Content != nil {
		trimmed := strings.TrimSpace(*msg.Content)
		if trimmed == "" {
			msg.Content = nil
		} else {
			msg.Content = &trimmed
		}
	}
	return &msg, nil
}
