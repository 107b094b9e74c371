// Package llm is a minimal chat-completion client for OpenAI-compatible
// endpoints. Failures are wrapped with the classifier's transient/fatal
// markers so callers retry only what is worth retrying.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/ralph/classify"
)

// maxResponseSize caps the completion response body.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// Usage reports token consumption when the endpoint provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completion result.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Completer is the narrow surface agents depend on. *Client satisfies it;
// tests substitute a fake.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client calls a single OpenAI-compatible chat-completion endpoint.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

// NewClient creates a client for a chat-completion endpoint. baseURL is the
// API root; the /chat/completions path is appended per request.
func NewClient(baseURL, model, apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // model responses are slow
		},
		logger: logger.With("component", "llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends one chat-completion request. Network failures come back
// transient; malformed requests and auth problems come back fatal. The
// caller owns the retry policy.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, classify.Fatal(fmt.Errorf("at least one message is required"))
	}

	body, err := json.Marshal(wireRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, classify.Fatal(fmt.Errorf("encode request: %w", err))
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, classify.Fatal(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending completion request",
		"model", c.model,
		"messages", len(req.Messages))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify.Transient(fmt.Errorf("call completion endpoint: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classify.Transient(fmt.Errorf("read response body: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classify.NewHTTPError(httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, classify.Transient(fmt.Errorf("decode response: %w", err))
	}
	if len(wire.Choices) == 0 {
		return nil, classify.Transient(fmt.Errorf("completion response has no choices"))
	}

	return &Response{
		Content:      wire.Choices[0].Message.Content,
		Model:        wire.Model,
		FinishReason: wire.Choices[0].FinishReason,
		Usage:        wire.Usage,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
