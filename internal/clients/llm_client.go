package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/vaultpilot/pkg/retrier"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// OpenAICompatibleClient chat completions client for OpenAI-compatible APIs with function calling.
type OpenAICompatibleClient struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	retrier    *retrier.Retrier
}

// LLMOption configures the chat client.
type LLMOption func(*OpenAICompatibleClient)

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retrier.Retrier) LLMOption {
	return func(c *OpenAICompatibleClient) {
		c.retrier = r
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) LLMOption {
	return func(c *OpenAICompatibleClient) {
		c.httpClient = h
	}
}

// NewOpenAICompatibleClient creates a new client for OpenAI-compatible APIs
func NewOpenAICompatibleClient(apiURL, apiKey, model string, opts ...LLMOption) *OpenAICompatibleClient {
	c := &OpenAICompatibleClient{
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		retrier: retrier.New(
			retrier.WithMaxRetries(defaultMaxRetries-1),
			retrier.WithInitialInterval(defaultRetryDelay),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAICompatibleClient) Model() string {
	return c.model
}

// ChatMessage single message of a chat completion conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall name and JSON encoded arguments of a requested call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition function the model may call.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition function name, description and JSON Schema of its parameters.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// chatRequest represents the request structure for OpenAI-compatible APIs
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
}

// chatResponse represents the response structure from OpenAI-compatible APIs
type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Usage   usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Chat sends the conversation with the available tools and returns the assistant message.
// Transport failures and 5xx/429 answers are retried, other API errors are returned at once.
func (c *OpenAICompatibleClient) Chat(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ChatMessage, error) {
	if c.apiKey == "" {
		return ChatMessage{}, errors.New("LLM API key is empty")
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: 0.0, // deterministic answers for on-chain actions
	}

	msg, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (ChatMessage, error) {
		return c.sendRequest(ctx, reqBody)
	})
	if err != nil {
		return ChatMessage{}, errors.Wrap(err, "chat completion failed")
	}
	return msg, nil
}

func (c *OpenAICompatibleClient) sendRequest(ctx context.Context, reqBody chatRequest) (ChatMessage, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return ChatMessage{}, retrier.Permanent(errors.Wrap(err, "failed to marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return ChatMessage{}, retrier.Permanent(errors.Wrap(err, "failed to create HTTP request"))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ChatMessage{}, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatMessage{}, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return ChatMessage{}, statusErr
		}
		return ChatMessage{}, retrier.Permanent(statusErr)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return ChatMessage{}, errors.Wrap(err, "failed to unmarshal response")
	}

	if chatResp.Error != nil {
		return ChatMessage{}, retrier.Permanent(fmt.Errorf("LLM API error: %s (type: %s, code: %s)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code))
	}

	if len(chatResp.Choices) == 0 {
		return ChatMessage{}, errors.New("LLM API returned no choices")
	}

	return chatResp.Choices[0].Message, nil
}
