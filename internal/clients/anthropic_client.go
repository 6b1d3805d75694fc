package clients

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// NewAnthropicClient creates a Messages API client. baseURL may be empty.
func NewAnthropicClient(apiKey, baseURL string, maxRetries int) (*anthropic.Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &client, nil
}
