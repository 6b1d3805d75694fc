package agent

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const defaultMaxTokens = 4096

// AnthropicAgent tool-use loop over the Anthropic Messages API.
type AnthropicAgent struct {
	logger   *zap.Logger
	client   *anthropic.Client
	model    string
	maxTurns int
}

// NewAnthropicAgent creates a collaborator bounded by maxTurns model calls per run.
func NewAnthropicAgent(logger *zap.Logger, client *anthropic.Client, model string, maxTurns int) (*AnthropicAgent, error) {
	if client == nil {
		return nil, errors.New("anthropic client is nil")
	}
	if model == "" {
		return nil, errors.New("anthropic model is empty")
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &AnthropicAgent{logger: logger, client: client, model: model, maxTurns: maxTurns}, nil
}

// Model implements Collaborator.
func (a *AnthropicAgent) Model() string {
	return a.model
}

// Invoke implements Collaborator.
func (a *AnthropicAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	var apiTools []anthropic.ToolUnionParam
	for _, t := range req.Session.Tools() {
		schema := t.Schema
		apiTools = append(apiTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Map()["properties"],
					Required:   schema.Required,
				},
			},
		})
	}

	messages := anthropicHistory(req.History)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Instruction)))

	for turn := 1; turn <= a.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return Response{Turns: turn - 1}, err
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: defaultMaxTokens,
			Messages:  messages,
			System: []anthropic.TextBlockParam{
				{Text: SystemPrompt},
			},
			Tools: apiTools,
		}
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return Response{Turns: turn}, errors.Wrap(err, "claude API error")
		}
		messages = append(messages, resp.ToParam())

		var text strings.Builder
		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				out, err := req.Session.Call(ctx, block.Name, block.Input)
				if err != nil {
					toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, toolErrorOutput(err), true))
					continue
				}
				toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, out, false))
			}
		}

		if len(toolResults) == 0 {
			return Response{Narrative: text.String(), Turns: turn}, nil
		}
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	return Response{Turns: a.maxTurns}, errors.Errorf("exceeded maximum turns (%d)", a.maxTurns)
}

// anthropicHistory converts stored turns, dropping leading assistant turns
// since a conversation has to open with a user message.
func anthropicHistory(history []domain.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		if len(messages) == 0 && turn.Role != domain.RoleUser {
			continue
		}
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}
