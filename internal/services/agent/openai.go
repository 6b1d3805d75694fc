package agent

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const defaultMaxTurns = 12

type chatClient interface {
	Chat(ctx context.Context, messages []clients.ChatMessage, tools []clients.ToolDefinition) (clients.ChatMessage, error)
	Model() string
}

// OpenAIAgent tool-calling loop over an OpenAI-compatible chat API.
type OpenAIAgent struct {
	logger   *zap.Logger
	client   chatClient
	maxTurns int
}

// NewOpenAIAgent creates a collaborator bounded by maxTurns model calls per run.
func NewOpenAIAgent(logger *zap.Logger, client chatClient, maxTurns int) *OpenAIAgent {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &OpenAIAgent{logger: logger, client: client, maxTurns: maxTurns}
}

// Model implements Collaborator.
func (a *OpenAIAgent) Model() string {
	return a.client.Model()
}

// Invoke implements Collaborator.
func (a *OpenAIAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	defs := make([]clients.ToolDefinition, 0, len(req.Session.Tools()))
	for _, t := range req.Session.Tools() {
		defs = append(defs, clients.ToolDefinition{
			Type: "function",
			Function: clients.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema.Map(),
			},
		})
	}

	messages := []clients.ChatMessage{{Role: "system", Content: SystemPrompt}}
	for _, turn := range req.History {
		messages = append(messages, clients.ChatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, clients.ChatMessage{Role: string(domain.RoleUser), Content: req.Instruction})

	for turn := 1; turn <= a.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return Response{Turns: turn - 1}, err
		}

		msg, err := a.client.Chat(ctx, messages, defs)
		if err != nil {
			return Response{Turns: turn}, err
		}
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			return Response{Narrative: msg.Content, Turns: turn}, nil
		}

		for _, call := range msg.ToolCalls {
			out, err := req.Session.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				out = toolErrorOutput(err)
			}
			a.logger.Debug("tool result sent to model", zap.String("tool", call.Function.Name), zap.String("output", out))
			messages = append(messages, clients.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: out})
		}
	}

	return Response{Turns: a.maxTurns}, errors.Errorf("exceeded maximum turns (%d)", a.maxTurns)
}
