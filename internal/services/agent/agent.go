// Package agent runs decision collaborators that inspect the vault and act on it through the tool registry.
package agent

import (
	"context"
	"encoding/json"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
)

// ToolSession tools available to a collaborator during one cycle.
type ToolSession interface {
	Tools() []tools.Tool
	Call(ctx context.Context, name string, raw json.RawMessage) (string, error)
}

// Request one invocation of a collaborator.
type Request struct {
	Instruction string
	History     []domain.Turn
	Session     ToolSession
}

// Response final summary of a collaborator run.
type Response struct {
	Narrative string
	Turns     int
}

// Collaborator selects and invokes tools for an instruction, then summarizes what it did.
type Collaborator interface {
	Invoke(ctx context.Context, req Request) (Response, error)
	Model() string
}

// toolErrorOutput payload returned to a model when a tool call fails.
func toolErrorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
