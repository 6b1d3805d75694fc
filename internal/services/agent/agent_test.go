package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/oracle"
	"github.com/vadiminshakov/vaultpilot/internal/services/policy"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault/simulate"
)

var (
	vaultAddr = common.HexToAddress("0x50109a09aA3Ff67Ae594802468328e16bf85eb64")
	usdc      = domain.Token{Symbol: "USDC", Address: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"), Decimals: 6}
)

func newRegistry(t *testing.T, chain *simulate.Chain, aaveApr float64) *tools.Registry {
	t.Helper()
	client, err := vault.NewClient(zap.NewNop(), chain, chain, vaultAddr, usdc)
	require.NoError(t, err)
	book, err := oracle.NewBook(oracle.StaticSource{DepositApr: 4.5},
		oracle.PoolSource{Pool: "AAVE", Source: oracle.StaticSource{DepositApr: aaveApr}},
		oracle.PoolSource{Pool: "BALANCER", Source: oracle.StaticSource{DepositApr: 3.8}},
	)
	require.NoError(t, err)
	list, err := tools.VaultTools(tools.Deps{
		Vault:  client,
		Rates:  book,
		Policy: policy.New(policy.DefaultThresholdPercent),
		Tokens: []domain.Token{usdc},
	})
	require.NoError(t, err)
	registry, err := tools.NewRegistry(zap.NewNop(), list...)
	require.NoError(t, err)
	return registry
}

func newChain() *simulate.Chain {
	return simulate.NewChain(zap.NewNop(), vaultAddr, usdc.Address, 6, decimal.RequireFromString("1000"), "AAVE", "BALANCER")
}

func TestBuildInstruction(t *testing.T) {
	got := BuildInstruction([]domain.Token{usdc}, decimal.RequireFromString("0.5"))
	assert.Contains(t, got, "USDC in Aave: "+usdc.Address.Hex())
	assert.Contains(t, got, "by more than 0.5%")
	assert.Contains(t, got, "use depositToPool")
	assert.Contains(t, got, "use withdrawFromPool")
}

func TestPolicyAgent_DepositsIntoBetterPool(t *testing.T) {
	chain := newChain()
	session := newRegistry(t, chain, 5.3).NewSession()

	resp, err := NewPolicyAgent(zap.NewNop()).Invoke(context.Background(), Request{Session: session})
	require.NoError(t, err)

	actions := session.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionDepositToPool, actions[0].Kind)
	assert.Equal(t, "AAVE", actions[0].PoolName)
	assert.True(t, decimal.RequireFromString("1000").Equal(actions[0].Amount))
	assert.True(t, chain.Free().IsZero())
	assert.Contains(t, resp.Narrative, "Executed depositToPool")
	assert.Contains(t, resp.Narrative, "AAVE: 1000 USDC")
	assert.Equal(t, 5, resp.Turns)
}

func TestPolicyAgent_NoActionWithinThreshold(t *testing.T) {
	chain := newChain()
	session := newRegistry(t, chain, 5.0).NewSession()

	resp, err := NewPolicyAgent(zap.NewNop()).Invoke(context.Background(), Request{Session: session})
	require.NoError(t, err)
	assert.Empty(t, session.Actions())
	assert.Zero(t, chain.Writes())
	assert.Contains(t, resp.Narrative, "No reallocation needed")
}

func TestPolicyAgent_RejectedSigningIsReported(t *testing.T) {
	chain := newChain()
	chain.Reject = true
	session := newRegistry(t, chain, 6).NewSession()

	resp, err := NewPolicyAgent(zap.NewNop()).Invoke(context.Background(), Request{Session: session})
	require.NoError(t, err)
	assert.Empty(t, session.Actions())
	require.Len(t, session.Failures(), 1)
	assert.Contains(t, resp.Narrative, "failed")
}

type fakeChat struct {
	replies  []clients.ChatMessage
	requests [][]clients.ChatMessage
}

func (f *fakeChat) Model() string { return "gpt-4" }

func (f *fakeChat) Chat(_ context.Context, messages []clients.ChatMessage, _ []clients.ToolDefinition) (clients.ChatMessage, error) {
	f.requests = append(f.requests, append([]clients.ChatMessage(nil), messages...))
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func toolCall(id, name, args string) clients.ChatMessage {
	return clients.ChatMessage{Role: "assistant", ToolCalls: []clients.ToolCall{
		{ID: id, Type: "function", Function: clients.FunctionCall{Name: name, Arguments: args}},
	}}
}

func TestOpenAIAgent_ToolLoop(t *testing.T) {
	chain := newChain()
	session := newRegistry(t, chain, 5.3).NewSession()
	chat := &fakeChat{replies: []clients.ChatMessage{
		toolCall("1", tools.NameGetVaultBalance, `{}`),
		toolCall("2", tools.NameDepositToPool, `{"poolName":"AAVE"}`),
		toolCall("3", tools.NameDepositToPool, `{"poolName":"AAVE","amount":"1000"}`),
		{Role: "assistant", Content: "Moved 1000 USDC into AAVE"},
	}}

	history := []domain.Turn{{Role: domain.RoleUser, Content: "previous"}, {Role: domain.RoleAssistant, Content: "previous answer"}}
	resp, err := NewOpenAIAgent(zap.NewNop(), chat, 10).Invoke(context.Background(), Request{
		Instruction: "optimize", History: history, Session: session,
	})
	require.NoError(t, err)
	assert.Equal(t, "Moved 1000 USDC into AAVE", resp.Narrative)
	assert.Equal(t, 4, resp.Turns)

	first := chat.requests[0]
	require.Len(t, first, 4)
	assert.Equal(t, "system", first[0].Role)
	assert.Equal(t, "previous", first[1].Content)
	assert.Equal(t, "optimize", first[3].Content)

	// the rejected call reaches the model as an error payload
	third := chat.requests[2]
	last := third[len(third)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "2", last.ToolCallID)
	assert.Contains(t, last.Content, "schema validation error")

	assert.Len(t, session.Actions(), 1)
	assert.Len(t, session.Failures(), 1)
	assert.Equal(t, 1, chain.Writes())
}

func TestOpenAIAgent_MaxTurns(t *testing.T) {
	session := newRegistry(t, newChain(), 5.3).NewSession()
	chat := &fakeChat{replies: []clients.ChatMessage{toolCall("1", tools.NameGetVaultBalance, `{}`)}}

	resp, err := NewOpenAIAgent(zap.NewNop(), chat, 3).Invoke(context.Background(), Request{Instruction: "loop", Session: session})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded maximum turns (3)")
	assert.Equal(t, 3, resp.Turns)
	assert.Equal(t, 3, session.Calls())
}

func TestAnthropicAgent_ToolLoop(t *testing.T) {
	var hits atomic.Int32
	var secondBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
				"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"toolu_1","name":"getVaultBalance","input":{}}],
				"stop_reason":"tool_use","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":5}}`))
			return
		}
		secondBody = string(body)
		_, _ = w.Write([]byte(`{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Vault holds 1000 USDC, no action."}],
			"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	client, err := clients.NewAnthropicClient("test-key", srv.URL, 0)
	require.NoError(t, err)
	collaborator, err := NewAnthropicAgent(zap.NewNop(), client, "claude-test", 5)
	require.NoError(t, err)

	session := newRegistry(t, newChain(), 5.0).NewSession()
	resp, err := collaborator.Invoke(context.Background(), Request{
		Instruction: "optimize",
		History:     []domain.Turn{{Role: domain.RoleAssistant, Content: "orphan"}},
		Session:     session,
	})
	require.NoError(t, err)
	assert.Equal(t, "Vault holds 1000 USDC, no action.", resp.Narrative)
	assert.Equal(t, 2, resp.Turns)
	assert.Equal(t, 1, session.Calls())

	var sent struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(secondBody), &sent))
	require.Len(t, sent.Messages, 3)
	assert.True(t, strings.Contains(string(sent.Messages[2]), `"tool_use_id":"toolu_1"`))
	assert.NotContains(t, secondBody, "orphan")
}
