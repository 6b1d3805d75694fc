package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpilot/pkg/retrier"
)

func fastRetrier() *retrier.Retrier {
	return retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond))
}

func TestOpenAICompatibleClient_Chat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"getVaultBalance","arguments":"{}"}}]}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(srv.URL, "secret", "gpt-4", WithRetrier(fastRetrier()))
	msg, err := client.Chat(context.Background(),
		[]ChatMessage{{Role: "user", Content: "check the vault"}},
		[]ToolDefinition{{Type: "function", Function: FunctionDefinition{Name: "getVaultBalance", Parameters: map[string]any{"type": "object"}}}})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", got.Model)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "getVaultBalance", got.Tools[0].Function.Name)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "getVaultBalance", msg.ToolCalls[0].Function.Name)
}

func TestOpenAICompatibleClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(srv.URL, "secret", "gpt-4", WithRetrier(fastRetrier()))
	msg, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Content)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOpenAICompatibleClient_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(srv.URL, "secret", "gpt-4", WithRetrier(fastRetrier()))
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), hits.Load())
}

func TestOpenAICompatibleClient_EmptyKey(t *testing.T) {
	_, err := NewOpenAICompatibleClient("http://localhost", "", "gpt-4").Chat(context.Background(), nil, nil)
	assert.Error(t, err)
}
