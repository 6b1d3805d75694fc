package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestOnceCmd_Simulate(t *testing.T) {
	for _, key := range []string{"RPC_URL", "SAFE_ADDRESS", "VAULT_ADDRESS", "AGENT_PRIVATE_KEY", "LLM_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	body := `
simulate: true
simulate_balance: "1000"
storage_dir: ` + filepath.Join(dir, "data") + `
vault_apr: 4.5
tokens:
  - symbol: USDC
    address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
    decimals: 6
pools:
  - name: AAVE
    deposit_apr: 5.3
  - name: BALANCER
    deposit_apr: 3.8
agent:
  backend: policy
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute(t, "once", "--config", path)
	require.NoError(t, err)

	var result domain.CycleResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.ActionsTaken, 1)
	assert.Equal(t, domain.ActionDepositToPool, result.ActionsTaken[0].Kind)
	assert.Equal(t, "AAVE", result.ActionsTaken[0].PoolName)
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens: []\n"), 0o600))

	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
