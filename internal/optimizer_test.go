package internal

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/events"
	"github.com/vadiminshakov/vaultpilot/internal/services/agent"
	"github.com/vadiminshakov/vaultpilot/internal/services/oracle"
	"github.com/vadiminshakov/vaultpilot/internal/services/policy"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault/simulate"
	"github.com/vadiminshakov/vaultpilot/internal/storage/cycles"
	"github.com/vadiminshakov/vaultpilot/internal/storage/threads"
)

var (
	testVault = common.HexToAddress("0x50109a09aA3Ff67Ae594802468328e16bf85eb64")
	testUSDC  = domain.Token{Symbol: "USDC", Address: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"), Decimals: 6}
)

type fixture struct {
	chain     *simulate.Chain
	client    *vault.Client
	book      *oracle.Book
	registry  *tools.Registry
	cycles    *cycles.WALStore
	threads   *threads.WALStore
	broadcast *events.CycleBroadcaster
}

func newFixture(t *testing.T, aaveApr float64) *fixture {
	t.Helper()
	chain := simulate.NewChain(zap.NewNop(), testVault, testUSDC.Address, 6, decimal.RequireFromString("1000"), "AAVE", "BALANCER")
	client, err := vault.NewClient(zap.NewNop(), chain, chain, testVault, testUSDC)
	require.NoError(t, err)

	book, err := oracle.NewBook(oracle.StaticSource{DepositApr: 4.5},
		oracle.PoolSource{Pool: "AAVE", Source: oracle.StaticSource{DepositApr: aaveApr, BorrowApr: 5.2}},
		oracle.PoolSource{Pool: "BALANCER", Source: oracle.StaticSource{DepositApr: 3.8, BorrowApr: 4.9}},
	)
	require.NoError(t, err)

	list, err := tools.VaultTools(tools.Deps{
		Vault:  client,
		Rates:  book,
		Policy: policy.New(policy.DefaultThresholdPercent),
		Tokens: []domain.Token{testUSDC},
	})
	require.NoError(t, err)
	registry, err := tools.NewRegistry(zap.NewNop(), list...)
	require.NoError(t, err)

	dir := t.TempDir()
	cycleStore, err := cycles.NewWALStore(dir + "/cycles")
	require.NoError(t, err)
	t.Cleanup(func() { cycleStore.Close() })
	threadStore, err := threads.NewWALStore(dir + "/threads")
	require.NoError(t, err)
	t.Cleanup(func() { threadStore.Close() })

	return &fixture{
		chain:     chain,
		client:    client,
		book:      book,
		registry:  registry,
		cycles:    cycleStore,
		threads:   threadStore,
		broadcast: events.NewCycleBroadcaster(4),
	}
}

func (f *fixture) optimizer(t *testing.T, collaborator agent.Collaborator) *YieldOptimizer {
	t.Helper()
	o, err := NewYieldOptimizer(zap.NewNop(), OptimizerDeps{
		Registry:     f.registry,
		Collaborator: collaborator,
		Vault:        f.client,
		Rates:        f.book,
		Asset:        testUSDC,
		Tokens:       []domain.Token{testUSDC},
		Policy:       policy.New(policy.DefaultThresholdPercent),
		HistoryLimit: 4,
		Cycles:       f.cycles,
		Threads:      f.threads,
		Publisher:    f.broadcast,
	})
	require.NoError(t, err)
	return o
}

func TestYieldOptimizer_DepositsIdleFundsIntoBetterPool(t *testing.T) {
	f := newFixture(t, 5.3)
	o := f.optimizer(t, agent.NewPolicyAgent(zap.NewNop()))
	sub := f.broadcast.Subscribe()

	before, err := f.client.GetSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1000").Equal(before.FreeBalance()))

	result, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, result.ActionsTaken, 1)
	action := result.ActionsTaken[0]
	assert.Equal(t, domain.ActionDepositToPool, action.Kind)
	assert.Equal(t, "AAVE", action.PoolName)
	assert.True(t, before.FreeBalance().Equal(action.Amount))

	aave, ok := result.Snapshot.Pool("AAVE")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("1000").Equal(aave.Balance))
	assert.True(t, result.Snapshot.FreeBalance().IsZero())
	assert.True(t, before.TotalAssets.Equal(result.Snapshot.TotalAssets))
	assert.NotEmpty(t, result.Quotes)
	assert.NotEmpty(t, result.Narrative)
	assert.Equal(t, agent.PolicyModel, result.Model)

	published := <-sub
	assert.Equal(t, result.ID, published.ID)

	saved, err := f.cycles.Latest(1)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, result.ID, saved[0].Result.ID)

	thread, err := f.threads.Load(DefaultThreadID)
	require.NoError(t, err)
	require.Len(t, thread.Turns, 2)
	assert.Equal(t, domain.RoleUser, thread.Turns[0].Role)
	assert.Contains(t, thread.Turns[0].Content, "USDC in Aave")
	assert.Equal(t, result.Narrative, thread.Turns[1].Content)
}

func TestYieldOptimizer_SecondCycleKeepsAllocation(t *testing.T) {
	f := newFixture(t, 5.3)
	o := f.optimizer(t, agent.NewPolicyAgent(zap.NewNop()))

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	writes := f.chain.Writes()

	result, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.ActionsTaken)
	assert.Equal(t, writes, f.chain.Writes())

	// history is trimmed to the last four turns
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	thread, err := f.threads.Load(DefaultThreadID)
	require.NoError(t, err)
	assert.Len(t, thread.Turns, 4)
}

func TestYieldOptimizer_NoActionWithinThreshold(t *testing.T) {
	f := newFixture(t, 5.0)
	o := f.optimizer(t, agent.NewPolicyAgent(zap.NewNop()))

	result, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.ActionsTaken)
	assert.Zero(t, f.chain.Writes())
	assert.True(t, decimal.RequireFromString("1000").Equal(result.Snapshot.FreeBalance()))
}

type failingCollaborator struct {
	session agent.ToolSession
}

func (c *failingCollaborator) Model() string { return "broken" }

func (c *failingCollaborator) Invoke(ctx context.Context, req agent.Request) (agent.Response, error) {
	c.session = req.Session
	return agent.Response{}, errors.New("model endpoint unreachable")
}

func TestYieldOptimizer_CollaboratorFailureIsReported(t *testing.T) {
	f := newFixture(t, 5.3)
	o := f.optimizer(t, &failingCollaborator{})

	result, err := o.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model endpoint unreachable")
	assert.Contains(t, result.Narrative, "cycle failed")
	assert.True(t, decimal.RequireFromString("1000").Equal(result.Snapshot.TotalAssets))
	require.Len(t, result.Quotes, 3)

	saved, err := f.cycles.Latest(10)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	thread, err := f.threads.Load(DefaultThreadID)
	require.NoError(t, err)
	assert.Empty(t, thread.Turns)
}

func TestYieldOptimizer_RejectedSigningLeavesVaultUntouched(t *testing.T) {
	f := newFixture(t, 5.3)
	f.chain.Reject = true
	o := f.optimizer(t, agent.NewPolicyAgent(zap.NewNop()))

	result, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.ActionsTaken)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, tools.NameDepositToPool, result.Failures[0].Tool)
	assert.True(t, decimal.RequireFromString("1000").Equal(result.Snapshot.FreeBalance()))
}

func TestYieldOptimizer_UndeployedVault(t *testing.T) {
	f := newFixture(t, 5.3)
	f.chain.Undeployed = true
	o := f.optimizer(t, agent.NewPolicyAgent(zap.NewNop()))

	_, err := o.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrChainRead)
}

func TestNewYieldOptimizer_Validation(t *testing.T) {
	_, err := NewYieldOptimizer(zap.NewNop(), OptimizerDeps{})
	assert.Error(t, err)
}
