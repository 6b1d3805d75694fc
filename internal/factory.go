package internal

import (
	"context"
	"math/big"
	"path/filepath"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/config"
	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/events"
	"github.com/vadiminshakov/vaultpilot/internal/scheduler"
	"github.com/vadiminshakov/vaultpilot/internal/services/agent"
	"github.com/vadiminshakov/vaultpilot/internal/services/multisig"
	"github.com/vadiminshakov/vaultpilot/internal/services/oracle"
	"github.com/vadiminshakov/vaultpilot/internal/services/policy"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault/simulate"
	"github.com/vadiminshakov/vaultpilot/internal/storage/cycles"
	"github.com/vadiminshakov/vaultpilot/internal/storage/simstate"
	"github.com/vadiminshakov/vaultpilot/internal/storage/threads"
	"github.com/vadiminshakov/vaultpilot/internal/web"
)

const (
	anthropicMaxRetries = 2
	broadcastBuffer     = 16
	// simulateDecimals precision of the simulated asset when the config does not declare one.
	simulateDecimals = 6
)

type chainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type txExecutor interface {
	Sign(ctx context.Context, call multisig.Call) (*multisig.SignedTx, error)
	Submit(ctx context.Context, signed *multisig.SignedTx) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// chainBackend reads and writes the vault, either on the real chain or in memory.
type chainBackend struct {
	reader   chainReader
	executor txExecutor
	live     bool
	close    func()
}

// App wired yield agent.
type App struct {
	Config    config.Config
	Vault     *vault.Client
	Rates     *oracle.Book
	Optimizer *YieldOptimizer
	Scheduler *scheduler.Scheduler
	Server    *web.Server

	closers []func() error
}

// NewApp builds every component from the config.
func NewApp(ctx context.Context, logger *zap.Logger, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	backend, err := newChainBackend(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	if backend.close != nil {
		app.closers = append(app.closers, func() error { backend.close(); return nil })
	}

	app.Vault, err = vault.NewClient(logger.Named("vault"), backend.reader, backend.executor, cfg.VaultAddress, cfg.Asset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create vault client")
	}

	var aave *oracle.AaveOracle
	app.Rates, aave, err = newRateBook(logger, cfg, backend)
	if err != nil {
		return nil, err
	}

	p := policy.New(cfg.ThresholdPercent)
	deps := tools.Deps{
		Vault:  app.Vault,
		Rates:  app.Rates,
		Policy: p,
		Tokens: cfg.Tokens,
	}
	if aave != nil {
		deps.Aave = aave
	}
	toolset, err := tools.VaultTools(deps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tools")
	}
	registry, err := tools.NewRegistry(logger.Named("tools"), toolset...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tool registry")
	}

	collaborator, err := newCollaborator(logger.Named("agent"), cfg.Agent, cfg)
	if err != nil {
		return nil, err
	}

	cycleStore, err := cycles.NewWALStore(filepath.Join(cfg.StorageDir, "cycles"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cycle store")
	}
	app.closers = append(app.closers, cycleStore.Close)

	threadStore, err := threads.NewWALStore(filepath.Join(cfg.StorageDir, "threads"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open thread store")
	}
	app.closers = append(app.closers, threadStore.Close)

	broadcaster := events.NewCycleBroadcaster(broadcastBuffer)

	app.Optimizer, err = NewYieldOptimizer(logger.Named("optimizer"), OptimizerDeps{
		Registry:     registry,
		Collaborator: collaborator,
		Vault:        app.Vault,
		Rates:        app.Rates,
		Asset:        cfg.Asset,
		Tokens:       cfg.Tokens,
		Policy:       p,
		ThreadID:     cfg.Agent.ThreadID,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Cycles:       cycleStore,
		Threads:      threadStore,
		Publisher:    broadcaster,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create optimizer")
	}

	app.Scheduler, err = scheduler.New(logger.Named("scheduler"), cfg.CheckInterval, app.Optimizer.Cycle)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	app.Server = web.NewServer(logger.Named("web"), cfg.HTTPAddr, cfg.AprData, cycleStore, broadcaster)

	logger.Info("vault agent initialized",
		zap.String("vault", cfg.VaultAddress.Hex()),
		zap.String("asset", cfg.Asset.String()),
		zap.Bool("simulate", cfg.Simulate),
		zap.String("agent", collaborator.Model()),
		zap.Strings("pools", app.Rates.Pools()),
		zap.Duration("interval", cfg.CheckInterval))

	ok = true
	return app, nil
}

// Close releases stores and the chain connection.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func newChainBackend(ctx context.Context, logger *zap.Logger, cfg config.Config) (chainBackend, error) {
	if cfg.Simulate {
		return newSimulatedBackend(logger, cfg)
	}

	eth, err := clients.NewChainClient(ctx, cfg.RPCURL)
	if err != nil {
		return chainBackend{}, errors.Wrap(err, "failed to connect to chain")
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return chainBackend{}, domain.NewOpError("chainId", cfg.RPCURL, domain.ErrNetwork, err)
		}
	}

	key, owner, err := clients.LoadPrivateKey(cfg.PrivateKey)
	if err != nil {
		eth.Close()
		return chainBackend{}, errors.Wrap(err, "failed to load agent key")
	}

	safe, err := multisig.NewSafe(logger.Named("safe"), eth, cfg.SafeAddress, key, chainID)
	if err != nil {
		eth.Close()
		return chainBackend{}, errors.Wrap(err, "failed to create safe executor")
	}

	logger.Info("connected to chain",
		zap.String("chain_id", chainID.String()),
		zap.String("safe", cfg.SafeAddress.Hex()),
		zap.String("owner", owner.Hex()))

	return chainBackend{reader: eth, executor: safe, live: true, close: eth.Close}, nil
}

func newSimulatedBackend(logger *zap.Logger, cfg config.Config) (chainBackend, error) {
	decimals := cfg.Asset.Decimals
	if decimals == 0 {
		decimals = simulateDecimals
	}
	pools := make([]string, 0, len(cfg.Pools))
	for _, p := range cfg.Pools {
		pools = append(pools, p.Name)
	}
	chain := simulate.NewChain(logger.Named("simulate"), cfg.VaultAddress, cfg.Asset.Address, uint8(decimals), cfg.SimulateBalance, pools...)

	store, err := simstate.NewStore(filepath.Join(cfg.StorageDir, "simulate"), cfg.VaultAddress.Hex())
	if err != nil {
		return chainBackend{}, err
	}
	state, err := store.Load()
	if err != nil {
		return chainBackend{}, err
	}
	if state != nil {
		if err := chain.Restore(*state); err != nil {
			return chainBackend{}, errors.Wrap(err, "failed to restore simulated vault")
		}
		logger.Info("simulated vault restored", zap.String("free", state.Free), zap.Any("pools", state.Pools))
	}
	chain.Persist(store)

	return chainBackend{reader: chain, executor: chain}, nil
}

// newRateBook builds the rate source of every configured pool. The returned Aave oracle backs
// the getAaveApr tool and is nil without a live chain.
func newRateBook(logger *zap.Logger, cfg config.Config, backend chainBackend) (*oracle.Book, *oracle.AaveOracle, error) {
	var aave *oracle.AaveOracle
	aaveFor := func(pool string) (*oracle.AaveOracle, error) {
		o, err := oracle.NewAaveOracle(logger.Named("aave"), backend.reader, cfg.AaveDataProvider, pool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create aave oracle")
		}
		return o, nil
	}

	sources := make([]oracle.PoolSource, 0, len(cfg.Pools))
	for _, p := range cfg.Pools {
		var source oracle.Source
		switch p.RateSource {
		case config.RateSourceAave:
			o, err := aaveFor(p.Name)
			if err != nil {
				return nil, nil, err
			}
			if aave == nil {
				aave = o
			}
			source = o
		case config.RateSourceAPI:
			s, err := oracle.NewAPISource(cfg.AprAPIURL, p.Name)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "pool %s", p.Name)
			}
			source = s
		default:
			source = oracle.StaticSource{Pool: p.Name, DepositApr: p.DepositApr, BorrowApr: p.BorrowApr}
		}
		sources = append(sources, oracle.PoolSource{Pool: p.Name, Source: source})
	}

	if aave == nil && backend.live {
		var err error
		if aave, err = aaveFor("AAVE"); err != nil {
			return nil, nil, err
		}
	}

	book, err := oracle.NewBook(oracle.StaticSource{DepositApr: cfg.VaultApr}, sources...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create rate book")
	}
	return book, aave, nil
}

func newCollaborator(logger *zap.Logger, a config.Agent, cfg config.Config) (agent.Collaborator, error) {
	switch a.Backend {
	case config.BackendOpenAI:
		client := clients.NewOpenAICompatibleClient(a.APIURL, cfg.LLMAPIKey, a.Model)
		return agent.NewOpenAIAgent(logger, client, a.MaxTurns), nil
	case config.BackendAnthropic:
		client, err := clients.NewAnthropicClient(cfg.AnthropicAPIKey, a.APIURL, anthropicMaxRetries)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create anthropic client")
		}
		collaborator, err := agent.NewAnthropicAgent(logger, client, a.Model, a.MaxTurns)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create anthropic agent")
		}
		return collaborator, nil
	case config.BackendPolicy:
		return agent.NewPolicyAgent(logger), nil
	default:
		return nil, errors.Errorf("unknown agent backend %q", a.Backend)
	}
}
