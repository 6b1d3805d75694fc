// Package simulate provides an in-memory vault contract for dry runs and tests.
// It answers ABI encoded reads and applies multisig calls to the simulated state,
// reverting the way the vault does when an amount exceeds the balance it moves.
package simulate

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/multisig"
	"github.com/vadiminshakov/vaultpilot/internal/services/vault"
	"github.com/vadiminshakov/vaultpilot/internal/storage/simstate"
)

type stateStore interface {
	Save(state simstate.State) error
}

// Chain simulated vault and asset token.
type Chain struct {
	mu         sync.Mutex
	logger     *zap.Logger
	vault      common.Address
	asset      common.Address
	decimals   uint8
	free       *big.Int
	poolNames  []string
	pools      map[string]*big.Int
	strategies map[uint8]*big.Int
	receipts   map[common.Hash]*types.Receipt
	nonce      uint64
	block      uint64

	// Reject makes every Sign call decline.
	Reject bool
	// Undeployed makes the vault address report no code.
	Undeployed bool

	store stateStore

	reads  int
	writes int
}

// NewChain creates a simulated vault holding free funds and the given pools, all empty.
func NewChain(logger *zap.Logger, vaultAddr, asset common.Address, decimals uint8, free decimal.Decimal, pools ...string) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{
		logger:     logger,
		vault:      vaultAddr,
		asset:      asset,
		decimals:   decimals,
		free:       toRaw(free, decimals),
		pools:      make(map[string]*big.Int, len(pools)),
		strategies: make(map[uint8]*big.Int),
		receipts:   make(map[common.Hash]*types.Receipt),
	}
	for _, p := range pools {
		c.poolNames = append(c.poolNames, p)
		c.pools[p] = new(big.Int)
	}
	c.logger.Info("simulated vault init",
		zap.String("vault", vaultAddr.Hex()),
		zap.String("free", free.String()),
		zap.Strings("pools", pools))
	return c
}

// SetPoolBalance overrides the balance held in a pool.
func (c *Chain) SetPoolBalance(pool string, balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pools[pool]; !ok {
		c.poolNames = append(c.poolNames, pool)
	}
	c.pools[pool] = toRaw(balance, c.decimals)
}

// Persist saves the balances to store after every mined transaction.
func (c *Chain) Persist(store stateStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// Restore replaces the balances with a saved state.
func (c *Chain) Restore(state simstate.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	free, err := decimal.NewFromString(state.Free)
	if err != nil {
		return errors.Wrap(err, "decode free balance")
	}
	c.free = toRaw(free, c.decimals)

	for name, raw := range state.Pools {
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return errors.Wrapf(err, "decode %s pool balance", name)
		}
		if _, ok := c.pools[name]; !ok {
			c.poolNames = append(c.poolNames, name)
		}
		c.pools[name] = toRaw(balance, c.decimals)
	}
	for key, raw := range state.Strategies {
		kind, err := strconv.ParseUint(key, 10, 8)
		if err != nil {
			return errors.Wrapf(err, "decode strategy type %q", key)
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return errors.Wrapf(err, "decode strategy %s balance", key)
		}
		c.strategies[uint8(kind)] = toRaw(balance, c.decimals)
	}
	return nil
}

// State returns the balances in human units.
func (c *Chain) State() simstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Chain) stateLocked() simstate.State {
	scale := int32(c.decimals)
	state := simstate.State{
		Free:      domain.FromFixedPoint(c.free, scale).String(),
		Pools:     make(map[string]string, len(c.pools)),
		UpdatedAt: time.Now().UTC(),
	}
	for name, balance := range c.pools {
		state.Pools[name] = domain.FromFixedPoint(balance, scale).String()
	}
	if len(c.strategies) > 0 {
		state.Strategies = make(map[string]string, len(c.strategies))
		for kind, balance := range c.strategies {
			state.Strategies[strconv.Itoa(int(kind))] = domain.FromFixedPoint(balance, scale).String()
		}
	}
	return state
}

// Free returns the funds held by the vault outside pools and strategies.
func (c *Chain) Free() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.FromFixedPoint(c.free, int32(c.decimals))
}

// Reads returns how many contract reads were served.
func (c *Chain) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Writes returns how many transactions were submitted.
func (c *Chain) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// CodeAt reports code for the vault and asset addresses.
func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if account == c.vault && !c.Undeployed {
		return []byte{0x60, 0x80}, nil
	}
	if account == c.asset {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

// CallContract answers vault and ERC20 view calls.
func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++

	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("execution reverted: bad call")
	}
	switch *msg.To {
	case c.asset:
		method, args, err := decode(vault.ERC20ABI, msg.Data)
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "decimals":
			return method.Outputs.Pack(c.decimals)
		case "symbol":
			return method.Outputs.Pack("SIM")
		case "balanceOf":
			if args[0].(common.Address) == c.vault {
				return method.Outputs.Pack(new(big.Int).Set(c.free))
			}
			return method.Outputs.Pack(new(big.Int))
		}
		return nil, errors.Errorf("execution reverted: %s(%v) not supported", method.Name, args)
	case c.vault:
		if c.Undeployed {
			return nil, nil
		}
		method, args, err := decode(vault.VaultABI, msg.Data)
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "totalAssets":
			return method.Outputs.Pack(c.total())
		case "getPoolList":
			return method.Outputs.Pack(append([]string(nil), c.poolNames...))
		case "getPoolBalance":
			balance, ok := c.pools[args[0].(string)]
			if !ok {
				return nil, errors.New("execution reverted: pool not found")
			}
			return method.Outputs.Pack(new(big.Int).Set(balance))
		}
		return nil, errors.Errorf("execution reverted: %s not supported", method.Name)
	}
	return nil, nil
}

// Sign approves the call unless Reject is set.
func (c *Chain) Sign(_ context.Context, call multisig.Call) (*multisig.SignedTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Reject {
		return nil, domain.NewOpError("sign", call.To.Hex(), domain.ErrTransactionRejected, errors.New("signing declined"))
	}
	nonce := new(big.Int).SetUint64(c.nonce)
	return &multisig.SignedTx{
		Call:       call,
		SafeNonce:  nonce,
		SafeTxHash: crypto.Keccak256Hash(nonce.Bytes(), call.Data),
	}, nil
}

// Submit applies the call; a failing call is mined with a reverted status.
func (c *Chain) Submit(_ context.Context, signed *multisig.SignedTx) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if signed == nil {
		return common.Hash{}, errors.New("signed transaction is nil")
	}
	c.writes++
	c.nonce++
	c.block++

	status := types.ReceiptStatusSuccessful
	if err := c.apply(signed.Call); err != nil {
		c.logger.Info("simulated call reverted", zap.Error(err))
		status = types.ReceiptStatusFailed
	} else if c.store != nil {
		if err := c.store.Save(c.stateLocked()); err != nil {
			c.logger.Warn("failed to persist simulated vault", zap.Error(err))
		}
	}

	hash := crypto.Keccak256Hash(signed.SafeTxHash.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes())
	c.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21000,
	}
	return hash, nil
}

// WaitMined returns the receipt of a submitted transaction.
func (c *Chain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, domain.NewOpError("waitMined", hash.Hex(), domain.ErrNetwork, err)
	}
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, domain.NewOpError("waitMined", hash.Hex(), domain.ErrNetwork, ethereum.NotFound)
	}
	return receipt, nil
}

func (c *Chain) apply(call multisig.Call) error {
	if call.To != c.vault {
		return errors.Errorf("call to unknown contract %s", call.To.Hex())
	}
	method, args, err := decode(vault.VaultABI, call.Data)
	if err != nil {
		return err
	}

	switch method.Name {
	case "deposit":
		c.free.Add(c.free, args[0].(*big.Int))
	case "withdraw":
		return debit(c.free, args[0].(*big.Int))
	case "depositToPool":
		pool, ok := c.pools[args[0].(string)]
		if !ok {
			return errors.New("pool not found")
		}
		amount := args[1].(*big.Int)
		if err := debit(c.free, amount); err != nil {
			return err
		}
		pool.Add(pool, amount)
	case "withdrawFromPool":
		pool, ok := c.pools[args[0].(string)]
		if !ok {
			return errors.New("pool not found")
		}
		amount := args[1].(*big.Int)
		if err := debit(pool, amount); err != nil {
			return err
		}
		c.free.Add(c.free, amount)
	case "allocateToStrategy":
		kind, amount := args[0].(uint8), args[1].(*big.Int)
		if err := debit(c.free, amount); err != nil {
			return err
		}
		if c.strategies[kind] == nil {
			c.strategies[kind] = new(big.Int)
		}
		c.strategies[kind].Add(c.strategies[kind], amount)
	case "withdrawFromStrategy":
		kind, amount := args[0].(uint8), args[1].(*big.Int)
		balance := c.strategies[kind]
		if balance == nil {
			return errors.New("strategy has no funds")
		}
		if err := debit(balance, amount); err != nil {
			return err
		}
		c.free.Add(c.free, amount)
	default:
		return errors.Errorf("%s is not a state changing call", method.Name)
	}
	return nil
}

func (c *Chain) total() *big.Int {
	total := new(big.Int).Set(c.free)
	for _, b := range c.pools {
		total.Add(total, b)
	}
	for _, b := range c.strategies {
		total.Add(total, b)
	}
	return total
}

func debit(balance, amount *big.Int) error {
	if amount.Cmp(balance) > 0 {
		return errors.Errorf("insufficient balance: have %s, want %s", balance, amount)
	}
	balance.Sub(balance, amount)
	return nil
}

func toRaw(amount decimal.Decimal, decimals uint8) *big.Int {
	raw, err := domain.ToFixedPoint(amount, int32(decimals))
	if err != nil {
		return new(big.Int)
	}
	return raw
}
