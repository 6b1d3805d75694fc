// Package vault reads and changes the state of the yield vault contract.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/multisig"
)

type chainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type executor interface {
	Sign(ctx context.Context, call multisig.Call) (*multisig.SignedTx, error)
	Submit(ctx context.Context, signed *multisig.SignedTx) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Client vault contract client. Writes go through the multisig executor,
// one Safe transaction per vault call.
type Client struct {
	logger   *zap.Logger
	reader   chainReader
	executor executor
	address  common.Address
	asset    domain.Token

	mu       sync.Mutex
	decimals int32
}

// NewClient creates a vault client. When asset.Decimals is zero the precision is
// read from the token contract on first use.
func NewClient(logger *zap.Logger, reader chainReader, executor executor, address common.Address, asset domain.Token) (*Client, error) {
	if reader == nil {
		return nil, errors.New("chain reader is nil")
	}
	if executor == nil {
		return nil, errors.New("multisig executor is nil")
	}
	if address == (common.Address{}) {
		return nil, errors.New("vault address is empty")
	}
	if asset.Address == (common.Address{}) {
		return nil, errors.New("vault asset address is empty")
	}
	return &Client{
		logger:   logger.With(zap.String("vault", address.Hex())),
		reader:   reader,
		executor: executor,
		address:  address,
		asset:    asset,
		decimals: asset.Decimals,
	}, nil
}

// Address returns the vault contract address.
func (c *Client) Address() common.Address {
	return c.address
}

// Asset returns the vault underlying token.
func (c *Client) Asset() domain.Token {
	return c.asset
}

// Decimals returns the precision of the vault asset.
func (c *Client) Decimals(ctx context.Context) (int32, error) {
	c.mu.Lock()
	cached := c.decimals
	c.mu.Unlock()
	if cached > 0 {
		return cached, nil
	}

	// no lock across the RPC, concurrent first reads may both hit the token
	var decimals uint8
	if err := c.call(ctx, ERC20ABI, c.asset.Address, "decimals", &decimals); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals = int32(decimals)
	return c.decimals, nil
}

// GetSnapshot reads total assets, the idle asset balance of the vault and the balance
// of every pool known to the vault.
func (c *Client) GetSnapshot(ctx context.Context) (domain.VaultSnapshot, error) {
	code, err := c.reader.CodeAt(ctx, c.address, nil)
	if err != nil {
		return domain.VaultSnapshot{}, clients.ClassifyReadError("vault.codeAt", c.address.Hex(), err)
	}
	if len(code) == 0 {
		return domain.VaultSnapshot{}, domain.NewOpError("vault.codeAt", c.address.Hex(), domain.ErrChainRead,
			errors.New("no contract code at address"))
	}

	decimals, err := c.Decimals(ctx)
	if err != nil {
		return domain.VaultSnapshot{}, err
	}

	var total *big.Int
	if err := c.call(ctx, VaultABI, c.address, "totalAssets", &total); err != nil {
		return domain.VaultSnapshot{}, err
	}

	// totalAssets also counts strategy allocations, only the token balance is spendable
	var idle *big.Int
	if err := c.call(ctx, ERC20ABI, c.asset.Address, "balanceOf", &idle, c.address); err != nil {
		return domain.VaultSnapshot{}, err
	}

	var pools []string
	if err := c.call(ctx, VaultABI, c.address, "getPoolList", &pools); err != nil {
		return domain.VaultSnapshot{}, err
	}

	snapshot := domain.VaultSnapshot{
		TotalAssets:  domain.FromFixedPoint(total, decimals),
		IdleBalance:  domain.FromFixedPoint(idle, decimals),
		PoolBalances: make([]domain.PoolBalance, 0, len(pools)),
	}
	for _, pool := range pools {
		var balance *big.Int
		if err := c.call(ctx, VaultABI, c.address, "getPoolBalance", &balance, pool, c.asset.Address); err != nil {
			return domain.VaultSnapshot{}, err
		}
		snapshot.PoolBalances = append(snapshot.PoolBalances, domain.PoolBalance{
			PoolName: pool,
			Balance:  domain.FromFixedPoint(balance, decimals),
		})
	}

	return snapshot, nil
}

// DepositToVault deposits amount of the asset held by the Safe into the vault.
func (c *Client) DepositToVault(ctx context.Context, amount decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "deposit", amount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "deposit", clients.FormatArgs("amount", amount), "deposit", raw)
}

// Withdraw redeems vault shares back to the Safe.
func (c *Client) Withdraw(ctx context.Context, shares decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "withdraw", shares)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "withdraw", clients.FormatArgs("shares", shares), "withdraw", raw)
}

// DepositToPool moves amount of free vault funds into the named pool.
func (c *Client) DepositToPool(ctx context.Context, pool string, amount decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "depositToPool", amount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "depositToPool", clients.FormatArgs("pool", pool, "amount", amount), "depositToPool", pool, raw)
}

// WithdrawFromPool returns amount from the named pool to the vault.
func (c *Client) WithdrawFromPool(ctx context.Context, pool string, amount decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "withdrawFromPool", amount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "withdrawFromPool", clients.FormatArgs("pool", pool, "amount", amount), "withdrawFromPool", pool, raw)
}

// AllocateToStrategy moves amount of free vault funds into a strategy.
func (c *Client) AllocateToStrategy(ctx context.Context, strategy domain.StrategyType, amount decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "allocateToStrategy", amount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "allocateToStrategy", clients.FormatArgs("strategy", strategy, "amount", amount),
		"allocateToStrategy", uint8(strategy), raw)
}

// WithdrawFromStrategy returns amount from a strategy to the vault.
func (c *Client) WithdrawFromStrategy(ctx context.Context, strategy domain.StrategyType, amount decimal.Decimal) (*domain.Receipt, error) {
	raw, err := c.toFixedPoint(ctx, "withdrawFromStrategy", amount)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "withdrawFromStrategy", clients.FormatArgs("strategy", strategy, "amount", amount),
		"withdrawFromStrategy", uint8(strategy), raw)
}

func (c *Client) toFixedPoint(ctx context.Context, op string, amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, domain.NewOpError(op, amount.String(), domain.ErrSchemaValidation, errors.New("amount must be positive"))
	}
	decimals, err := c.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := domain.ToFixedPoint(amount, decimals)
	if err != nil {
		return nil, domain.NewOpError(op, amount.String(), domain.ErrSchemaValidation, err)
	}
	return raw, nil
}

// transact runs one vault call through Built -> Signed -> Submitted -> Mined|Reverted|Rejected.
// Nothing is resubmitted: the first failure is returned with the receipt reached so far.
func (c *Client) transact(ctx context.Context, op, args, method string, params ...any) (*domain.Receipt, error) {
	data, err := VaultABI.Pack(method, params...)
	if err != nil {
		return nil, domain.NewOpError(op, args, domain.ErrSchemaValidation, errors.Wrapf(err, "pack %s", method))
	}

	receipt := &domain.Receipt{Op: op, Target: c.address, State: domain.TxBuilt}
	c.transition(receipt, args)

	signed, err := c.executor.Sign(ctx, multisig.Call{To: c.address, Data: data})
	if err != nil {
		return c.fail(receipt, args, err)
	}
	receipt.State = domain.TxSigned
	c.transition(receipt, args)

	hash, err := c.executor.Submit(ctx, signed)
	if err != nil {
		return c.fail(receipt, args, err)
	}
	receipt.TxHash = hash
	receipt.State = domain.TxSubmitted
	c.transition(receipt, args)

	mined, err := c.executor.WaitMined(ctx, hash)
	if err != nil {
		return c.fail(receipt, args, err)
	}
	receipt.GasUsed = mined.GasUsed
	if mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		receipt.State = domain.TxReverted
		c.transition(receipt, args)
		return receipt, domain.NewOpError(op, args, domain.ErrTransactionReverted,
			errors.Errorf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber))
	}

	receipt.State = domain.TxMined
	c.transition(receipt, args)
	return receipt, nil
}

// fail records the terminal state implied by err. Network failures leave the
// state where it was: the transaction may still be mined.
func (c *Client) fail(receipt *domain.Receipt, args string, err error) (*domain.Receipt, error) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.ErrTransactionRejected:
		receipt.State = domain.TxRejected
	case domain.ErrTransactionReverted:
		receipt.State = domain.TxReverted
	case nil:
		kind = domain.ErrNetwork
	}
	c.logger.Warn("vault transaction failed",
		zap.String("op", receipt.Op),
		zap.String("args", args),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Stringer("state", receipt.State),
		zap.Error(err))
	return receipt, domain.NewOpError(receipt.Op, args, kind, err)
}

func (c *Client) transition(receipt *domain.Receipt, args string) {
	c.logger.Info("vault transaction",
		zap.String("op", receipt.Op),
		zap.String("args", args),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Stringer("state", receipt.State))
}

func (c *Client) call(ctx context.Context, contract abiPacker, to common.Address, method string, out any, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "pack %s", method)
	}
	raw, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return clients.ClassifyReadError("vault."+method, fmt.Sprint(args...), err)
	}
	if err := contract.UnpackIntoInterface(out, method, raw); err != nil {
		return domain.NewOpError("vault."+method, "", domain.ErrChainRead, err)
	}
	return nil
}

type abiPacker interface {
	Pack(name string, args ...any) ([]byte, error)
	UnpackIntoInterface(v any, name string, data []byte) error
}
