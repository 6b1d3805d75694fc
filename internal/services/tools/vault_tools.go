package tools

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/policy"
)

// tool names
const (
	NameDepositToVault       = "depositToVault"
	NameDepositToPool        = "depositToPool"
	NameWithdrawFromPool     = "withdrawFromPool"
	NameAllocateToStrategy   = "allocateToStrategy"
	NameWithdrawFromStrategy = "withdrawFromStrategy"
	NameGetAaveApr           = "getAaveApr"
	NameGetVaultBalance      = "getVaultBalance"
	NameGetPoolAprs          = "getPoolAprs"
	NameEvaluateReallocation = "evaluateReallocation"
)

// Vault operations exposed as tools.
type Vault interface {
	Asset() domain.Token
	GetSnapshot(ctx context.Context) (domain.VaultSnapshot, error)
	DepositToVault(ctx context.Context, amount decimal.Decimal) (*domain.Receipt, error)
	DepositToPool(ctx context.Context, pool string, amount decimal.Decimal) (*domain.Receipt, error)
	WithdrawFromPool(ctx context.Context, pool string, amount decimal.Decimal) (*domain.Receipt, error)
	AllocateToStrategy(ctx context.Context, strategy domain.StrategyType, amount decimal.Decimal) (*domain.Receipt, error)
	WithdrawFromStrategy(ctx context.Context, strategy domain.StrategyType, amount decimal.Decimal) (*domain.Receipt, error)
}

// Rates quotes of the vault asset in every placement.
type Rates interface {
	VaultQuote(ctx context.Context, asset common.Address) (domain.AprQuote, error)
	Quotes(ctx context.Context, asset common.Address) ([]domain.AprQuote, error)
}

// AprReader on-chain lending market rates.
type AprReader interface {
	GetApr(ctx context.Context, asset common.Address) (domain.AprQuote, error)
}

// Deps collaborators of the vault toolset. Aave may be nil, getAaveApr is then not offered.
type Deps struct {
	Vault  Vault
	Rates  Rates
	Aave   AprReader
	Policy policy.Policy
	Tokens []domain.Token
}

// TxOutput tool output of a vault transaction.
type TxOutput struct {
	Message string          `json:"message"`
	Receipt *domain.Receipt `json:"receipt"`
}

// BalanceOutput tool output of getVaultBalance.
type BalanceOutput struct {
	domain.VaultSnapshot
	FreeBalance decimal.Decimal `json:"free_balance"`
	Symbol      string          `json:"symbol"`
	Message     string          `json:"message"`
}

// ReallocationOutput tool output of evaluateReallocation.
type ReallocationOutput struct {
	policy.Decision
	Threshold decimal.Decimal `json:"threshold_percent"`
}

// VaultTools builds the vault toolset.
func VaultTools(deps Deps) ([]Tool, error) {
	if deps.Vault == nil || deps.Rates == nil {
		return nil, errors.New("vault tools need a vault and rates")
	}
	t := vaultTools{deps}

	amount := StringProperty("Amount of tokens in human units, for example \"100.5\"")
	poolName := StringProperty("Name of the pool, as listed by getVaultBalance")
	strategyType := IntegerEnumProperty("Type of strategy (0 for AAVE, 1 for BALANCER)",
		int(domain.StrategyAave), int(domain.StrategyBalancer))

	list := []Tool{
		{
			Name:        NameGetVaultBalance,
			Description: "Get the current balance of tokens in the vault and its pools",
			Schema:      ObjectSchema(nil),
			Handler:     t.getVaultBalance,
		},
		{
			Name:        NameGetPoolAprs,
			Description: "Get the deposit APR of funds left in the vault and of every pool",
			Schema:      ObjectSchema(nil),
			Handler:     t.getPoolAprs,
		},
		{
			Name: NameEvaluateReallocation,
			Description: fmt.Sprintf("Compare current placements with the best alternative and propose moves. "+
				"A move is proposed only when the alternative APR exceeds the current one by more than %s percentage points",
				deps.Policy.Threshold()),
			Schema:  ObjectSchema(nil),
			Handler: t.evaluateReallocation,
		},
		{
			Name:        NameDepositToVault,
			Description: "Deposit tokens held by the multisig into the vault",
			Schema:      ObjectSchema(map[string]Property{"amount": amount}, "amount"),
			Handler:     t.depositToVault,
		},
		{
			Name:        NameDepositToPool,
			Description: "Deposit free vault tokens into a specific pool",
			Schema:      ObjectSchema(map[string]Property{"poolName": poolName, "amount": amount}, "poolName", "amount"),
			Handler:     t.depositToPool,
		},
		{
			Name:        NameWithdrawFromPool,
			Description: "Withdraw tokens from a specific pool back to the vault",
			Schema:      ObjectSchema(map[string]Property{"poolName": poolName, "amount": amount}, "poolName", "amount"),
			Handler:     t.withdrawFromPool,
		},
		{
			Name:        NameAllocateToStrategy,
			Description: "Allocate free vault funds to a specific strategy",
			Schema:      ObjectSchema(map[string]Property{"strategyType": strategyType, "amount": amount}, "strategyType", "amount"),
			Handler:     t.allocateToStrategy,
		},
		{
			Name:        NameWithdrawFromStrategy,
			Description: "Withdraw funds from a specific strategy back to the vault",
			Schema:      ObjectSchema(map[string]Property{"strategyType": strategyType, "amount": amount}, "strategyType", "amount"),
			Handler:     t.withdrawFromStrategy,
		},
	}
	if deps.Aave != nil {
		list = append(list, Tool{
			Name:        NameGetAaveApr,
			Description: "Get the current deposit and variable borrow APR for a token in Aave V3",
			Schema: ObjectSchema(map[string]Property{
				"tokenAddress": StringProperty("The address of the token to check rates for"),
			}, "tokenAddress"),
			Handler: t.getAaveApr,
		})
	}
	return list, nil
}

type vaultTools struct {
	Deps
}

func (t vaultTools) getVaultBalance(ctx context.Context, _ Args) (Outcome, error) {
	snapshot, err := t.Vault.GetSnapshot(ctx)
	if err != nil {
		return Outcome{}, err
	}
	symbol := t.Vault.Asset().Symbol
	msg := fmt.Sprintf("Vault total balance: %s %s", snapshot.TotalAssets, symbol)
	for _, p := range snapshot.PoolBalances {
		msg += fmt.Sprintf("\n%s: %s %s", p.PoolName, p.Balance, symbol)
	}
	return Outcome{
		Output:   BalanceOutput{VaultSnapshot: snapshot, FreeBalance: snapshot.FreeBalance(), Symbol: symbol, Message: msg},
		Snapshot: &snapshot,
	}, nil
}

func (t vaultTools) getPoolAprs(ctx context.Context, _ Args) (Outcome, error) {
	quotes, err := t.Rates.Quotes(ctx, t.Vault.Asset().Address)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Output: quotes, Quotes: quotes}, nil
}

func (t vaultTools) evaluateReallocation(ctx context.Context, _ Args) (Outcome, error) {
	snapshot, err := t.Vault.GetSnapshot(ctx)
	if err != nil {
		return Outcome{}, err
	}
	quotes, err := t.Rates.Quotes(ctx, t.Vault.Asset().Address)
	if err != nil {
		return Outcome{}, err
	}
	decision := Evaluate(t.Policy, snapshot, quotes)
	return Outcome{
		Output:   ReallocationOutput{Decision: decision, Threshold: t.Policy.Threshold()},
		Quotes:   quotes,
		Snapshot: &snapshot,
	}, nil
}

// Evaluate applies the policy to quotes as returned by Rates.Quotes: the vault quote
// followed by pool quotes.
func Evaluate(p policy.Policy, snapshot domain.VaultSnapshot, quotes []domain.AprQuote) policy.Decision {
	var vault domain.AprQuote
	pools := make([]domain.AprQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Pool == string(domain.PlacementVault) {
			vault = q
			continue
		}
		pools = append(pools, q)
	}
	return p.Decide(snapshot, vault, pools)
}

func (t vaultTools) getAaveApr(ctx context.Context, args Args) (Outcome, error) {
	asset, err := args.Address("tokenAddress")
	if err != nil {
		return Outcome{}, err
	}
	if !t.monitored(asset) {
		return Outcome{}, errors.Wrapf(domain.ErrSchemaValidation, "token %s is not monitored", asset.Hex())
	}
	quote, err := t.Aave.GetApr(ctx, asset)
	if err != nil {
		return Outcome{}, err
	}
	output := fmt.Sprintf("For token %s:\n    Deposit APR: %.2f%%\n    Variable Borrow APR: %.2f%%",
		asset.Hex(), quote.DepositApr, quote.BorrowApr)
	return Outcome{Output: output, Quotes: []domain.AprQuote{quote}}, nil
}

func (t vaultTools) monitored(asset common.Address) bool {
	if len(t.Tokens) == 0 {
		return true
	}
	for _, token := range t.Tokens {
		if token.Address == asset {
			return true
		}
	}
	return false
}

func (t vaultTools) depositToVault(ctx context.Context, args Args) (Outcome, error) {
	amount, err := args.Amount("amount")
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := t.Vault.DepositToVault(ctx, amount)
	if err != nil {
		return Outcome{}, err
	}
	action := domain.NewDeposit(amount)
	return t.txOutcome(fmt.Sprintf("Successfully deposited %s tokens into the vault", amount), receipt, action), nil
}

func (t vaultTools) depositToPool(ctx context.Context, args Args) (Outcome, error) {
	pool, amount, err := poolArgs(args)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := t.Vault.DepositToPool(ctx, pool, amount)
	if err != nil {
		return Outcome{}, err
	}
	action := domain.NewDepositToPool(pool, amount)
	return t.txOutcome(fmt.Sprintf("Successfully deposited %s tokens into pool %s", amount, pool), receipt, action), nil
}

func (t vaultTools) withdrawFromPool(ctx context.Context, args Args) (Outcome, error) {
	pool, amount, err := poolArgs(args)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := t.Vault.WithdrawFromPool(ctx, pool, amount)
	if err != nil {
		return Outcome{}, err
	}
	action := domain.NewWithdrawFromPool(pool, amount)
	return t.txOutcome(fmt.Sprintf("Successfully withdrew %s tokens from pool %s", amount, pool), receipt, action), nil
}

func (t vaultTools) allocateToStrategy(ctx context.Context, args Args) (Outcome, error) {
	strategy, amount, err := strategyArgs(args)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := t.Vault.AllocateToStrategy(ctx, strategy, amount)
	if err != nil {
		return Outcome{}, err
	}
	action := domain.NewAllocateToStrategy(strategy, amount)
	return t.txOutcome(fmt.Sprintf("Successfully allocated %s tokens to strategy type %d", amount, strategy), receipt, action), nil
}

func (t vaultTools) withdrawFromStrategy(ctx context.Context, args Args) (Outcome, error) {
	strategy, amount, err := strategyArgs(args)
	if err != nil {
		return Outcome{}, err
	}
	receipt, err := t.Vault.WithdrawFromStrategy(ctx, strategy, amount)
	if err != nil {
		return Outcome{}, err
	}
	action := domain.NewWithdrawFromStrategy(strategy, amount)
	return t.txOutcome(fmt.Sprintf("Successfully withdrew %s tokens from strategy type %d", amount, strategy), receipt, action), nil
}

func (t vaultTools) txOutcome(msg string, receipt *domain.Receipt, action domain.OptimizationAction) Outcome {
	return Outcome{Output: TxOutput{Message: msg, Receipt: receipt}, Action: &action}
}

func poolArgs(args Args) (string, decimal.Decimal, error) {
	pool, err := args.NonEmpty("poolName")
	if err != nil {
		return "", decimal.Zero, err
	}
	amount, err := args.Amount("amount")
	if err != nil {
		return "", decimal.Zero, err
	}
	return pool, amount, nil
}

func strategyArgs(args Args) (domain.StrategyType, decimal.Decimal, error) {
	amount, err := args.Amount("amount")
	if err != nil {
		return 0, decimal.Zero, err
	}
	return domain.StrategyType(args.Int("strategyType")), amount, nil
}
