package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ActionKind type of on-chain state change proposed or executed against the vault.
type ActionKind int

const (
	ActionDeposit ActionKind = iota
	ActionDepositToPool
	ActionWithdrawFromPool
	ActionAllocateToStrategy
	ActionWithdrawFromStrategy
)

// action string constants, equal to the tool names that execute them
const (
	actionStringDeposit              = "depositToVault"
	actionStringDepositToPool        = "depositToPool"
	actionStringWithdrawFromPool     = "withdrawFromPool"
	actionStringAllocateToStrategy   = "allocateToStrategy"
	actionStringWithdrawFromStrategy = "withdrawFromStrategy"
)

// String returns the string representation of the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionDeposit:
		return actionStringDeposit
	case ActionDepositToPool:
		return actionStringDepositToPool
	case ActionWithdrawFromPool:
		return actionStringWithdrawFromPool
	case ActionAllocateToStrategy:
		return actionStringAllocateToStrategy
	case ActionWithdrawFromStrategy:
		return actionStringWithdrawFromStrategy
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ActionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case actionStringDeposit:
		*k = ActionDeposit
	case actionStringDepositToPool:
		*k = ActionDepositToPool
	case actionStringWithdrawFromPool:
		*k = ActionWithdrawFromPool
	case actionStringAllocateToStrategy:
		*k = ActionAllocateToStrategy
	case actionStringWithdrawFromStrategy:
		*k = ActionWithdrawFromStrategy
	default:
		return fmt.Errorf("unknown action kind %q", string(text))
	}
	return nil
}

// StrategyType on-chain identifier of a vault strategy.
type StrategyType uint8

const (
	StrategyAave StrategyType = iota
	StrategyBalancer
)

// String returns the string representation of the strategy type.
func (s StrategyType) String() string {
	switch s {
	case StrategyAave:
		return "AAVE"
	case StrategyBalancer:
		return "BALANCER"
	default:
		return fmt.Sprintf("strategy_%d", uint8(s))
	}
}

// OptimizationAction one proposed or executed on-chain state change.
// PoolName is set for pool actions, Strategy for strategy actions.
type OptimizationAction struct {
	Kind     ActionKind      `json:"kind"`
	PoolName string          `json:"pool,omitempty"`
	Strategy StrategyType    `json:"strategy_type,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// NewDeposit creates a vault deposit action.
func NewDeposit(amount decimal.Decimal) OptimizationAction {
	return OptimizationAction{Kind: ActionDeposit, Amount: amount}
}

// NewDepositToPool creates an action routing vault funds into a pool.
func NewDepositToPool(pool string, amount decimal.Decimal) OptimizationAction {
	return OptimizationAction{Kind: ActionDepositToPool, PoolName: pool, Amount: amount}
}

// NewWithdrawFromPool creates an action returning pool funds to the vault.
func NewWithdrawFromPool(pool string, amount decimal.Decimal) OptimizationAction {
	return OptimizationAction{Kind: ActionWithdrawFromPool, PoolName: pool, Amount: amount}
}

// NewAllocateToStrategy creates a strategy allocation action.
func NewAllocateToStrategy(strategy StrategyType, amount decimal.Decimal) OptimizationAction {
	return OptimizationAction{Kind: ActionAllocateToStrategy, Strategy: strategy, Amount: amount}
}

// NewWithdrawFromStrategy creates a strategy withdrawal action.
func NewWithdrawFromStrategy(strategy StrategyType, amount decimal.Decimal) OptimizationAction {
	return OptimizationAction{Kind: ActionWithdrawFromStrategy, Strategy: strategy, Amount: amount}
}

// MarshalJSON writes strategy_type for strategy actions only, AAVE (0) included.
func (a OptimizationAction) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind     ActionKind      `json:"kind"`
		PoolName string          `json:"pool,omitempty"`
		Strategy *StrategyType   `json:"strategy_type,omitempty"`
		Amount   decimal.Decimal `json:"amount"`
	}
	w := wire{Kind: a.Kind, PoolName: a.PoolName, Amount: a.Amount}
	if a.Kind == ActionAllocateToStrategy || a.Kind == ActionWithdrawFromStrategy {
		strategy := a.Strategy
		w.Strategy = &strategy
	}
	return json.Marshal(w)
}

// String returns a human readable description.
func (a OptimizationAction) String() string {
	switch a.Kind {
	case ActionDepositToPool, ActionWithdrawFromPool:
		return fmt.Sprintf("%s{pool=%s amount=%s}", a.Kind, a.PoolName, a.Amount)
	case ActionAllocateToStrategy, ActionWithdrawFromStrategy:
		return fmt.Sprintf("%s{strategy=%s amount=%s}", a.Kind, a.Strategy, a.Amount)
	default:
		return fmt.Sprintf("%s{amount=%s}", a.Kind, a.Amount)
	}
}
