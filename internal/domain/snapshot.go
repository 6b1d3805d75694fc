package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PoolBalance amount of the vault asset routed into a single pool.
type PoolBalance struct {
	PoolName string          `json:"pool"`
	Balance  decimal.Decimal `json:"balance"`
}

// VaultSnapshot read-only view of the vault produced by a single query.
// IdleBalance is the asset held by the vault contract itself; TotalAssets also
// counts funds allocated to pools and strategies.
type VaultSnapshot struct {
	TotalAssets  decimal.Decimal `json:"total_assets"`
	IdleBalance  decimal.Decimal `json:"idle_balance"`
	PoolBalances []PoolBalance   `json:"pool_balances"`
}

// Pool returns the balance of the named pool, matching case-insensitively.
func (s VaultSnapshot) Pool(name string) (PoolBalance, bool) {
	for _, p := range s.PoolBalances {
		if strings.EqualFold(p.PoolName, name) {
			return p, true
		}
	}
	return PoolBalance{}, false
}

// Allocated sum of all pool balances.
func (s VaultSnapshot) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.PoolBalances {
		total = total.Add(p.Balance)
	}
	return total
}

// FreeBalance funds the vault can move right now, outside pools and strategies.
func (s VaultSnapshot) FreeBalance() decimal.Decimal {
	if s.IdleBalance.IsNegative() {
		return decimal.Zero
	}
	return s.IdleBalance
}

// InStrategies funds counted in TotalAssets that are neither idle nor in a pool.
func (s VaultSnapshot) InStrategies() decimal.Decimal {
	rest := s.TotalAssets.Sub(s.FreeBalance()).Sub(s.Allocated())
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Equal reports whether two snapshots hold the same totals and pool balances in the same order.
func (s VaultSnapshot) Equal(other VaultSnapshot) bool {
	if !s.TotalAssets.Equal(other.TotalAssets) || !s.IdleBalance.Equal(other.IdleBalance) ||
		len(s.PoolBalances) != len(other.PoolBalances) {
		return false
	}
	for i := range s.PoolBalances {
		if s.PoolBalances[i].PoolName != other.PoolBalances[i].PoolName ||
			!s.PoolBalances[i].Balance.Equal(other.PoolBalances[i].Balance) {
			return false
		}
	}
	return true
}
