package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// snapshot builds a vault with no strategy allocations: idle = total - pools.
func snapshot(total string, pools ...domain.PoolBalance) domain.VaultSnapshot {
	s := domain.VaultSnapshot{TotalAssets: decimal.RequireFromString(total), PoolBalances: pools}
	s.IdleBalance = s.TotalAssets.Sub(s.Allocated())
	return s
}

func pool(name, balance string) domain.PoolBalance {
	return domain.PoolBalance{PoolName: name, Balance: decimal.RequireFromString(balance)}
}

func quote(pool string, apr float64) domain.AprQuote {
	return domain.AprQuote{Pool: pool, DepositApr: apr}
}

func TestDecide_NoActionAtOrBelowThreshold(t *testing.T) {
	p := New(DefaultThresholdPercent)
	for cur := 0; cur <= 100; cur += 7 {
		current := float64(cur) / 10
		for _, delta := range []string{"-3", "-0.5", "0", "0.1", "0.25", "0.49", "0.5"} {
			alt, _ := decimal.NewFromFloat(current).Add(decimal.RequireFromString(delta)).Float64()
			d := p.Decide(snapshot("1000", pool("AAVE", "0")), quote("VAULT", current), []domain.AprQuote{quote("AAVE", alt)})
			assert.True(t, d.NoAction(), "current=%v alternative=%v: %v", current, alt, d.Actions)
		}
	}
}

func TestDecide_DepositAboveThreshold(t *testing.T) {
	p := New(DefaultThresholdPercent)
	for cur := 0; cur <= 100; cur += 7 {
		current := float64(cur) / 10
		for _, delta := range []string{"0.51", "0.6", "1", "5"} {
			alt, _ := decimal.NewFromFloat(current).Add(decimal.RequireFromString(delta)).Float64()
			d := p.Decide(snapshot("1000", pool("AAVE", "0"), pool("BALANCER", "0")),
				quote("VAULT", current), []domain.AprQuote{quote("BALANCER", current), quote("AAVE", alt)})
			require.Len(t, d.Actions, 1, "current=%v alternative=%v", current, alt)
			assert.Equal(t, domain.ActionDepositToPool, d.Actions[0].Kind)
			assert.Equal(t, "AAVE", d.Actions[0].PoolName)
			assert.True(t, decimal.RequireFromString("1000").Equal(d.Actions[0].Amount))
		}
	}
}

func TestDecide_UsdcScenario(t *testing.T) {
	p := New(DefaultThresholdPercent)

	d := p.Decide(snapshot("2500", pool("AAVE", "0"), pool("BALANCER", "0")),
		quote("VAULT", 4.5), []domain.AprQuote{quote("AAVE", 5.3), quote("BALANCER", 3.8)})

	require.Len(t, d.Actions, 1)
	assert.Equal(t, domain.NewDepositToPool("AAVE", decimal.RequireFromString("2500")).String(), d.Actions[0].String())
	assert.NotEmpty(t, d.String())
}

func TestDecide_WithdrawWhenVaultIsBetter(t *testing.T) {
	p := New(DefaultThresholdPercent)

	d := p.Decide(snapshot("100", pool("BALANCER", "100")),
		quote("VAULT", 4.5), []domain.AprQuote{quote("BALANCER", 3.8)})

	require.Len(t, d.Actions, 1)
	assert.Equal(t, domain.ActionWithdrawFromPool, d.Actions[0].Kind)
	assert.Equal(t, "BALANCER", d.Actions[0].PoolName)
	assert.True(t, decimal.RequireFromString("100").Equal(d.Actions[0].Amount))
}

func TestDecide_MoveBetweenPools(t *testing.T) {
	p := New(DefaultThresholdPercent)

	d := p.Decide(snapshot("300", pool("AAVE", "0"), pool("BALANCER", "300")),
		quote("VAULT", 1), []domain.AprQuote{quote("AAVE", 5.3), quote("BALANCER", 3.8)})

	require.Len(t, d.Actions, 2)
	assert.Equal(t, domain.NewWithdrawFromPool("BALANCER", decimal.RequireFromString("300")), d.Actions[0])
	assert.Equal(t, domain.NewDepositToPool("AAVE", decimal.RequireFromString("300")), d.Actions[1])
}

func TestDecide_KeepsPoolWithinThreshold(t *testing.T) {
	p := New(DefaultThresholdPercent)

	d := p.Decide(snapshot("300", pool("AAVE", "100"), pool("BALANCER", "200")),
		quote("VAULT", 4.5), []domain.AprQuote{quote("AAVE", 5.3), quote("BALANCER", 5.0)})

	assert.True(t, d.NoAction(), d.String())
}

func TestDecide_StrategyFundsAreNotDeposited(t *testing.T) {
	s := snapshot("1000", pool("AAVE", "0"))
	s.IdleBalance = decimal.RequireFromString("600")

	d := New(DefaultThresholdPercent).Decide(s, quote("VAULT", 4.5), []domain.AprQuote{quote("AAVE", 5.3)})
	require.Len(t, d.Actions, 1)
	assert.Equal(t, domain.ActionDepositToPool, d.Actions[0].Kind)
	assert.True(t, decimal.RequireFromString("600").Equal(d.Actions[0].Amount), d.Actions[0].Amount.String())
}

func TestDecide_NoQuotes(t *testing.T) {
	d := New(DefaultThresholdPercent).Decide(snapshot("10"), quote("VAULT", 1), nil)
	assert.True(t, d.NoAction())
	assert.Equal(t, "no pool quotes available", d.String())
}

func TestNew_NegativeThreshold(t *testing.T) {
	assert.True(t, New(-1).Threshold().IsZero())
}
