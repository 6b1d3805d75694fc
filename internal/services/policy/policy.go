// Package policy decides whether moving vault funds between placements improves yield.
package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// DefaultThresholdPercent minimum APR advantage, in percentage points, that justifies a move.
const DefaultThresholdPercent = 0.5

// Policy reallocation rule. An alternative placement wins only when its deposit APR
// exceeds the current one by strictly more than the threshold.
type Policy struct {
	threshold decimal.Decimal
}

// New creates a policy with the given threshold in percentage points.
func New(thresholdPercent float64) Policy {
	if thresholdPercent < 0 {
		thresholdPercent = 0
	}
	return Policy{threshold: decimal.NewFromFloat(thresholdPercent)}
}

// Threshold returns the configured threshold in percentage points.
func (p Policy) Threshold() decimal.Decimal {
	return p.threshold
}

// Decision proposed actions with one line of reasoning per compared placement.
type Decision struct {
	Actions []domain.OptimizationAction `json:"actions"`
	Reasons []string                    `json:"reasons"`
}

// NoAction reports whether the decision keeps funds where they are.
func (d Decision) NoAction() bool {
	return len(d.Actions) == 0
}

// String returns the reasons joined into one line.
func (d Decision) String() string {
	return strings.Join(d.Reasons, "; ")
}

// Decide compares the placements of the snapshot against their quotes.
// Free vault funds earn vault.DepositApr. Pools without a quote are left alone.
func (p Policy) Decide(snapshot domain.VaultSnapshot, vault domain.AprQuote, pools []domain.AprQuote) Decision {
	var d Decision

	best, ok := bestPool(pools)
	if !ok {
		d.Reasons = append(d.Reasons, "no pool quotes available")
		return d
	}
	vaultApr := decimal.NewFromFloat(vault.DepositApr)
	bestApr := decimal.NewFromFloat(best.DepositApr)

	if free := snapshot.FreeBalance(); free.IsPositive() {
		if p.beats(bestApr, vaultApr) {
			d.Actions = append(d.Actions, domain.NewDepositToPool(best.Pool, free))
			d.Reasons = append(d.Reasons, fmt.Sprintf("%s %s%% beats vault %s%% by more than %s, deposit %s",
				best.Pool, bestApr, vaultApr, p.threshold, free))
		} else {
			d.Reasons = append(d.Reasons, fmt.Sprintf("%s %s%% does not beat vault %s%% by more than %s",
				best.Pool, bestApr, vaultApr, p.threshold))
		}
	}

	for _, balance := range snapshot.PoolBalances {
		if !balance.Balance.IsPositive() {
			continue
		}
		current, ok := quoteFor(pools, balance.PoolName)
		if !ok {
			d.Reasons = append(d.Reasons, fmt.Sprintf("%s has no quote, keep %s", balance.PoolName, balance.Balance))
			continue
		}
		currentApr := decimal.NewFromFloat(current.DepositApr)

		alt, altApr := string(domain.PlacementVault), vaultApr
		if other, ok := bestPool(excluding(pools, balance.PoolName)); ok {
			if otherApr := decimal.NewFromFloat(other.DepositApr); otherApr.GreaterThan(altApr) {
				alt, altApr = other.Pool, otherApr
			}
		}
		if !p.beats(altApr, currentApr) {
			d.Reasons = append(d.Reasons, fmt.Sprintf("keep %s in %s at %s%%", balance.Balance, balance.PoolName, currentApr))
			continue
		}

		d.Actions = append(d.Actions, domain.NewWithdrawFromPool(balance.PoolName, balance.Balance))
		if alt == string(domain.PlacementVault) {
			d.Reasons = append(d.Reasons, fmt.Sprintf("vault %s%% beats %s %s%%, withdraw %s",
				altApr, balance.PoolName, currentApr, balance.Balance))
			continue
		}
		d.Actions = append(d.Actions, domain.NewDepositToPool(alt, balance.Balance))
		d.Reasons = append(d.Reasons, fmt.Sprintf("%s %s%% beats %s %s%%, move %s",
			alt, altApr, balance.PoolName, currentApr, balance.Balance))
	}

	return d
}

// beats reports whether alternative - current > threshold.
func (p Policy) beats(alternative, current decimal.Decimal) bool {
	return alternative.Sub(current).GreaterThan(p.threshold)
}

// bestPool highest deposit APR, the first one wins ties.
func bestPool(quotes []domain.AprQuote) (domain.AprQuote, bool) {
	if len(quotes) == 0 {
		return domain.AprQuote{}, false
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.DepositApr > best.DepositApr {
			best = q
		}
	}
	return best, true
}

func quoteFor(quotes []domain.AprQuote, pool string) (domain.AprQuote, bool) {
	for _, q := range quotes {
		if strings.EqualFold(q.Pool, pool) {
			return q, true
		}
	}
	return domain.AprQuote{}, false
}

func excluding(quotes []domain.AprQuote, pool string) []domain.AprQuote {
	out := make([]domain.AprQuote, 0, len(quotes))
	for _, q := range quotes {
		if !strings.EqualFold(q.Pool, pool) {
			out = append(out, q)
		}
	}
	return out
}
