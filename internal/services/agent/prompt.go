package agent

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// SystemPrompt role of the model.
const SystemPrompt = `You are a yield optimization agent for a DeFi vault controlled by a multisig wallet.
You can only change state through the provided tools. Every transaction is final, so never repeat a
transaction that failed; re-check the vault balance instead and report what happened.`

// BuildInstruction builds the per-cycle instruction for the monitored tokens.
func BuildInstruction(tokens []domain.Token, thresholdPercent decimal.Decimal) string {
	lines := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lines = append(lines, fmt.Sprintf("%s in Aave: %s", token.Symbol, token.Address.Hex()))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Monitor and optimize yield for these tokens:\n%s\n", strings.Join(lines, "\n"))
	b.WriteString("1. Check current vault balance\n")
	b.WriteString("2. Check current APR rates for all tokens\n")
	fmt.Fprintf(&b, "3. If current position has lower APR than alternatives by more than %s%%, execute the following:\n", thresholdPercent)
	b.WriteString("   - If funds are in vault and better rate exists, use depositToPool\n")
	b.WriteString("   - If funds are in a pool with lower rate, use withdrawFromPool\n")
	b.WriteString("4. Show detailed analysis of rates, actions taken, and final positions")
	return b.String()
}
