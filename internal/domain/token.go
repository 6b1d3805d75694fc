// Package domain defines core data structures used throughout the yield agent.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Token monitored asset.
type Token struct {
	// Symbol ticker, for example USDC.
	Symbol string `json:"symbol"`
	// Address ERC20 contract address.
	Address common.Address `json:"address"`
	// Decimals fixed-point precision declared by the token contract.
	// Zero means it has to be looked up on chain.
	Decimals int32 `json:"decimals,omitempty"`
}

// String returns the string representation.
func (t Token) String() string {
	return fmt.Sprintf("%s(%s)", t.Symbol, t.Address.Hex())
}

// Placement where funds of a vault currently sit.
type Placement string

// PlacementVault funds held by the vault itself, not routed into any pool.
const PlacementVault Placement = "VAULT"
