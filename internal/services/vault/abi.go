package vault

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"}],"outputs":[]},
{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"depositToPool","stateMutability":"nonpayable","inputs":[{"name":"poolName","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"withdrawFromPool","stateMutability":"nonpayable","inputs":[{"name":"poolName","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getPoolBalance","stateMutability":"view","inputs":[{"name":"poolName","type":"string"},{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getPoolAddress","stateMutability":"view","inputs":[{"name":"poolName","type":"string"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getPoolList","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
{"type":"function","name":"allocateToStrategy","stateMutability":"nonpayable","inputs":[{"name":"strategyType","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"withdrawFromStrategy","stateMutability":"nonpayable","inputs":[{"name":"strategyType","type":"uint8"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getStrategyAddress","stateMutability":"view","inputs":[{"name":"strategyType","type":"uint8"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// VaultABI parsed ABI of the vault contract.
	VaultABI = mustParseABI(vaultABIJSON)
	// ERC20ABI parsed ABI subset of an ERC20 token.
	ERC20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
