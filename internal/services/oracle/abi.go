package oracle

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const dataProviderABIJSON = `[
{"type":"function","name":"getReserveData","stateMutability":"view",
 "inputs":[{"name":"asset","type":"address"}],
 "outputs":[
  {"name":"unbacked","type":"uint256"},
  {"name":"accruedToTreasuryScaled","type":"uint256"},
  {"name":"totalAToken","type":"uint256"},
  {"name":"totalStableDebt","type":"uint256"},
  {"name":"totalVariableDebt","type":"uint256"},
  {"name":"liquidityRate","type":"uint256"},
  {"name":"variableBorrowRate","type":"uint256"},
  {"name":"stableBorrowRate","type":"uint256"},
  {"name":"averageStableBorrowRate","type":"uint256"},
  {"name":"liquidityIndex","type":"uint256"},
  {"name":"variableBorrowIndex","type":"uint256"},
  {"name":"lastUpdateTimestamp","type":"uint40"}
 ]}
]`

// DataProviderABI parsed ABI subset of the Aave V3 protocol data provider.
var DataProviderABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(dataProviderABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// reserveData getReserveData outputs, rates in RAY.
type reserveData struct {
	Unbacked                *big.Int
	AccruedToTreasuryScaled *big.Int
	TotalAToken             *big.Int
	TotalStableDebt         *big.Int
	TotalVariableDebt       *big.Int
	LiquidityRate           *big.Int
	VariableBorrowRate      *big.Int
	StableBorrowRate        *big.Int
	AverageStableBorrowRate *big.Int
	LiquidityIndex          *big.Int
	VariableBorrowIndex     *big.Int
	LastUpdateTimestamp     *big.Int
}
