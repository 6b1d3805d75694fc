// Package oracle provides APR quotes for the vault asset in every placement the agent compares.
package oracle

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// ray fixed-point unit of Aave rates, 1e27.
var ray = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))

type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// AaveOracle reads reserve rates from the Aave protocol data provider.
type AaveOracle struct {
	logger       *zap.Logger
	caller       contractCaller
	dataProvider common.Address
	pool         string
	now          func() time.Time
}

// NewAaveOracle creates an oracle reading from the data provider contract.
// pool is the placement name the quotes are reported under.
func NewAaveOracle(logger *zap.Logger, caller contractCaller, dataProvider common.Address, pool string) (*AaveOracle, error) {
	if caller == nil {
		return nil, errors.New("contract caller is nil")
	}
	if dataProvider == (common.Address{}) {
		return nil, errors.New("aave data provider address is empty")
	}
	return &AaveOracle{
		logger:       logger,
		caller:       caller,
		dataProvider: dataProvider,
		pool:         pool,
		now:          time.Now,
	}, nil
}

// GetApr returns the current deposit and variable borrow APR of the asset.
func (o *AaveOracle) GetApr(ctx context.Context, asset common.Address) (domain.AprQuote, error) {
	data, err := DataProviderABI.Pack("getReserveData", asset)
	if err != nil {
		return domain.AprQuote{}, errors.Wrap(err, "pack getReserveData")
	}

	provider := o.dataProvider
	raw, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &provider, Data: data}, nil)
	if err != nil {
		return domain.AprQuote{}, clients.ClassifyReadError("aave.getReserveData", asset.Hex(), err)
	}

	var reserve reserveData
	if err := DataProviderABI.UnpackIntoInterface(&reserve, "getReserveData", raw); err != nil {
		return domain.AprQuote{}, domain.NewOpError("aave.getReserveData", asset.Hex(), domain.ErrChainRead, err)
	}
	// unlisted reserves come back zeroed, a listed one always has an index
	if reserve.LiquidityIndex == nil || reserve.LiquidityIndex.Sign() == 0 {
		return domain.AprQuote{}, domain.NewOpError("aave.getReserveData", asset.Hex(), domain.ErrChainRead,
			errors.New("asset is not listed in the market"))
	}

	quote := domain.AprQuote{
		Asset:      asset,
		Pool:       o.pool,
		DepositApr: RayToPercent(reserve.LiquidityRate),
		BorrowApr:  RayToPercent(reserve.VariableBorrowRate),
		QuotedAt:   o.now().UTC(),
	}
	o.logger.Debug("aave reserve rates",
		zap.String("asset", asset.Hex()),
		zap.Float64("deposit_apr", quote.DepositApr),
		zap.Float64("borrow_apr", quote.BorrowApr))
	return quote, nil
}

// Quote implements Source.
func (o *AaveOracle) Quote(ctx context.Context, asset common.Address) (domain.AprQuote, error) {
	return o.GetApr(ctx, asset)
}

// RayToPercent converts an annual rate in RAY into a percentage.
func RayToPercent(rate *big.Int) float64 {
	if rate == nil || rate.Sign() <= 0 {
		return 0
	}
	pct, _ := new(big.Float).Quo(new(big.Float).SetInt(rate), ray).Float64()
	return pct * 100
}
