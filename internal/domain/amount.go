package domain

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a human-unit decimal string. Amounts must be positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.New("amount is empty")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid amount %q", s)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.Errorf("amount must be positive, got %s", s)
	}
	return amount, nil
}

// ToFixedPoint converts a human-unit amount into the token integer representation.
// Amounts carrying more fractional digits than the token supports are rejected instead of truncated.
func ToFixedPoint(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, errors.Errorf("invalid token decimals %d", decimals)
	}
	if amount.IsNegative() {
		return nil, errors.Errorf("negative amount %s", amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errors.Errorf("amount %s exceeds token precision of %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromFixedPoint converts a token integer amount into human units.
func FromFixedPoint(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}
