package tools

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// Args validated tool arguments.
type Args map[string]any

// String returns a string argument.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return strings.TrimSpace(s)
}

// Int returns an integer argument.
func (a Args) Int(name string) int {
	f, _ := toFloat(a[name])
	return int(f)
}

// Amount parses a positive human-unit amount argument.
func (a Args) Amount(name string) (decimal.Decimal, error) {
	amount, err := domain.ParseAmount(a.String(name))
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrSchemaValidation, "argument %q: %v", name, err)
	}
	return amount, nil
}

// Address parses a hex address argument.
func (a Args) Address(name string) (common.Address, error) {
	s := a.String(name)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(domain.ErrSchemaValidation, "argument %q is not a hex address: %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// NonEmpty returns a required string argument, rejecting blanks.
func (a Args) NonEmpty(name string) (string, error) {
	s := a.String(name)
	if s == "" {
		return "", errors.Wrapf(domain.ErrSchemaValidation, "argument %q is empty", name)
	}
	return s, nil
}

// Format renders arguments as sorted key=value pairs for logs and failure reports.
func (a Args) Format() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		b, _ := json.Marshal(a[k])
		parts = append(parts, k+"="+string(b))
	}
	return strings.Join(parts, " ")
}
