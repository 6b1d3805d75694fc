package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AprQuote deposit and borrow rates of an asset in a lending market, as percentages.
type AprQuote struct {
	Asset      common.Address `json:"asset"`
	Pool       string         `json:"pool,omitempty"`
	DepositApr float64        `json:"deposit_apr"`
	BorrowApr  float64        `json:"borrow_apr"`
	QuotedAt   time.Time      `json:"quoted_at"`
}

// AprEntry published rates of one pool, as served by the APR endpoint.
type AprEntry struct {
	DepositApr float64   `json:"depositApr" yaml:"deposit_apr"`
	BorrowApr  float64   `json:"borrowApr" yaml:"borrow_apr"`
	Timestamp  time.Time `json:"timestamp" yaml:"-"`
}
