package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// TxState stage of a multisig transaction. Built -> Signed -> Submitted -> Mined | Reverted | Rejected.
type TxState int

const (
	TxBuilt TxState = iota
	TxSigned
	TxSubmitted
	TxMined
	TxReverted
	TxRejected
)

// String returns the string representation of the state.
func (s TxState) String() string {
	switch s {
	case TxBuilt:
		return "built"
	case TxSigned:
		return "signed"
	case TxSubmitted:
		return "submitted"
	case TxMined:
		return "mined"
	case TxReverted:
		return "reverted"
	case TxRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TxState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxMined || s == TxReverted || s == TxRejected
}

// Receipt outcome of a vault transaction.
type Receipt struct {
	Op          string         `json:"op"`
	TxHash      common.Hash    `json:"tx_hash"`
	State       TxState        `json:"state"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	GasUsed     uint64         `json:"gas_used,omitempty"`
	Target      common.Address `json:"target"`
}
