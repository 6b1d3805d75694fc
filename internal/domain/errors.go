package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNetwork RPC endpoint unreachable or timed out. Transient, retried only by the next cycle.
	ErrNetwork = errors.New("network error")
	// ErrChainRead contract has no code or reverted on a read.
	ErrChainRead = errors.New("chain read error")
	// ErrTransactionRejected signing collaborator declined the transaction.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrTransactionReverted transaction was mined but reverted.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrSchemaValidation tool invocation arguments do not match the tool schema.
	ErrSchemaValidation = errors.New("schema validation error")
	// ErrUnknownTool tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrPoolNotFound pool is not known.
	ErrPoolNotFound = errors.New("pool not found")
)

// OpError failure of a single operation with enough context to diagnose it from logs.
type OpError struct {
	Op   string
	Args string
	Kind error
	Err  error
}

// NewOpError wraps err into an OpError of the given kind.
func NewOpError(op string, args string, kind error, err error) *OpError {
	return &OpError{Op: op, Args: args, Kind: kind, Err: err}
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Args != "" {
		msg = fmt.Sprintf("%s(%s): %s", e.Op, e.Args, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *OpError) Is(target error) bool {
	return e.Kind == target
}

// KindOf returns the taxonomy kind err belongs to, or nil when it matches none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrSchemaValidation,
		ErrUnknownTool,
		ErrPoolNotFound,
		ErrTransactionRejected,
		ErrTransactionReverted,
		ErrChainRead,
		ErrNetwork,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
