package clients

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// NewChainClient dials the JSON-RPC endpoint of the chain the vault lives on.
func NewChainClient(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is empty")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, domain.NewOpError("dial", rpcURL, domain.ErrNetwork, err)
	}
	return client, nil
}

// ClassifyReadError maps an error returned by a contract read into the error taxonomy.
// JSON-RPC error responses (reverts, bad calls) are chain read failures, anything else
// means the endpoint could not be reached.
func ClassifyReadError(op, args string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewOpError(op, args, readErrorKind(err), err)
}

func readErrorKind(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return domain.ErrChainRead
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrNetwork
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "abi:") {
		return domain.ErrChainRead
	}
	return domain.ErrNetwork
}

// FormatArgs renders key/value pairs for error and log context.
func FormatArgs(kv ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// IsRPCError reports whether the node answered with a JSON-RPC error, for example a revert
// during gas estimation, as opposed to a transport failure.
func IsRPCError(err error) bool {
	return err != nil && readErrorKind(err) == domain.ErrChainRead
}
