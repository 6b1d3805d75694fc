// Package multisig signs and submits vault calls through a Safe multisig wallet
// controlled by a single agent owner key.
package multisig

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/clients"
	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

const (
	defaultReceiptPollInterval = 3 * time.Second
	gasLimitMarginPercent      = 20

	// operationCall Safe operation type for a plain CALL (1 is DELEGATECALL).
	operationCall uint8 = 0
)

// Call single contract call proposed for execution by the Safe.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// SignedTx Safe transaction signed by the agent owner, ready to be executed.
type SignedTx struct {
	Call       Call
	SafeNonce  *big.Int
	SafeTxHash common.Hash
	Signatures []byte
}

type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Safe executes calls through a Safe wallet whose threshold the agent owner satisfies alone.
type Safe struct {
	logger       *zap.Logger
	backend      backend
	address      common.Address
	key          *ecdsa.PrivateKey
	owner        common.Address
	chainID      *big.Int
	pollInterval time.Duration
}

// Option configures the Safe executor.
type Option func(*Safe)

// WithReceiptPollInterval sets how often WaitMined polls for the receipt.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(s *Safe) {
		s.pollInterval = d
	}
}

// NewSafe creates a Safe executor. key may be nil, every Sign is then rejected.
func NewSafe(logger *zap.Logger, backend backend, safeAddress common.Address, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) (*Safe, error) {
	if backend == nil {
		return nil, errors.New("chain backend is nil")
	}
	if safeAddress == (common.Address{}) {
		return nil, errors.New("safe address is empty")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}

	s := &Safe{
		logger:       logger,
		backend:      backend,
		address:      safeAddress,
		key:          key,
		chainID:      chainID,
		pollInterval: defaultReceiptPollInterval,
	}
	if key != nil {
		s.owner = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Address returns the Safe wallet address.
func (s *Safe) Address() common.Address {
	return s.address
}

// Sign builds the Safe transaction for the call and signs its hash with the owner key.
// The signature is declined when the key does not belong to an owner or when the Safe
// needs more confirmations than a single owner can give.
func (s *Safe) Sign(ctx context.Context, call Call) (*SignedTx, error) {
	if s.key == nil {
		return nil, domain.NewOpError("sign", call.To.Hex(), domain.ErrTransactionRejected, errors.New("no signing credential configured"))
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	var isOwner bool
	if err := s.read(ctx, "isOwner", &isOwner, s.owner); err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, domain.NewOpError("sign", s.owner.Hex(), domain.ErrTransactionRejected, errors.New("signer is not an owner of the safe"))
	}

	var threshold *big.Int
	if err := s.read(ctx, "getThreshold", &threshold); err != nil {
		return nil, err
	}
	if threshold.Cmp(big.NewInt(1)) > 0 {
		return nil, domain.NewOpError("sign", s.address.Hex(), domain.ErrTransactionRejected,
			errors.Errorf("safe threshold %s needs more than one signature", threshold))
	}

	var nonce *big.Int
	if err := s.read(ctx, "nonce", &nonce); err != nil {
		return nil, err
	}

	var hash [32]byte
	zero := new(big.Int)
	if err := s.read(ctx, "getTransactionHash", &hash,
		call.To, value, call.Data, operationCall, zero, zero, zero, common.Address{}, common.Address{}, nonce); err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return nil, domain.NewOpError("sign", common.Hash(hash).Hex(), domain.ErrTransactionRejected, err)
	}
	// safe expects v in {27, 28} for eth_sign-less ECDSA signatures
	sig[crypto.RecoveryIDOffset] += 27

	s.logger.Debug("safe transaction signed",
		zap.String("safe_tx_hash", common.Hash(hash).Hex()),
		zap.String("safe_nonce", nonce.String()),
		zap.String("to", call.To.Hex()))

	return &SignedTx{
		Call:       Call{To: call.To, Value: value, Data: call.Data},
		SafeNonce:  nonce,
		SafeTxHash: hash,
		Signatures: sig,
	}, nil
}

// Submit sends execTransaction for a signed Safe transaction from the owner account.
func (s *Safe) Submit(ctx context.Context, signed *SignedTx) (common.Hash, error) {
	if signed == nil {
		return common.Hash{}, errors.New("signed transaction is nil")
	}
	zero := new(big.Int)
	data, err := SafeABI.Pack("execTransaction",
		signed.Call.To, signed.Call.Value, signed.Call.Data, operationCall,
		zero, zero, zero, common.Address{}, common.Address{}, signed.Signatures)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack execTransaction")
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.owner)
	if err != nil {
		return common.Hash{}, domain.NewOpError("pendingNonce", s.owner.Hex(), domain.ErrNetwork, err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, domain.NewOpError("suggestGasTipCap", "", domain.ErrNetwork, err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, domain.NewOpError("headerByNumber", "latest", domain.ErrNetwork, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	} else {
		feeCap.Mul(feeCap, big.NewInt(2))
	}

	safe := s.address
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.owner, To: &safe, Data: data})
	if err != nil {
		// safe executes with safeTxGas = 0, so a failing inner call reverts the whole estimate
		if clients.IsRPCError(err) {
			return common.Hash{}, domain.NewOpError("estimateGas", signed.SafeTxHash.Hex(), domain.ErrTransactionReverted, err)
		}
		return common.Hash{}, domain.NewOpError("estimateGas", signed.SafeTxHash.Hex(), domain.ErrNetwork, err)
	}
	gas += gas * gasLimitMarginPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &safe,
		Value:     zero,
		Data:      data,
	})
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, domain.NewOpError("signTx", signed.SafeTxHash.Hex(), domain.ErrTransactionRejected, err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		if clients.IsRPCError(err) {
			return common.Hash{}, domain.NewOpError("sendTransaction", signedTx.Hash().Hex(), domain.ErrTransactionRejected, err)
		}
		return common.Hash{}, domain.NewOpError("sendTransaction", signedTx.Hash().Hex(), domain.ErrNetwork, err)
	}

	s.logger.Info("safe transaction submitted",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("safe_tx_hash", signed.SafeTxHash.Hex()),
		zap.Uint64("gas", gas))

	return signedTx.Hash(), nil
}

// WaitMined blocks until the transaction receipt is available or ctx is done.
func (s *Safe) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, domain.NewOpError("transactionReceipt", hash.Hex(), domain.ErrNetwork, err)
		}

		select {
		case <-ctx.Done():
			return nil, domain.NewOpError("waitMined", hash.Hex(), domain.ErrNetwork, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Safe) read(ctx context.Context, method string, out any, args ...any) error {
	data, err := SafeABI.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "pack %s", method)
	}
	safe := s.address
	raw, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &safe, Data: data}, nil)
	if err != nil {
		return clients.ClassifyReadError("safe."+method, "", err)
	}
	if err := SafeABI.UnpackIntoInterface(out, method, raw); err != nil {
		return domain.NewOpError("safe."+method, "", domain.ErrChainRead, err)
	}
	return nil
}
