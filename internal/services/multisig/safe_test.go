package multisig

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

type revertError struct{}

func (revertError) Error() string  { return "execution reverted: GS013" }
func (revertError) ErrorCode() int { return 3 }

type fakeSafeBackend struct {
	owner       common.Address
	threshold   int64
	nonce       int64
	txHash      common.Hash
	estimateErr error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	receiptHits int
}

func (b *fakeSafeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := SafeABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "isOwner":
		return method.Outputs.Pack(args[0].(common.Address) == b.owner)
	case "getThreshold":
		return method.Outputs.Pack(big.NewInt(b.threshold))
	case "nonce":
		return method.Outputs.Pack(big.NewInt(b.nonce))
	case "getTransactionHash":
		return method.Outputs.Pack([32]byte(b.txHash))
	}
	return nil, errors.Errorf("unexpected call %s", method.Name)
}

func (b *fakeSafeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 3, nil
}

func (b *fakeSafeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeSafeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(25_000_000_000)}, nil
}

func (b *fakeSafeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeSafeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeSafeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.receiptHits++
	if r, ok := b.receipts[hash]; ok && b.receiptHits > 1 {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func newTestSafe(t *testing.T, backend *fakeSafeBackend, withKey bool) *Safe {
	t.Helper()
	key := mustKey(t)
	backend.owner = crypto.PubkeyToAddress(key.PublicKey)
	if !withKey {
		key = nil
	}
	safe, err := NewSafe(zap.NewNop(), backend, common.HexToAddress("0x00000000000000000000000000000000000000a1"), key, big.NewInt(43114),
		WithReceiptPollInterval(time.Millisecond))
	require.NoError(t, err)
	return safe
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestSafe_SignProducesOwnerSignature(t *testing.T) {
	backend := &fakeSafeBackend{threshold: 1, nonce: 7, txHash: crypto.Keccak256Hash([]byte("safe tx"))}
	safe := newTestSafe(t, backend, true)

	call := Call{To: common.HexToAddress("0x50109a09aA3Ff67Ae594802468328e16bf85eb64"), Data: []byte{0xde, 0xad}}
	signed, err := safe.Sign(context.Background(), call)
	require.NoError(t, err)

	assert.Equal(t, int64(7), signed.SafeNonce.Int64())
	assert.Equal(t, backend.txHash, signed.SafeTxHash)
	require.Len(t, signed.Signatures, 65)
	assert.Contains(t, []byte{27, 28}, signed.Signatures[64])

	sig := append([]byte(nil), signed.Signatures...)
	sig[64] -= 27
	pub, err := crypto.SigToPub(backend.txHash[:], sig)
	require.NoError(t, err)
	assert.Equal(t, backend.owner, crypto.PubkeyToAddress(*pub))
}

func TestSafe_SignRejected(t *testing.T) {
	t.Run("no credential", func(t *testing.T) {
		safe := newTestSafe(t, &fakeSafeBackend{threshold: 1}, false)
		_, err := safe.Sign(context.Background(), Call{})
		assert.True(t, errors.Is(err, domain.ErrTransactionRejected))
	})

	t.Run("threshold above one", func(t *testing.T) {
		safe := newTestSafe(t, &fakeSafeBackend{threshold: 2}, true)
		_, err := safe.Sign(context.Background(), Call{})
		assert.True(t, errors.Is(err, domain.ErrTransactionRejected))
	})

	t.Run("not an owner", func(t *testing.T) {
		backend := &fakeSafeBackend{threshold: 1}
		safe := newTestSafe(t, backend, true)
		backend.owner = common.HexToAddress("0x0000000000000000000000000000000000000bad")
		_, err := safe.Sign(context.Background(), Call{})
		assert.True(t, errors.Is(err, domain.ErrTransactionRejected))
	})
}

func TestSafe_SubmitAndWait(t *testing.T) {
	backend := &fakeSafeBackend{threshold: 1, nonce: 1, txHash: crypto.Keccak256Hash([]byte("x")), receipts: map[common.Hash]*types.Receipt{}}
	safe := newTestSafe(t, backend, true)

	signed, err := safe.Sign(context.Background(), Call{To: common.HexToAddress("0x01"), Data: []byte{1}})
	require.NoError(t, err)

	hash, err := safe.Submit(context.Background(), signed)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, safe.Address(), *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())

	method, err := SafeABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "execTransaction", method.Name)

	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
	receipt, err := safe.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestSafe_SubmitRevertedOnEstimate(t *testing.T) {
	backend := &fakeSafeBackend{threshold: 1, estimateErr: revertError{}}
	safe := newTestSafe(t, backend, true)

	signed, err := safe.Sign(context.Background(), Call{To: common.HexToAddress("0x01")})
	require.NoError(t, err)

	_, err = safe.Submit(context.Background(), signed)
	assert.True(t, errors.Is(err, domain.ErrTransactionReverted))
	assert.Empty(t, backend.sent)
}

func TestSafe_WaitMinedHonoursContext(t *testing.T) {
	safe := newTestSafe(t, &fakeSafeBackend{threshold: 1}, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := safe.WaitMined(ctx, common.Hash{1})
	assert.True(t, errors.Is(err, domain.ErrNetwork))
}
