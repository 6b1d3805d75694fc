package clients

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// LoadPrivateKey parses a hex encoded secp256k1 key and derives the account address from it.
func LoadPrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key := strings.TrimSpace(privateKeyHex)
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}
	if key == "" {
		return nil, common.Address{}, errors.New("private key is empty")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, common.Address{}, errors.Wrap(err, "parse private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, fmt.Errorf("error casting public key to ECDSA")
	}

	return privateKey, crypto.PubkeyToAddress(*pub), nil
}
