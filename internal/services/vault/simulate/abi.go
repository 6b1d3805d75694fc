package simulate

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

func decode(contract abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("execution reverted: short calldata")
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, errors.Wrap(err, "execution reverted")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "execution reverted: unpack %s", method.Name)
	}
	return method, args, nil
}
