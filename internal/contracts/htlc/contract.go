package htlc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractABI is the subset of the KlingonHTLC ABI the escrow adapter uses:
// native-token swaps, claim/refund, the read helpers and the three swap events.
const contractABI = `[
{"type":"function","name":"canRefund","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
{"type":"function","name":"claim","inputs":[{"name":"swapId","type":"bytes32"},{"name":"secret","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"computeSwapId","inputs":[{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"secretHash","type":"bytes32"},{"name":"timelock","type":"uint256"},{"name":"nonce","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
{"type":"function","name":"createSwapNative","inputs":[{"name":"swapId","type":"bytes32"},{"name":"receiver","type":"address"},{"name":"secretHash","type":"bytes32"},{"name":"timelock","type":"uint256"}],"outputs":[],"stateMutability":"payable"},
{"type":"function","name":"getSwap","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"daoFee","type":"uint256"},{"name":"secretHash","type":"bytes32"},{"name":"timelock","type":"uint256"},{"name":"state","type":"uint8"}]}],"stateMutability":"view"},
{"type":"function","name":"refund","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"timeUntilRefund","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"event","name":"SwapClaimed","inputs":[{"name":"swapId","type":"bytes32","indexed":true},{"name":"receiver","type":"address","indexed":true},{"name":"secret","type":"bytes32","indexed":false}],"anonymous":false},
{"type":"event","name":"SwapCreated","inputs":[{"name":"swapId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"receiver","type":"address","indexed":true},{"name":"token","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"daoFee","type":"uint256","indexed":false},{"name":"secretHash","type":"bytes32","indexed":false},{"name":"timelock","type":"uint256","indexed":false}],"anonymous":false},
{"type":"event","name":"SwapRefunded","inputs":[{"name":"swapId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true}],"anonymous":false}
]`

// MetaData exposes the parsed ABI.
var MetaData = &bind.MetaData{ABI: contractABI}

// rawSwap mirrors the getSwap tuple for abi.ConvertType.
type rawSwap struct {
	Sender     common.Address
	Receiver   common.Address
	Token      common.Address
	Amount     *big.Int
	DaoFee     *big.Int
	SecretHash [32]byte
	Timelock   *big.Int
	State      uint8
}

// claimedLog is the SwapClaimed event; indexed fields are filled from topics.
type claimedLog struct {
	SwapId   [32]byte
	Receiver common.Address
	Secret   [32]byte
}

// contract is a thin typed layer over bind.BoundContract.
type contract struct {
	abi   *abi.ABI
	bound *bind.BoundContract
}

func newContract(address common.Address, backend bind.ContractBackend) (*contract, error) {
	parsed, err := MetaData.GetAbi()
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTLC ABI: %w", err)
	}
	return &contract{
		abi:   parsed,
		bound: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

func (c *contract) call(opts *bind.CallOpts, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(opts, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *contract) computeSwapID(opts *bind.CallOpts, sender, receiver, token common.Address,
	amount *big.Int, secretHash [32]byte, timelock, nonce *big.Int) ([32]byte, error) {
	out, err := c.call(opts, "computeSwapId", sender, receiver, token, amount, secretHash, timelock, nonce)
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

func (c *contract) getSwap(opts *bind.CallOpts, swapID [32]byte) (rawSwap, error) {
	out, err := c.call(opts, "getSwap", swapID)
	if err != nil {
		return rawSwap{}, err
	}
	return *abi.ConvertType(out[0], new(rawSwap)).(*rawSwap), nil
}

func (c *contract) boolView(opts *bind.CallOpts, method string, swapID [32]byte) (bool, error) {
	out, err := c.call(opts, method, swapID)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *contract) transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	return c.bound.Transact(opts, method, args...)
}

// parseClaimed extracts the revealed secret from a SwapClaimed log.
func (c *contract) parseClaimed(log types.Log) ([32]byte, error) {
	var ev claimedLog
	if err := c.bound.UnpackLog(&ev, "SwapClaimed", log); err != nil {
		return [32]byte{}, err
	}
	return ev.Secret, nil
}
