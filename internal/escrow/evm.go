package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/contracts/htlc"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// HTLCClient is the subset of *htlc.Client the EVM adapter drives.
type HTLCClient interface {
	ComputeSwapID(ctx context.Context, sender, receiver, token common.Address,
		amount *big.Int, secretHash [32]byte, timelock, nonce *big.Int) ([32]byte, error)
	CreateSwapNative(ctx context.Context, key *ecdsa.PrivateKey, swapID [32]byte,
		receiver common.Address, secretHash [32]byte, timelock, amount *big.Int) (*types.Transaction, error)
	Claim(ctx context.Context, key *ecdsa.PrivateKey, swapID, secret [32]byte) (*types.Transaction, error)
	Refund(ctx context.Context, key *ecdsa.PrivateKey, swapID [32]byte) (*types.Transaction, error)
	CanRefund(ctx context.Context, swapID [32]byte) (bool, error)
	WaitForTx(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

var _ HTLCClient = (*htlc.Client)(nil)

// EVMAdapter holds native ETH in the HTLC contract. The contract has a single
// refund timelock, set to cancelAfter; finishAfter is enforced by the caller.
type EVMAdapter struct {
	client HTLCClient
	key    *ecdsa.PrivateKey
	sender common.Address
	log    *logging.Logger
}

// NewEVMAdapter creates an adapter signing with key.
func NewEVMAdapter(client HTLCClient, key *ecdsa.PrivateKey) *EVMAdapter {
	return &EVMAdapter{
		client: client,
		key:    key,
		sender: crypto.PubkeyToAddress(key.PublicKey),
		log:    logging.GetDefault().Component("evm"),
	}
}

func (e *EVMAdapter) Chain() Chain { return ChainEthereum }

// Address returns the signing address.
func (e *EVMAdapter) Address() common.Address { return e.sender }

func (e *EVMAdapter) CreateEscrow(ctx context.Context, destination string, amount decimal.Decimal,
	lock hashlock.Lock, finishAfter, cancelAfter time.Time) (Ref, error) {
	if !common.IsHexAddress(destination) {
		return Ref{}, fmt.Errorf("%w: invalid EVM destination %q", ErrEscrowFailed, destination)
	}
	if !cancelAfter.After(finishAfter) {
		return Ref{}, fmt.Errorf("%w: cancelAfter must follow finishAfter", ErrEscrowFailed)
	}
	secretHash, err := lockHash(lock)
	if err != nil {
		return Ref{}, err
	}
	wei, err := helpers.ETHToWei(amount)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	receiver := common.HexToAddress(destination)
	timelock := big.NewInt(cancelAfter.Unix())
	nonce, err := htlc.NewNonce()
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	swapID, err := e.client.ComputeSwapID(ctx, e.sender, receiver, common.Address{}, wei, secretHash, timelock, nonce)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: compute swap id: %v", ErrEscrowFailed, err)
	}

	tx, err := e.client.CreateSwapNative(ctx, e.key, swapID, receiver, secretHash, timelock, wei)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: createSwapNative: %v", ErrEscrowFailed, err)
	}
	if _, err := e.client.WaitForTx(ctx, tx); err != nil {
		return Ref{}, fmt.Errorf("%w: createSwapNative: %v", ErrEscrowFailed, err)
	}

	id := common.Hash(swapID).Hex()
	e.log.Info("EVM escrow created", "swap_id", id, "tx", tx.Hash().Hex(), "wei", wei.String())
	return Ref{
		Chain:  ChainEthereum,
		ID:     id,
		Owner:  e.sender.Hex(),
		TxHash: tx.Hash().Hex(),
	}, nil
}

func (e *EVMAdapter) FinishEscrow(ctx context.Context, owner string, ref Ref, lock hashlock.Lock, secret []byte) (string, error) {
	if len(secret) != 32 {
		return "", fmt.Errorf("%w: EVM claim needs a 32-byte secret, got %d", ErrEscrowFailed, len(secret))
	}
	if !hashlock.VerifySecret(secret, lock.Hash, lock.Algorithm) {
		return "", fmt.Errorf("%w: secret does not match hashlock", ErrEscrowFailed)
	}
	swapID, err := parseSwapID(ref)
	if err != nil {
		return "", err
	}

	var s [32]byte
	copy(s[:], secret)
	defer helpers.SecureClear(s[:])

	tx, err := e.client.Claim(ctx, e.key, swapID, s)
	if err != nil {
		return "", fmt.Errorf("%w: claim: %v", ErrEscrowFailed, err)
	}
	if _, err := e.client.WaitForTx(ctx, tx); err != nil {
		return "", fmt.Errorf("%w: claim: %v", ErrEscrowFailed, err)
	}
	e.log.Info("EVM escrow claimed", "swap_id", ref.ID, "tx", tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

func (e *EVMAdapter) CancelEscrow(ctx context.Context, owner string, ref Ref) (string, error) {
	swapID, err := parseSwapID(ref)
	if err != nil {
		return "", err
	}
	ok, err := e.client.CanRefund(ctx, swapID)
	if err != nil {
		return "", fmt.Errorf("%w: refund check: %v", ErrEscrowFailed, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: swap %s is not refundable yet", ErrEscrowFailed, ref.ID)
	}
	tx, err := e.client.Refund(ctx, e.key, swapID)
	if err != nil {
		return "", fmt.Errorf("%w: refund: %v", ErrEscrowFailed, err)
	}
	if _, err := e.client.WaitForTx(ctx, tx); err != nil {
		return "", fmt.Errorf("%w: refund: %v", ErrEscrowFailed, err)
	}
	e.log.Info("EVM escrow refunded", "swap_id", ref.ID, "tx", tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

func lockHash(lock hashlock.Lock) ([32]byte, error) {
	var h [32]byte
	if lock.Algorithm != hashlock.SHA256 || len(lock.Hash) != 32 {
		return h, fmt.Errorf("%w: EVM HTLC needs a SHA256 hashlock", ErrEscrowFailed)
	}
	copy(h[:], lock.Hash)
	return h, nil
}

func parseSwapID(ref Ref) ([32]byte, error) {
	var id [32]byte
	b, err := helpers.HexToBytes(ref.ID)
	if err != nil || len(b) != 32 {
		return id, fmt.Errorf("%w: invalid swap id %q", ErrEscrowFailed, ref.ID)
	}
	copy(id[:], b)
	return id, nil
}

var _ Adapter = (*EVMAdapter)(nil)
