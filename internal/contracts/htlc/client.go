// Package htlc is a Go client for the KlingonHTLC contract that holds the EVM
// side of a cross-chain swap.
package htlc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// SwapState represents the state of an HTLC swap
type SwapState uint8

const (
	SwapStateEmpty    SwapState = 0
	SwapStateActive   SwapState = 1
	SwapStateClaimed  SwapState = 2
	SwapStateRefunded SwapState = 3
)

func (s SwapState) String() string {
	switch s {
	case SwapStateEmpty:
		return "empty"
	case SwapStateActive:
		return "active"
	case SwapStateClaimed:
		return "claimed"
	case SwapStateRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Swap is the on-chain view of one HTLC.
type Swap struct {
	Sender     common.Address
	Receiver   common.Address
	Token      common.Address // address(0) for native ETH
	Amount     *big.Int
	DaoFee     *big.Int
	SecretHash [32]byte
	Timelock   *big.Int
	State      SwapState
}

// IsActive returns true if the swap is active
func (s *Swap) IsActive() bool {
	return s.State == SwapStateActive
}

// Backend is what the client needs from an Ethereum node connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps the contract binding with typed helpers.
type Client struct {
	backend         Backend
	contract        *contract
	contractAddress common.Address
	chainID         *big.Int
	closer          func()
}

// Dial connects to an RPC endpoint and binds the contract at contractAddress.
func Dial(ctx context.Context, rpcURL string, contractAddress common.Address) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	c, err := NewClient(ctx, ec, contractAddress)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

// NewClient binds the contract on an existing backend.
func NewClient(ctx context.Context, backend Backend, contractAddress common.Address) (*Client, error) {
	bound, err := newContract(contractAddress, backend)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		backend:         backend,
		contract:        bound,
		contractAddress: contractAddress,
		chainID:         chainID,
	}, nil
}

// Close closes the underlying RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// NewNonce returns a random 256-bit nonce for swap ID derivation.
func NewNonce() (*big.Int, error) {
	b, err := helpers.GenerateSecureRandom(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}

// ComputeSwapID asks the contract for the deterministic swap ID.
func (c *Client) ComputeSwapID(
	ctx context.Context,
	sender, receiver, token common.Address,
	amount *big.Int,
	secretHash [32]byte,
	timelock *big.Int,
	nonce *big.Int,
) ([32]byte, error) {
	opts := &bind.CallOpts{Context: ctx}
	return c.contract.computeSwapID(opts, sender, receiver, token, amount, secretHash, timelock, nonce)
}

// CreateSwapNative locks amount wei for receiver until timelock (unix seconds).
func (c *Client) CreateSwapNative(
	ctx context.Context,
	privateKey *ecdsa.PrivateKey,
	swapID [32]byte,
	receiver common.Address,
	secretHash [32]byte,
	timelock *big.Int,
	amount *big.Int,
) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	auth.Value = amount

	return c.contract.transact(auth, "createSwapNative", swapID, receiver, secretHash, timelock)
}

// Claim claims a swap by revealing the secret
func (c *Client) Claim(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID, secret [32]byte) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	return c.contract.transact(auth, "claim", swapID, secret)
}

// Refund refunds a swap after the timelock expires
func (c *Client) Refund(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID [32]byte) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	return c.contract.transact(auth, "refund", swapID)
}

// GetSwap returns the swap details
func (c *Client) GetSwap(ctx context.Context, swapID [32]byte) (*Swap, error) {
	opts := &bind.CallOpts{Context: ctx}
	result, err := c.contract.getSwap(opts, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}

	return &Swap{
		Sender:     result.Sender,
		Receiver:   result.Receiver,
		Token:      result.Token,
		Amount:     result.Amount,
		DaoFee:     result.DaoFee,
		SecretHash: result.SecretHash,
		Timelock:   result.Timelock,
		State:      SwapState(result.State),
	}, nil
}

// CanRefund reports whether the timelock has passed and the swap is still open.
func (c *Client) CanRefund(ctx context.Context, swapID [32]byte) (bool, error) {
	return c.contract.boolView(&bind.CallOpts{Context: ctx}, "canRefund", swapID)
}

// WaitForTx waits for a transaction to be mined and fails on a reverted receipt.
func (c *Client) WaitForTx(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// SecretFromClaim extracts the revealed secret from a claim transaction.
func (c *Client) SecretFromClaim(ctx context.Context, txHash common.Hash) ([32]byte, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to get receipt: %w", err)
	}
	return c.secretFromLogs(receipt.Logs)
}

func (c *Client) secretFromLogs(logs []*types.Log) ([32]byte, error) {
	for _, l := range logs {
		if l.Address != c.contractAddress {
			continue
		}
		secret, err := c.contract.parseClaimed(*l)
		if err != nil {
			continue
		}
		return secret, nil
	}
	return [32]byte{}, fmt.Errorf("no SwapClaimed event found in transaction")
}

func (c *Client) newTransactor(ctx context.Context, privateKey *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// AddressFromPrivateKey derives the address from a private key
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}
