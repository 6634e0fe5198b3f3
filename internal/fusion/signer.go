package fusion

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

// Limit order protocol v4 domain.
const (
	DomainName            = "1inch Aggregation Router"
	DomainVersion         = "6"
	AggregationRouterV6   = "0x111111125421ca6dc452d289314280a0f8842a65"
	NativeTokenAddress    = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	XRPLChainID           = 144
	defaultMakerTraits    = "0"
	defaultOrderExtension = "0x"
)

var limitOrderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "makerAsset", Type: "address"},
		{Name: "takerAsset", Type: "address"},
		{Name: "makingAmount", Type: "uint256"},
		{Name: "takingAmount", Type: "uint256"},
		{Name: "makerTraits", Type: "uint256"},
	},
}

// OrderSigner signs limit orders on behalf of the maker.
type OrderSigner interface {
	Address() common.Address
	ChainID() int64
	// SignOrder returns the 65 byte signature and the order hash, both hex.
	SignOrder(order *LimitOrder) (signature string, orderHash string, err error)
}

// EIP712Signer signs orders with a local secp256k1 key.
type EIP712Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
	router  string
}

// NewEIP712Signer creates a signer for the given EVM chain.
func NewEIP712Signer(key *ecdsa.PrivateKey, chainID int64) *EIP712Signer {
	return &EIP712Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		router:  AggregationRouterV6,
	}
}

func (s *EIP712Signer) Address() common.Address { return s.address }

func (s *EIP712Signer) ChainID() int64 { return s.chainID }

// TypedData returns the EIP-712 payload for order.
func (s *EIP712Signer) TypedData(order *LimitOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       limitOrderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.router,
		},
		Message: apitypes.TypedDataMessage{
			"salt":         order.Salt,
			"maker":        order.Maker,
			"receiver":     order.Receiver,
			"makerAsset":   order.MakerAsset,
			"takerAsset":   order.TakerAsset,
			"makingAmount": order.MakingAmount,
			"takingAmount": order.TakingAmount,
			"makerTraits":  order.MakerTraits,
		},
	}
}

func (s *EIP712Signer) SignOrder(order *LimitOrder) (string, string, error) {
	hash, _, err := apitypes.TypedDataAndHash(s.TypedData(order))
	if err != nil {
		return "", "", fmt.Errorf("failed to hash order: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign order: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return helpers.BytesToHex(sig), helpers.BytesToHex(hash), nil
}

// newSalt returns a random 96 bit salt as a decimal string.
func newSalt() (string, error) {
	b, err := helpers.GenerateSecureRandom(12)
	if err != nil {
		return "", err
	}
	return new(big.Int).SetBytes(b).String(), nil
}

// assetAddress is the token address used for an asset inside a limit order.
// XRP has no EVM representation and is carried as the zero address.
func assetAddress(asset string) string {
	if asset == "ETH" {
		return NativeTokenAddress
	}
	return common.Address{}.Hex()
}
