// Package htlc tests.
//
// Integration tests require a node with the contract deployed:
//
//	TEST_RPC_URL=http://localhost:8545 TEST_CONTRACT_ADDRESS=0x... go test ./internal/contracts/htlc/... -run TestIntegration
package htlc

import (
	"context"
	"crypto/sha256"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSwapState(t *testing.T) {
	tests := []struct {
		state    SwapState
		expected string
	}{
		{SwapStateEmpty, "empty"},
		{SwapStateActive, "active"},
		{SwapStateClaimed, "claimed"},
		{SwapStateRefunded, "refunded"},
		{SwapState(99), "unknown"},
	}

	for _, tc := range tests {
		if tc.state.String() != tc.expected {
			t.Errorf("SwapState(%d).String() = %s, want %s", tc.state, tc.state.String(), tc.expected)
		}
	}
}

func TestContractABI(t *testing.T) {
	parsed, err := MetaData.GetAbi()
	if err != nil {
		t.Fatalf("GetAbi failed: %v", err)
	}

	for _, m := range []string{"createSwapNative", "claim", "refund", "computeSwapId", "getSwap", "canRefund"} {
		if _, ok := parsed.Methods[m]; !ok {
			t.Errorf("method %s missing from ABI", m)
		}
	}
	for _, e := range []string{"SwapCreated", "SwapClaimed", "SwapRefunded"} {
		if _, ok := parsed.Events[e]; !ok {
			t.Errorf("event %s missing from ABI", e)
		}
	}

	var swapID, hash [32]byte
	data, err := parsed.Pack("createSwapNative", swapID, common.HexToAddress("0x01"), hash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Pack createSwapNative failed: %v", err)
	}
	if len(data) != 4+4*32 {
		t.Errorf("calldata length = %d, want %d", len(data), 4+4*32)
	}
}

func TestSecretFromLogs(t *testing.T) {
	addr := common.HexToAddress("0x628c677e7b8889e64564d3f381565a9e6656aade")
	bound, err := newContract(addr, nil)
	if err != nil {
		t.Fatalf("newContract failed: %v", err)
	}
	c := &Client{contract: bound, contractAddress: addr}

	var secret [32]byte
	secret[0], secret[31] = 0xAA, 0x55
	swapID := sha256.Sum256(secret[:])

	log := &types.Log{
		Address: addr,
		Topics: []common.Hash{
			bound.abi.Events["SwapClaimed"].ID,
			common.BytesToHash(swapID[:]),
			common.BytesToHash(common.HexToAddress("0x02").Bytes()),
		},
		Data: secret[:],
	}
	other := &types.Log{Address: common.HexToAddress("0x03")}

	got, err := c.secretFromLogs([]*types.Log{other, log})
	if err != nil {
		t.Fatalf("secretFromLogs failed: %v", err)
	}
	if got != secret {
		t.Errorf("secret = %x, want %x", got, secret)
	}

	if _, err := c.secretFromLogs([]*types.Log{other}); err == nil {
		t.Error("expected error when no SwapClaimed log present")
	}
}

func TestNewNonce(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	b, _ := NewNonce()
	if a.Cmp(b) == 0 {
		t.Error("two nonces are equal")
	}
}

func TestIntegrationCreateAndClaimNativeSwap(t *testing.T) {
	rpcURL := os.Getenv("TEST_RPC_URL")
	contractAddr := os.Getenv("TEST_CONTRACT_ADDRESS")
	if rpcURL == "" || contractAddr == "" {
		t.Skip("TEST_RPC_URL/TEST_CONTRACT_ADDRESS not set, skipping integration test")
	}

	// Anvil accounts 0 and 1.
	senderKey, _ := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	receiverKey, _ := crypto.HexToECDSA("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")

	ctx := context.Background()
	client, err := Dial(ctx, rpcURL, common.HexToAddress(contractAddr))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	var secret [32]byte
	copy(secret[:], []byte("integration-secret-0123456789abc"))
	secretHash := sha256.Sum256(secret[:])
	sender := AddressFromPrivateKey(senderKey)
	receiver := AddressFromPrivateKey(receiverKey)
	timelock := big.NewInt(time.Now().Add(2 * time.Hour).Unix())
	amount := big.NewInt(1e16)
	nonce, _ := NewNonce()

	swapID, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, nonce)
	if err != nil {
		t.Fatalf("ComputeSwapID failed: %v", err)
	}

	tx, err := client.CreateSwapNative(ctx, senderKey, swapID, receiver, secretHash, timelock, amount)
	if err != nil {
		t.Fatalf("CreateSwapNative failed: %v", err)
	}
	if _, err := client.WaitForTx(ctx, tx); err != nil {
		t.Fatalf("WaitForTx failed: %v", err)
	}

	swap, err := client.GetSwap(ctx, swapID)
	if err != nil {
		t.Fatalf("GetSwap failed: %v", err)
	}
	if !swap.IsActive() {
		t.Fatalf("swap state = %s, want active", swap.State)
	}

	claimTx, err := client.Claim(ctx, receiverKey, swapID, secret)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := client.WaitForTx(ctx, claimTx); err != nil {
		t.Fatalf("WaitForTx(claim) failed: %v", err)
	}

	revealed, err := client.SecretFromClaim(ctx, claimTx.Hash())
	if err != nil {
		t.Fatalf("SecretFromClaim failed: %v", err)
	}
	if revealed != secret {
		t.Errorf("revealed secret mismatch")
	}
}
