package fusion

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

func testLimitOrder() *LimitOrder {
	return &LimitOrder{
		Salt:         "123456789",
		MakerAsset:   NativeTokenAddress,
		TakerAsset:   assetAddress("XRP"),
		Maker:        "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Receiver:     "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MakingAmount: "1000000000000000000",
		TakingAmount: "4000000000",
		MakerTraits:  defaultMakerTraits,
	}
}

func TestSignOrderRecoversMaker(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s := NewEIP712Signer(key, 11155111)

	sigHex, hashHex, err := s.SignOrder(testLimitOrder())
	if err != nil {
		t.Fatalf("SignOrder() error = %v", err)
	}

	sig, err := helpers.HexToBytes(sigHex)
	if err != nil || len(sig) != 65 {
		t.Fatalf("signature = %s (%v)", sigHex, err)
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Errorf("v = %d, want 27 or 28", v)
	}
	hash, err := helpers.HexToBytes(hashHex)
	if err != nil || len(hash) != 32 {
		t.Fatalf("hash = %s (%v)", hashHex, err)
	}

	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("SigToPub() error = %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != s.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}
}

func TestSignOrderHashDependsOnDomain(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	order := testLimitOrder()

	_, h1, err := NewEIP712Signer(key, 1).SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder() error = %v", err)
	}
	_, h2, _ := NewEIP712Signer(key, 1).SignOrder(order)
	_, h3, _ := NewEIP712Signer(key, 11155111).SignOrder(order)

	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if h1 == h3 {
		t.Error("hash ignores chain id")
	}

	order.Salt = "987654321"
	_, h4, _ := NewEIP712Signer(key, 1).SignOrder(order)
	if h1 == h4 {
		t.Error("hash ignores salt")
	}
}

func TestNewSalt(t *testing.T) {
	a, err := newSalt()
	if err != nil {
		t.Fatalf("newSalt() error = %v", err)
	}
	b, _ := newSalt()
	if a == b || a == "" {
		t.Errorf("salts %q and %q", a, b)
	}
}
