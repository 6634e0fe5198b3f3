package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

type fakeHTLC struct {
	nonce      uint64
	created    *big.Int
	timelock   *big.Int
	claimed    [32]byte
	refunded   bool
	locked     bool // refund timelock not reached
	waitErr    error
	lastSwapID [32]byte
}

func (f *fakeHTLC) tx() *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, GasPrice: big.NewInt(1), Gas: 21000, Value: big.NewInt(0)})
}

func (f *fakeHTLC) ComputeSwapID(ctx context.Context, sender, receiver, token common.Address,
	amount *big.Int, secretHash [32]byte, timelock, nonce *big.Int) ([32]byte, error) {
	var id [32]byte
	copy(id[:], crypto.Keccak256(sender.Bytes(), receiver.Bytes(), secretHash[:], nonce.Bytes()))
	f.lastSwapID = id
	return id, nil
}

func (f *fakeHTLC) CreateSwapNative(ctx context.Context, key *ecdsa.PrivateKey, swapID [32]byte,
	receiver common.Address, secretHash [32]byte, timelock, amount *big.Int) (*types.Transaction, error) {
	f.created = amount
	f.timelock = timelock
	return f.tx(), nil
}

func (f *fakeHTLC) Claim(ctx context.Context, key *ecdsa.PrivateKey, swapID, secret [32]byte) (*types.Transaction, error) {
	f.claimed = secret
	return f.tx(), nil
}

func (f *fakeHTLC) Refund(ctx context.Context, key *ecdsa.PrivateKey, swapID [32]byte) (*types.Transaction, error) {
	f.refunded = true
	return f.tx(), nil
}

func (f *fakeHTLC) CanRefund(ctx context.Context, swapID [32]byte) (bool, error) {
	return !f.locked, nil
}

func (f *fakeHTLC) WaitForTx(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

func TestEVMAdapterCreateFinish(t *testing.T) {
	key, _ := crypto.GenerateKey()
	f := &fakeHTLC{}
	a := NewEVMAdapter(f, key)
	c, lock := newTestLock(t)
	ctx := context.Background()

	finish := time.Unix(1_700_000_000, 0)
	cancel := finish.Add(24 * time.Hour)
	ref, err := a.CreateEscrow(ctx, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", decimal.RequireFromString("0.01"), lock, finish, cancel)
	if err != nil {
		t.Fatalf("CreateEscrow() error = %v", err)
	}
	if f.created.String() != "10000000000000000" {
		t.Errorf("amount = %s wei", f.created)
	}
	if f.timelock.Int64() != cancel.Unix() {
		t.Errorf("timelock = %d, want cancelAfter %d", f.timelock.Int64(), cancel.Unix())
	}
	if ref.ID != common.Hash(f.lastSwapID).Hex() || ref.Owner != a.Address().Hex() {
		t.Errorf("unexpected ref %+v", ref)
	}

	if _, err := a.FinishEscrow(ctx, ref.Owner, ref, lock, c.Secret); err != nil {
		t.Fatalf("FinishEscrow() error = %v", err)
	}
	if f.claimed == ([32]byte{}) {
		t.Error("claim not sent with secret")
	}

	if _, err := a.FinishEscrow(ctx, ref.Owner, ref, lock, make([]byte, 32)); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("wrong secret: expected ErrEscrowFailed, got %v", err)
	}
}

func TestEVMAdapterRejects(t *testing.T) {
	key, _ := crypto.GenerateKey()
	f := &fakeHTLC{}
	a := NewEVMAdapter(f, key)
	_, lock := newTestLock(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := a.CreateEscrow(ctx, "rNotAnEthAddress", decimal.NewFromInt(1), lock, now, now.Add(time.Hour)); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("bad destination: expected ErrEscrowFailed, got %v", err)
	}
	if _, err := a.CancelEscrow(ctx, "", Ref{ID: "0x1234"}); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("bad swap id: expected ErrEscrowFailed, got %v", err)
	}

	f.waitErr = errors.New("reverted")
	dest := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	if _, err := a.CreateEscrow(ctx, dest, decimal.NewFromInt(1), lock, now, now.Add(time.Hour)); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("reverted tx: expected ErrEscrowFailed, got %v", err)
	}
}

func TestEVMAdapterRefund(t *testing.T) {
	key, _ := crypto.GenerateKey()
	f := &fakeHTLC{}
	a := NewEVMAdapter(f, key)

	id := common.HexToHash("0x01").Hex()
	if _, err := a.CancelEscrow(context.Background(), a.Address().Hex(), Ref{ID: id}); err != nil {
		t.Fatalf("CancelEscrow() error = %v", err)
	}
	if !f.refunded {
		t.Error("refund not sent")
	}
}

func TestEVMAdapterRefundBeforeTimelock(t *testing.T) {
	key, _ := crypto.GenerateKey()
	f := &fakeHTLC{locked: true}
	a := NewEVMAdapter(f, key)

	id := common.HexToHash("0x01").Hex()
	_, err := a.CancelEscrow(context.Background(), a.Address().Hex(), Ref{ID: id})
	if !errors.Is(err, ErrEscrowFailed) {
		t.Fatalf("CancelEscrow() error = %v, want ErrEscrowFailed", err)
	}
	if f.refunded {
		t.Error("refund sent before the timelock")
	}
}
