package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
)

func newTestLock(t *testing.T) (*hashlock.Commitment, hashlock.Lock) {
	t.Helper()
	c, err := hashlock.GenerateCommitment(hashlock.SHA256, 32)
	if err != nil {
		t.Fatalf("GenerateCommitment() error = %v", err)
	}
	return c, c.Lock()
}

func TestMockAdapterLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMockAdapter(ChainXRP, "rOwner")
	c, lock := newTestLock(t)
	now := time.Now()

	ref, err := m.CreateEscrow(ctx, "rDest", decimal.NewFromInt(50), lock, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateEscrow() error = %v", err)
	}
	if ref.Chain != ChainXRP || ref.Sequence != 1 {
		t.Errorf("unexpected ref %+v", ref)
	}

	wrong := make([]byte, 32)
	if _, err := m.FinishEscrow(ctx, ref.Owner, ref, lock, wrong); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("wrong secret: expected ErrEscrowFailed, got %v", err)
	}

	if _, err := m.FinishEscrow(ctx, ref.Owner, ref, lock, c.Secret); err != nil {
		t.Fatalf("FinishEscrow() error = %v", err)
	}
	e, _ := m.Escrow(ref.ID)
	if e.State != MockFinished {
		t.Errorf("state = %s, want finished", e.State)
	}

	if _, err := m.CancelEscrow(ctx, ref.Owner, ref); !errors.Is(err, ErrEscrowFailed) {
		t.Errorf("cancel after finish: expected ErrEscrowFailed, got %v", err)
	}
}

func TestMockAdapterInjectedFailure(t *testing.T) {
	m := NewMockAdapter(ChainEthereum, "0xowner")
	m.CreateErr = errors.New("rpc down")
	_, lock := newTestLock(t)
	now := time.Now()

	_, err := m.CreateEscrow(context.Background(), "0xdest", decimal.NewFromInt(1), lock, now, now.Add(time.Hour))
	if !errors.Is(err, ErrEscrowFailed) {
		t.Fatalf("expected ErrEscrowFailed, got %v", err)
	}
	if m.Count() != 0 {
		t.Error("failed create left an escrow behind")
	}
}

func TestMockAdapterTimeEnforcement(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMockAdapter(ChainXRP, "rOwner")
	m.Now = func() time.Time { return now }
	c, lock := newTestLock(t)

	ref, err := m.CreateEscrow(ctx, "rDest", decimal.NewFromInt(1), lock, now.Add(time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateEscrow() error = %v", err)
	}
	if _, err := m.FinishEscrow(ctx, ref.Owner, ref, lock, c.Secret); err == nil {
		t.Error("finish before finishAfter succeeded")
	}
	if _, err := m.CancelEscrow(ctx, ref.Owner, ref); err == nil {
		t.Error("cancel before cancelAfter succeeded")
	}

	now = now.Add(2 * time.Hour)
	if _, err := m.CancelEscrow(ctx, ref.Owner, ref); err != nil {
		t.Errorf("cancel after expiry failed: %v", err)
	}
	if len(m.CancelCalls) != 2 {
		t.Errorf("cancel calls = %d, want 2", len(m.CancelCalls))
	}
}

func TestChainAsset(t *testing.T) {
	if ChainEthereum.Asset() != "ETH" || ChainXRP.Asset() != "XRP" || Chain("sol").Asset() != "" {
		t.Error("unexpected asset mapping")
	}
}
