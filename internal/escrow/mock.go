package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
)

// MockState is the lifecycle of an in-memory escrow.
type MockState string

const (
	MockActive    MockState = "active"
	MockFinished  MockState = "finished"
	MockCancelled MockState = "cancelled"
)

// MockEscrow is one escrow held by a MockAdapter.
type MockEscrow struct {
	Ref         Ref
	Destination string
	Amount      decimal.Decimal
	Lock        hashlock.Lock
	FinishAfter time.Time
	CancelAfter time.Time
	State       MockState
}

// MockAdapter is an in-memory ledger. It backs tests and the daemon's
// simulate mode.
type MockAdapter struct {
	mu      sync.Mutex
	chain   Chain
	owner   string
	seq     uint32
	escrows map[string]*MockEscrow

	// Injected failures, returned (wrapped in ErrEscrowFailed) when set.
	CreateErr error
	FinishErr error
	CancelErr error

	// Now enables time window enforcement when set.
	Now func() time.Time

	CancelCalls []Ref
}

// NewMockAdapter creates a mock ledger for chain whose escrows are owned by owner.
func NewMockAdapter(chain Chain, owner string) *MockAdapter {
	return &MockAdapter{
		chain:   chain,
		owner:   owner,
		escrows: make(map[string]*MockEscrow),
	}
}

func (m *MockAdapter) Chain() Chain { return m.chain }

func (m *MockAdapter) CreateEscrow(ctx context.Context, destination string, amount decimal.Decimal,
	lock hashlock.Lock, finishAfter, cancelAfter time.Time) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return Ref{}, fmt.Errorf("%w: %s create: %v", ErrEscrowFailed, m.chain, m.CreateErr)
	}
	if !amount.IsPositive() {
		return Ref{}, fmt.Errorf("%w: non-positive amount %s", ErrEscrowFailed, amount)
	}
	if !cancelAfter.After(finishAfter) {
		return Ref{}, fmt.Errorf("%w: cancelAfter must follow finishAfter", ErrEscrowFailed)
	}

	m.seq++
	ref := Ref{
		Chain:    m.chain,
		ID:       uuid.NewString(),
		Owner:    m.owner,
		Sequence: m.seq,
		TxHash:   mockTxHash(),
	}
	m.escrows[ref.ID] = &MockEscrow{
		Ref:         ref,
		Destination: destination,
		Amount:      amount,
		Lock:        lock,
		FinishAfter: finishAfter,
		CancelAfter: cancelAfter,
		State:       MockActive,
	}
	return ref, nil
}

func (m *MockAdapter) FinishEscrow(ctx context.Context, owner string, ref Ref, lock hashlock.Lock, secret []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FinishErr != nil {
		return "", fmt.Errorf("%w: %s finish: %v", ErrEscrowFailed, m.chain, m.FinishErr)
	}
	e, ok := m.escrows[ref.ID]
	if !ok {
		return "", fmt.Errorf("%w: escrow %s not found", ErrEscrowFailed, ref.ID)
	}
	if e.State != MockActive {
		return "", fmt.Errorf("%w: escrow %s is %s", ErrEscrowFailed, ref.ID, e.State)
	}
	if !hashlock.VerifySecret(secret, e.Lock.Hash, e.Lock.Algorithm) {
		return "", fmt.Errorf("%w: fulfillment does not match condition", ErrEscrowFailed)
	}
	if m.Now != nil {
		now := m.Now()
		if now.Before(e.FinishAfter) || !now.Before(e.CancelAfter) {
			return "", fmt.Errorf("%w: escrow %s not finishable at %s", ErrEscrowFailed, ref.ID, now.UTC().Format(time.RFC3339))
		}
	}

	e.State = MockFinished
	return mockTxHash(), nil
}

func (m *MockAdapter) CancelEscrow(ctx context.Context, owner string, ref Ref) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls = append(m.CancelCalls, ref)
	if m.CancelErr != nil {
		return "", fmt.Errorf("%w: %s cancel: %v", ErrEscrowFailed, m.chain, m.CancelErr)
	}
	e, ok := m.escrows[ref.ID]
	if !ok {
		return "", fmt.Errorf("%w: escrow %s not found", ErrEscrowFailed, ref.ID)
	}
	if e.State != MockActive {
		return "", fmt.Errorf("%w: escrow %s is %s", ErrEscrowFailed, ref.ID, e.State)
	}
	if m.Now != nil && m.Now().Before(e.CancelAfter) {
		return "", fmt.Errorf("%w: escrow %s not yet cancellable", ErrEscrowFailed, ref.ID)
	}

	e.State = MockCancelled
	return mockTxHash(), nil
}

// Escrow returns a copy of the escrow with the given ID.
func (m *MockAdapter) Escrow(id string) (MockEscrow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return MockEscrow{}, false
	}
	return *e, true
}

// Count returns how many escrows were created.
func (m *MockAdapter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.escrows)
}

func mockTxHash() string {
	id := uuid.New()
	return fmt.Sprintf("%X", id[:])
}
