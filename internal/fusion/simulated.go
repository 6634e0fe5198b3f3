package fusion

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
)

type simOrder struct {
	order      ActiveOrder
	secretHash []byte
	polls      int
	secrets    int
}

// SimulatedEndpoint is an in-process relayer. With AutoAdvance set every
// GetActiveOrders call moves each live order one step: pending, active,
// escrows deployed, finality, then filled once the secret is in.
type SimulatedEndpoint struct {
	mu     sync.Mutex
	clock  clock.Clock
	orders map[string]*simOrder
	seq    []string

	autoAdvance bool
	matchAfter  int

	submitErr error
	activeErr error
	secretErr error
}

// NewSimulatedEndpoint creates a relayer that matches orders after
// matchAfter polls when autoAdvance is set.
func NewSimulatedEndpoint(clk clock.Clock, autoAdvance bool, matchAfter int) *SimulatedEndpoint {
	if clk == nil {
		clk = clock.New()
	}
	return &SimulatedEndpoint{
		clock:       clk,
		orders:      make(map[string]*simOrder),
		autoAdvance: autoAdvance,
		matchAfter:  matchAfter,
	}
}

// SetErrors injects failures for subsequent calls. Nil clears them.
func (s *SimulatedEndpoint) SetErrors(submit, active, secret error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr, s.activeErr, s.secretErr = submit, active, secret
}

func (s *SimulatedEndpoint) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitErr != nil {
		return "", s.submitErr
	}
	if len(req.SecretHashes) != 1 {
		return "", fmt.Errorf("expected one secret hash, got %d", len(req.SecretHashes))
	}
	secretHash, err := helpers.HexToBytes(req.SecretHashes[0])
	if err != nil {
		return "", fmt.Errorf("bad secret hash: %w", err)
	}

	hash := "0x" + uuid.New().String()
	now := s.clock.Now().UnixMilli()
	s.orders[hash] = &simOrder{
		order: ActiveOrder{
			OrderHash: hash,
			Status:    swap.RemotePending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		secretHash: secretHash,
	}
	s.seq = append(s.seq, hash)
	return hash, nil
}

func (s *SimulatedEndpoint) GetActiveOrders(ctx context.Context) ([]ActiveOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeErr != nil {
		return nil, s.activeErr
	}

	out := make([]ActiveOrder, 0, len(s.seq))
	for _, hash := range s.seq {
		o := s.orders[hash]
		if s.autoAdvance {
			s.step(o)
		}
		out = append(out, o.order)
	}
	return out, nil
}

// step advances one simulated order.
// NOTE: Caller must hold s.mu.
func (s *SimulatedEndpoint) step(o *simOrder) {
	a := &o.order
	if a.Status == swap.RemoteFilled || a.Status == swap.RemoteCancelled {
		return
	}
	o.polls++
	switch {
	case a.Status == swap.RemotePending:
		if o.polls >= s.matchAfter {
			a.Status = swap.RemoteActive
		}
	case a.SrcEscrowAddress == "":
		a.SrcEscrowAddress = "0x" + uuid.New().String()
		a.DstEscrowAddress = "r" + uuid.New().String()
	case !a.ChainFinality:
		a.ChainFinality = true
	case a.SecretSubmitted:
		a.Status = swap.RemoteFilled
	}
	a.UpdatedAt = s.clock.Now().UnixMilli()
}

func (s *SimulatedEndpoint) SubmitSecret(ctx context.Context, orderHash string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderHash)
	}
	o.secrets++
	if s.secretErr != nil {
		return s.secretErr
	}
	if !hashlock.VerifySecret(secret, o.secretHash, hashlock.SHA256) {
		return fmt.Errorf("secret does not match order %s", orderHash)
	}
	o.order.SecretSubmitted = true
	o.order.UpdatedAt = s.clock.Now().UnixMilli()
	return nil
}

func (s *SimulatedEndpoint) CancelOrder(ctx context.Context, orderHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderHash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderHash)
	}
	if o.order.Status == swap.RemoteFilled {
		return fmt.Errorf("order %s already filled", orderHash)
	}
	o.order.Status = swap.RemoteCancelled
	return nil
}

// Update edits an order in place.
func (s *SimulatedEndpoint) Update(orderHash string, fn func(*ActiveOrder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderHash]; ok {
		fn(&o.order)
	}
}

// Order returns a copy of the order.
func (s *SimulatedEndpoint) Order(orderHash string) (ActiveOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderHash]
	if !ok {
		return ActiveOrder{}, false
	}
	return o.order, true
}

// SecretSubmissions counts SubmitSecret calls for the order, failed ones
// included.
func (s *SimulatedEndpoint) SecretSubmissions(orderHash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderHash]; ok {
		return o.secrets
	}
	return 0
}
