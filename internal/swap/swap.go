// Package swap coordinates a single two-party atomic swap across an EVM chain
// and the XRP Ledger.
//
// The coordinator owns every Record: it picks the escrow creation order,
// derives the asymmetric timelocks, reveals the secret on the destination
// chain and runs compensating cancellation when a step fails.
package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
)

// Common errors
var (
	ErrCoordination      = errors.New("swap coordination failed")
	ErrMissingSecret     = errors.New("secret not available")
	ErrSwapNotFound      = errors.New("swap not found")
	ErrInvalidTransition = errors.New("invalid swap status transition")
	ErrInvalidDirection  = errors.New("invalid swap direction")
)

// Direction is which asset the maker gives up.
type Direction string

const (
	ETHToXRP Direction = "ETH_to_XRP"
	XRPToETH Direction = "XRP_to_ETH"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case ETHToXRP, XRPToETH:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Chains returns the source and destination chain of the direction.
func (d Direction) Chains() (source, destination escrow.Chain) {
	if d == XRPToETH {
		return escrow.ChainXRP, escrow.ChainEthereum
	}
	return escrow.ChainEthereum, escrow.ChainXRP
}

// Status is the lifecycle of a swap record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"

	// StatusRefunding holds an abandoned swap until every escrow it created
	// has been cancelled on chain.
	StatusRefunding Status = "refunding"
)

var validTransitions = map[Status][]Status{
	StatusPending:   {StatusLocked, StatusCancelled, StatusExpired, StatusRefunding},
	StatusLocked:    {StatusCompleted, StatusCancelled, StatusExpired, StatusRefunding},
	StatusRefunding: {StatusCancelled, StatusExpired},
	StatusCompleted: {},
	StatusExpired:   {},
	StatusCancelled: {},
}

// IsTerminal returns true for statuses that retire a record.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is one atomic swap. The secret is never part of it.
type Record struct {
	ID               string          `json:"id"`
	Direction        Direction       `json:"direction"`
	SourceChain      escrow.Chain    `json:"source_chain"`
	DestinationChain escrow.Chain    `json:"destination_chain"`
	FromAmount       decimal.Decimal `json:"from_amount"`
	ToAmount         decimal.Decimal `json:"to_amount"`
	FromAsset        string          `json:"from_asset"`
	ToAsset          string          `json:"to_asset"`
	Lock             hashlock.Lock   `json:"lock"`
	TimeoutHours     int             `json:"timeout_hours"`

	// Timelock and SafetyMargin, when set, replace TimeoutHours: the
	// destination escrow closes Timelock after locking and the source escrow
	// SafetyMargin later.
	Timelock     time.Duration `json:"timelock,omitempty"`
	SafetyMargin time.Duration `json:"safety_margin,omitempty"`

	SourceWindow      hashlock.Window `json:"source_window"`
	DestinationWindow hashlock.Window `json:"destination_window"`

	MakerAddress    string `json:"maker_address"`
	TakerAddress    string `json:"taker_address,omitempty"`
	ReceiverAddress string `json:"receiver_address"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SourceEscrow      *escrow.Ref `json:"source_escrow,omitempty"`
	DestinationEscrow *escrow.Ref `json:"destination_escrow,omitempty"`
	RevealTx          string      `json:"reveal_tx,omitempty"`
	FailureReason     string      `json:"failure_reason,omitempty"`

	SourceRefundTx      string `json:"source_refund_tx,omitempty"`
	DestinationRefundTx string `json:"destination_refund_tx,omitempty"`
	// RefundOutcome is the status a refunding swap retires with.
	RefundOutcome Status `json:"refund_outcome,omitempty"`
}

// TransitionTo moves the record to a new status if the move is allowed.
func (r *Record) TransitionTo(next Status) error {
	allowed, ok := validTransitions[r.Status]
	if !ok {
		return fmt.Errorf("%w: unknown current status %s", ErrInvalidTransition, r.Status)
	}
	for _, s := range allowed {
		if s == next {
			r.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, r.Status, next)
}

// Clone returns a deep enough copy for handing records to readers.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Lock.Hash = append([]byte(nil), r.Lock.Hash...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.SourceEscrow != nil {
		ref := *r.SourceEscrow
		cp.SourceEscrow = &ref
	}
	if r.DestinationEscrow != nil {
		ref := *r.DestinationEscrow
		cp.DestinationEscrow = &ref
	}
	return &cp
}

// lifetime is how long after locking the source escrow stays open.
func (r *Record) lifetime() time.Duration {
	if r.Timelock > 0 {
		return r.Timelock + r.SafetyMargin
	}
	return time.Duration(r.TimeoutHours) * time.Hour
}

// refundLeg is one escrow of an abandoned swap that still holds funds.
type refundLeg struct {
	source bool
	ref    escrow.Ref
	window hashlock.Window
}

// unrefunded lists the escrows not cancelled yet, destination first.
func (r *Record) unrefunded() []refundLeg {
	var legs []refundLeg
	if r.DestinationEscrow != nil && r.DestinationRefundTx == "" {
		legs = append(legs, refundLeg{ref: *r.DestinationEscrow, window: r.DestinationWindow})
	}
	if r.SourceEscrow != nil && r.SourceRefundTx == "" {
		legs = append(legs, refundLeg{source: true, ref: *r.SourceEscrow, window: r.SourceWindow})
	}
	return legs
}

func (r *Record) markRefunded(leg refundLeg, tx string) {
	if leg.source {
		r.SourceRefundTx = tx
	} else {
		r.DestinationRefundTx = tx
	}
}

// StatusReport is the read-only view returned by Coordinator.Status.
type StatusReport struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

// Request describes a swap to prepare.
type Request struct {
	Direction       Direction
	FromAmount      decimal.Decimal
	ToAmount        decimal.Decimal
	MakerAddress    string
	TakerAddress    string
	ReceiverAddress string
	TimeoutHours    int

	// Timelock is the committed swap duration. When set, the destination
	// escrow becomes cancellable Timelock after locking and the source escrow
	// SafetyMargin after that. TimeoutHours is then ignored.
	Timelock     time.Duration
	SafetyMargin time.Duration

	// Commitment is generated when nil. The coordinator takes ownership of
	// the secret.
	Commitment *hashlock.Commitment
}
