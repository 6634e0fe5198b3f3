// Package fusion manages cross-chain orders matched through a Fusion+ style
// relayer and settled by a paired atomic swap between Ethereum and the XRP
// Ledger.
package fusion

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// Common errors
var (
	ErrValidation          = errors.New("validation failed")
	ErrCounterpartyTimeout = errors.New("no resolver matched the order in time")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidStage        = errors.New("invalid order stage transition")
	ErrOrderCancelled      = errors.New("order cancelled")
	ErrAlreadyExecuting    = errors.New("order is already being executed")
)

// ValidationError carries the message shown to the user. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationErr(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Stage is the lifecycle of an order.
type Stage string

const (
	StageCreated   Stage = "created"
	StageLocked    Stage = "locked"
	StageExecuting Stage = "executing"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// forwardStages is the only path an order may take, one step at a time.
var forwardStages = []Stage{StageCreated, StageLocked, StageExecuting, StageCompleted}

// IsTerminal returns true for completed and failed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

func (s Stage) index() int {
	for i, st := range forwardStages {
		if st == s {
			return i
		}
	}
	return -1
}

// FeeQuote is the fee breakdown reported with an order, in source asset units.
type FeeQuote struct {
	Network           decimal.Decimal `json:"network"`
	Protocol          decimal.Decimal `json:"protocol"`
	ResolverIncentive decimal.Decimal `json:"resolver_incentive"`
	Priority          decimal.Decimal `json:"priority"`
	Total             decimal.Decimal `json:"total"`
}

// Order is a cross-chain order paired 1:1 with an atomic swap record.
type Order struct {
	ID            string          `json:"id"`
	SwapID        string          `json:"swap_id"`
	Direction     swap.Direction  `json:"direction"`
	SourceAmount  decimal.Decimal `json:"source_amount"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	SourceChain   escrow.Chain    `json:"source_chain"`
	TargetChain   escrow.Chain    `json:"target_chain"`
	UserAddress   string          `json:"user_address"`
	Lock          hashlock.Lock   `json:"lock"`
	Window        hashlock.Window `json:"window"`
	Fees          FeeQuote        `json:"fees"`
	QuoteID       string          `json:"quote_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Stage         Stage           `json:"stage"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Lock.Hash = append([]byte(nil), o.Lock.Hash...)
	return &cp
}

// transitionTo moves the order one step forward, or to failed from any
// non-terminal stage.
func (o *Order) transitionTo(next Stage) error {
	if o.Stage.IsTerminal() {
		return fmt.Errorf("%w: order already %s", ErrInvalidStage, o.Stage)
	}
	if next == StageFailed || next.index() == o.Stage.index()+1 {
		o.Stage = next
		return nil
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStage, o.Stage, next)
}

// advanceTo walks the order forward through every intermediate stage.
func (o *Order) advanceTo(target Stage) error {
	if target == StageFailed {
		return o.transitionTo(StageFailed)
	}
	if target.index() < 0 {
		return fmt.Errorf("%w: unknown stage %s", ErrInvalidStage, target)
	}
	for o.Stage.index() < target.index() {
		if err := o.transitionTo(forwardStages[o.Stage.index()+1]); err != nil {
			return err
		}
	}
	if o.Stage != target {
		return fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalidStage, o.Stage, target)
	}
	return nil
}

// Progress is the last observed execution progress of an order.
type Progress struct {
	OrderHash         string     `json:"order_hash"`
	SourceEscrow      string     `json:"source_escrow,omitempty"`
	DestinationEscrow string     `json:"destination_escrow,omitempty"`
	Stage             swap.Stage `json:"stage"`
	Percent           int        `json:"percent"`
	SecretSubmitted   bool       `json:"secret_submitted"`
	LastUpdate        time.Time  `json:"last_update"`
}

// Options tunes a single order.
type Options struct {
	// CustomTimelock replaces the default swap duration, in seconds.
	CustomTimelock int64 `json:"customTimelock,omitempty"`
	// SlippageTolerance replaces the rate tolerance when positive.
	SlippageTolerance float64 `json:"slippageTolerance,omitempty"`
	PriorityFee       string  `json:"priorityFee,omitempty"`
	ReceiverAddress   string  `json:"receiverAddress,omitempty"`
	TakerAddress      string  `json:"takerAddress,omitempty"`
	QuoteID           string  `json:"quoteId,omitempty"`
}

// CreateResult is returned by a successful CreateOrder.
type CreateResult struct {
	Order               *Order       `json:"order"`
	AtomicSwap          *swap.Record `json:"atomicSwap"`
	EstimatedCompletion time.Time    `json:"estimatedCompletion"`
}

// TransactionHashes names the source escrow and destination reveal
// transactions of a settled order.
type TransactionHashes struct {
	Source string `json:"sourceChain"`
	Target string `json:"targetChain"`
}

// Execution is returned by a successful MonitorAndExecute.
type Execution struct {
	CompletedOrder    *Order            `json:"completedOrder"`
	TransactionHashes TransactionHashes `json:"transactionHashes"`
}

// ProgressFunc receives execution milestones.
type ProgressFunc func(stage string, percent int, details map[string]any)
