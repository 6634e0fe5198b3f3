package hashlock

import (
	"fmt"
	"time"
)

// PreparationBuffer is the delay before a freshly built window becomes claimable.
const PreparationBuffer = 300 * time.Second

// Window bounds when an escrow may be finished and when it may be cancelled.
// CancelAfter is always strictly after FinishAfter.
type Window struct {
	FinishAfter time.Time `json:"finish_after"`
	CancelAfter time.Time `json:"cancel_after"`

	// ReferenceTime pins "now" for deterministic evaluation.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// State is the derived timelock state of a window.
type State string

const (
	StateLocked     State = "LOCKED"
	StateExecutable State = "EXECUTABLE"
	StateExpired    State = "EXPIRED"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
)

// External statuses that override the time based computation.
const (
	ExternalCompleted = "completed"
	ExternalCancelled = "cancelled"
)

// Evaluation is the result of EvaluateTimelock.
type Evaluation struct {
	State         State         `json:"state"`
	CanExecute    bool          `json:"can_execute"`
	CanCancel     bool          `json:"can_cancel"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// NewWindow validates an explicit finish/cancel pair.
func NewWindow(finishAfter, cancelAfter time.Time) (Window, error) {
	if !cancelAfter.After(finishAfter) {
		return Window{}, fmt.Errorf("%w: cancelAfter %s must be after finishAfter %s",
			ErrConfiguration, cancelAfter.UTC().Format(time.RFC3339), finishAfter.UTC().Format(time.RFC3339))
	}
	return Window{FinishAfter: finishAfter, CancelAfter: cancelAfter}, nil
}

// BuildWindow derives a window from now: claimable after the preparation
// buffer, cancellable after swapDuration plus safetyMargin.
func BuildWindow(now time.Time, swapDuration, safetyMargin time.Duration) (Window, error) {
	return NewWindow(now.Add(PreparationBuffer), now.Add(swapDuration+safetyMargin))
}

// EvaluateTimelock computes the window state at now. A completed or cancelled
// external status wins over the clock.
func EvaluateTimelock(w Window, externalStatus string, now time.Time) Evaluation {
	switch externalStatus {
	case ExternalCompleted:
		return Evaluation{State: StateCompleted}
	case ExternalCancelled:
		return Evaluation{State: StateCancelled}
	}

	if w.ReferenceTime != nil {
		now = *w.ReferenceTime
	}

	switch {
	case now.Before(w.FinishAfter):
		return Evaluation{State: StateLocked, TimeRemaining: w.FinishAfter.Sub(now)}
	case now.Before(w.CancelAfter):
		return Evaluation{State: StateExecutable, CanExecute: true, TimeRemaining: w.CancelAfter.Sub(now)}
	default:
		return Evaluation{State: StateExpired, CanCancel: true}
	}
}
