// Package swap - Timeout monitoring for the Coordinator.
package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
)

// TimeoutCheckResult is the outcome of one escrow refund attempt.
type TimeoutCheckResult struct {
	SwapID          string
	Chain           escrow.Chain
	Escrow          string
	CancelAfter     time.Time
	CanRefund       bool
	RefundBroadcast bool
	RefundTx        string
	Error           error
}

// CheckTimeouts expires swaps whose windows have run out and refunds every
// escrow of a refunding swap whose cancel window is open. A refunding swap
// retires once all of its escrows are refunded.
func (c *Coordinator) CheckTimeouts(ctx context.Context) []TimeoutCheckResult {
	type job struct {
		swapID string
		legs   []refundLeg
	}

	now := c.clock.Now()
	var results []TimeoutCheckResult
	var jobs []job

	c.mu.Lock()
	for id, rec := range c.active {
		if c.busy[id] {
			continue
		}

		switch rec.Status {
		case StatusPending:
			if now.Before(rec.CreatedAt.Add(rec.lifetime())) {
				continue
			}
			rec.FailureReason = "swap was never locked before its timeout"
			c.finish(rec, StatusExpired)
			continue
		case StatusLocked:
			if !hashlock.EvaluateTimelock(rec.DestinationWindow, "", now).CanCancel {
				continue
			}
			c.abandon(rec, "destination window expired before the secret was revealed", StatusExpired)
		}
		if rec.Status != StatusRefunding {
			continue
		}

		var due []refundLeg
		for _, leg := range rec.unrefunded() {
			if hashlock.EvaluateTimelock(leg.window, "", now).CanCancel {
				due = append(due, leg)
				continue
			}
			results = append(results, TimeoutCheckResult{
				SwapID:      id,
				Chain:       leg.ref.Chain,
				Escrow:      leg.ref.ID,
				CancelAfter: leg.window.CancelAfter,
			})
		}
		if len(due) > 0 {
			c.busy[id] = true
			jobs = append(jobs, job{swapID: id, legs: due})
		}
	}
	c.mu.Unlock()

	for _, j := range jobs {
		results = append(results, c.refund(ctx, j.swapID, j.legs)...)
	}
	return results
}

// refund cancels legs of a busy swap and commits the outcome.
func (c *Coordinator) refund(ctx context.Context, swapID string, legs []refundLeg) []TimeoutCheckResult {
	results := c.attemptRefunds(ctx, swapID, legs)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, swapID)

	rec, ok := c.active[swapID]
	if !ok {
		return results
	}
	c.applyRefunds(rec, legs, results)
	if len(rec.unrefunded()) == 0 {
		c.finish(rec, rec.RefundOutcome)
	} else {
		c.persist(rec)
	}
	return results
}

// attemptRefunds submits a cancel for every leg. It never holds c.mu.
func (c *Coordinator) attemptRefunds(ctx context.Context, swapID string, legs []refundLeg) []TimeoutCheckResult {
	results := make([]TimeoutCheckResult, len(legs))
	for i, leg := range legs {
		res := TimeoutCheckResult{
			SwapID:      swapID,
			Chain:       leg.ref.Chain,
			Escrow:      leg.ref.ID,
			CancelAfter: leg.window.CancelAfter,
			CanRefund:   hashlock.EvaluateTimelock(leg.window, "", c.clock.Now()).CanCancel,
		}

		adapter, ok := c.adapters[leg.ref.Chain]
		if !ok {
			res.Error = fmt.Errorf("no adapter for chain %s", leg.ref.Chain)
			results[i] = res
			continue
		}
		tx, err := adapter.CancelEscrow(ctx, leg.ref.Owner, leg.ref)
		if err != nil {
			res.Error = fmt.Errorf("failed to refund: %w", err)
		} else {
			res.RefundBroadcast = true
			res.RefundTx = tx
		}
		results[i] = res
	}
	return results
}

// applyRefunds records the refund transactions that went through.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) applyRefunds(rec *Record, legs []refundLeg, results []TimeoutCheckResult) {
	for i, res := range results {
		if !res.RefundBroadcast {
			c.log.Warn("Escrow refund deferred", "swap_id", rec.ID, "chain", res.Chain, "escrow", res.Escrow,
				"cancel_after", res.CancelAfter, "error", res.Error)
			continue
		}
		rec.markRefunded(legs[i], res.RefundTx)
		c.log.Info("Escrow refunded", "swap_id", rec.ID, "chain", res.Chain, "escrow", res.Escrow, "tx", res.RefundTx)
		c.emitEvent(rec.ID, EventRefunded, res)
	}
}

// StartTimeoutMonitor runs CheckTimeouts every interval until ctx is done.
func (c *Coordinator) StartTimeoutMonitor(ctx context.Context, interval time.Duration) {
	ticker := c.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, res := range c.CheckTimeouts(ctx) {
					if res.CanRefund && res.Error != nil {
						c.log.Warn("Timeout refund failed", "swap_id", res.SwapID, "chain", res.Chain, "error", res.Error)
					}
				}
			}
		}
	}()
}

// ForceRefund submits cancels for a refunding swap's escrows without waiting
// for their windows. Ledgers still reject cancels before CancelAfter.
func (c *Coordinator) ForceRefund(ctx context.Context, swapID string) ([]TimeoutCheckResult, error) {
	c.mu.Lock()
	rec, err := c.idle(swapID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if rec.Status != StatusRefunding {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot refund a %s swap", ErrInvalidTransition, rec.Status)
	}
	c.busy[swapID] = true
	legs := rec.unrefunded()
	c.mu.Unlock()

	return c.refund(ctx, swapID, legs), nil
}
