package swap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/storage"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// Defaults applied by NewCoordinator.
const (
	DefaultTimeoutHours = 24
	DefaultFinishDelay  = time.Hour

	// DefaultMonitorInterval is how often the timeout monitor runs.
	DefaultMonitorInterval = time.Minute

	// destinationLead is how much earlier the destination escrow becomes
	// cancellable than the source escrow.
	destinationLead = 2 * time.Hour
)

// Event types emitted to handlers.
const (
	EventPrepared  = "swap_prepared"
	EventLocked    = "swap_locked"
	EventCompleted = "swap_completed"
	EventCancelled = "swap_cancelled"
	EventExpired   = "swap_expired"
	EventRefunding = "swap_refunding"
	EventRefunded  = "swap_refunded"
)

// SwapEvent represents an event that occurred during a swap.
type SwapEvent struct {
	SwapID    string
	EventType string
	Data      interface{}
	Timestamp time.Time
}

// EventHandler is called when swap events occur.
type EventHandler func(event SwapEvent)

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	Adapters []escrow.Adapter
	Store    *storage.Storage // optional

	Clock        clock.Clock
	TimeoutHours int
	// FinishDelay is how long after locking both escrows become claimable.
	// Zero means claimable immediately.
	FinishDelay *time.Duration
}

// Coordinator manages swap records and drives their escrows. Ledger calls
// run without mu held.
type Coordinator struct {
	mu sync.RWMutex

	adapters map[escrow.Chain]escrow.Adapter
	store    *storage.Storage
	clock    clock.Clock

	timeoutHours int
	finishDelay  time.Duration

	active  map[string]*Record
	history map[string]*Record
	secrets map[string][]byte
	// busy marks swaps whose escrows are being driven outside mu.
	busy map[string]bool

	eventHandlers []EventHandler

	log *logging.Logger
}

// NewCoordinator creates a new swap coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		adapters:     make(map[escrow.Chain]escrow.Adapter),
		store:        cfg.Store,
		clock:        cfg.Clock,
		timeoutHours: cfg.TimeoutHours,
		finishDelay:  DefaultFinishDelay,
		active:       make(map[string]*Record),
		history:      make(map[string]*Record),
		secrets:      make(map[string][]byte),
		busy:         make(map[string]bool),
		log:          logging.GetDefault().Component("swap"),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.timeoutHours == 0 {
		c.timeoutHours = DefaultTimeoutHours
	}
	if cfg.FinishDelay != nil {
		c.finishDelay = *cfg.FinishDelay
	}
	for _, a := range cfg.Adapters {
		c.adapters[a.Chain()] = a
	}
	return c
}

// OnEvent registers an event handler.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

// emitEvent emits an event to all handlers.
// NOTE: Caller must hold c.mu (read or write lock).
func (c *Coordinator) emitEvent(swapID, eventType string, data interface{}) {
	event := SwapEvent{
		SwapID:    swapID,
		EventType: eventType,
		Data:      data,
		Timestamp: c.clock.Now(),
	}
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)

	for _, handler := range handlers {
		go handler(event)
	}
}

// Prepare registers a pending record for the request's commitment. No funds
// move.
func (c *Coordinator) Prepare(req *Request) (*Record, error) {
	if _, err := ParseDirection(string(req.Direction)); err != nil {
		return nil, err
	}
	if !req.FromAmount.IsPositive() || !req.ToAmount.IsPositive() {
		return nil, fmt.Errorf("%w: amounts must be positive", ErrCoordination)
	}
	if req.MakerAddress == "" {
		return nil, fmt.Errorf("%w: maker address required", ErrCoordination)
	}

	commitment := req.Commitment
	if commitment == nil {
		var err error
		commitment, err = hashlock.GenerateCommitment(hashlock.SHA256, hashlock.DefaultSecretSize)
		if err != nil {
			return nil, err
		}
	}
	if !commitment.HasSecret() {
		return nil, fmt.Errorf("%w: commitment carries no secret", ErrMissingSecret)
	}

	timeout := req.TimeoutHours
	if timeout == 0 {
		timeout = c.timeoutHours
	}
	switch {
	case req.Timelock < 0:
		return nil, fmt.Errorf("%w: negative timelock", hashlock.ErrConfiguration)
	case req.Timelock > 0 && req.SafetyMargin <= 0:
		return nil, fmt.Errorf("%w: safety margin must be positive", hashlock.ErrConfiguration)
	case req.Timelock > 0 && req.Timelock <= c.finishDelay:
		return nil, fmt.Errorf("%w: timelock of %s leaves no claim window", hashlock.ErrConfiguration, req.Timelock)
	case req.Timelock == 0 && time.Duration(timeout)*time.Hour <= destinationLead+c.finishDelay:
		return nil, fmt.Errorf("%w: timeout of %dh leaves no claim window", hashlock.ErrConfiguration, timeout)
	}

	source, destination := req.Direction.Chains()
	receiver := req.ReceiverAddress
	if receiver == "" {
		receiver = req.MakerAddress
	}

	rec := &Record{
		ID:               uuid.NewString(),
		Direction:        req.Direction,
		SourceChain:      source,
		DestinationChain: destination,
		FromAmount:       req.FromAmount,
		ToAmount:         req.ToAmount,
		FromAsset:        source.Asset(),
		ToAsset:          destination.Asset(),
		Lock:             commitment.Lock(),
		TimeoutHours:     timeout,
		Timelock:         req.Timelock,
		SafetyMargin:     req.SafetyMargin,
		MakerAddress:     req.MakerAddress,
		TakerAddress:     req.TakerAddress,
		ReceiverAddress:  receiver,
		Status:           StatusPending,
		CreatedAt:        c.clock.Now(),
	}
	secret := helpers.CloneBytes(commitment.Secret)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil && c.store.HasVault() {
		if err := c.store.SaveSecret(rec.ID, secret); err != nil {
			helpers.SecureClear(secret)
			return nil, fmt.Errorf("%w: %v", ErrCoordination, err)
		}
	}
	c.active[rec.ID] = rec
	c.secrets[rec.ID] = secret
	c.persist(rec)

	c.log.Info("Swap prepared", "swap_id", rec.ID, "direction", rec.Direction,
		"from", rec.FromAmount.String()+" "+rec.FromAsset, "to", rec.ToAmount.String()+" "+rec.ToAsset)
	c.emitEvent(rec.ID, EventPrepared, rec.Clone())

	return rec.Clone(), nil
}

// Initiate prepares a swap and locks both escrows.
func (c *Coordinator) Initiate(ctx context.Context, req *Request) (*Record, error) {
	rec, err := c.Prepare(req)
	if err != nil {
		return nil, err
	}
	return c.Lock(ctx, rec.ID, "")
}

type lockLeg struct {
	adapter     escrow.Adapter
	destination string
	amount      decimal.Decimal
	window      hashlock.Window
}

// lockPlan is everything Lock needs to create the escrows without holding c.mu.
type lockPlan struct {
	taker string
	lock  hashlock.Lock
	legs  [2]lockLeg
}

// planLock validates a pending swap, derives its windows and marks it busy.
func (c *Coordinator) planLock(swapID, taker string) (*lockPlan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.idle(swapID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot lock a %s swap", ErrInvalidTransition, rec.Status)
	}
	if taker == "" {
		taker = rec.TakerAddress
	}
	if taker == "" {
		return nil, fmt.Errorf("%w: taker address required", ErrCoordination)
	}

	srcAdapter, ok := c.adapters[rec.SourceChain]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrCoordination, rec.SourceChain)
	}
	dstAdapter, ok := c.adapters[rec.DestinationChain]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrCoordination, rec.DestinationChain)
	}

	srcWindow, dstWindow, err := c.windows(rec, c.clock.Now())
	if err != nil {
		return nil, err
	}

	c.busy[swapID] = true
	return &lockPlan{
		taker: taker,
		lock:  rec.Lock,
		legs: [2]lockLeg{
			{srcAdapter, taker, rec.FromAmount, srcWindow},
			{dstAdapter, rec.ReceiverAddress, rec.ToAmount, dstWindow},
		},
	}, nil
}

// windows derives the escrow windows of a swap locked at now. The
// destination window closes first.
func (c *Coordinator) windows(rec *Record, now time.Time) (src, dst hashlock.Window, err error) {
	finishAfter := now.Add(c.finishDelay)
	srcCancel := now.Add(rec.lifetime())
	dstCancel := srcCancel.Add(-destinationLead)
	if rec.Timelock > 0 {
		dstCancel = now.Add(rec.Timelock)
	}

	if src, err = hashlock.NewWindow(finishAfter, srcCancel); err != nil {
		return src, dst, err
	}
	dst, err = hashlock.NewWindow(finishAfter, dstCancel)
	return src, dst, err
}

// applyLock copies the windows and the created escrows onto rec.
// NOTE: Caller must hold c.mu.
func applyLock(rec *Record, plan *lockPlan, refs []escrow.Ref) {
	rec.TakerAddress = plan.taker
	rec.SourceWindow = plan.legs[0].window
	rec.DestinationWindow = plan.legs[1].window
	if len(refs) > 0 {
		ref := refs[0]
		rec.SourceEscrow = &ref
	}
	if len(refs) > 1 {
		ref := refs[1]
		rec.DestinationEscrow = &ref
	}
}

// Lock creates both escrows. The source escrow pays the taker and the
// destination escrow pays the receiver. When the second escrow cannot be
// created the first is cancelled; if its ledger refuses that before the
// cancel window opens the swap is left refunding for the timeout monitor.
func (c *Coordinator) Lock(ctx context.Context, swapID, taker string) (*Record, error) {
	plan, err := c.planLock(swapID, taker)
	if err != nil {
		return nil, err
	}
	defer c.release(swapID)

	// The source escrow is created first: ethereum for ETH_to_XRP, xrp for
	// XRP_to_ETH. The maker's own funds are committed before the
	// counterparty's.
	refs := make([]escrow.Ref, 0, len(plan.legs))
	for i, l := range plan.legs {
		ref, err := l.adapter.CreateEscrow(ctx, l.destination, l.amount, plan.lock, l.window.FinishAfter, l.window.CancelAfter)
		if err != nil {
			reason := fmt.Sprintf("%s escrow creation failed: %v", l.adapter.Chain(), err)

			var created []refundLeg
			var results []TimeoutCheckResult
			if i > 0 {
				created = []refundLeg{{source: true, ref: refs[0], window: plan.legs[0].window}}
				results = c.attemptRefunds(context.WithoutCancel(ctx), swapID, created)
			}

			c.mu.Lock()
			rec := c.active[swapID]
			applyLock(rec, plan, refs)
			c.applyRefunds(rec, created, results)
			c.abandon(rec, reason, StatusCancelled)
			c.mu.Unlock()

			return nil, fmt.Errorf("%w: %s", ErrCoordination, reason)
		}
		refs = append(refs, ref)
		c.log.Info("Escrow created", "swap_id", swapID, "chain", ref.Chain, "escrow", ref.ID, "amount", l.amount.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.active[swapID]
	applyLock(rec, plan, refs)
	if err := rec.TransitionTo(StatusLocked); err != nil {
		return nil, err
	}
	c.persist(rec)
	c.emitEvent(rec.ID, EventLocked, rec.Clone())

	return rec.Clone(), nil
}

// abandon stops a swap that will not complete and forgets its secret. The
// record retires with outcome once none of its escrows holds funds;
// otherwise it stays active as refunding.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) abandon(rec *Record, reason string, outcome Status) {
	if rec.FailureReason == "" {
		rec.FailureReason = reason
	}
	c.eraseSecret(rec.ID)

	pending := rec.unrefunded()
	if len(pending) == 0 {
		c.finish(rec, outcome)
		return
	}

	if err := rec.TransitionTo(StatusRefunding); err != nil {
		c.log.Warn("Refunding transition rejected", "swap_id", rec.ID, "error", err)
		return
	}
	rec.RefundOutcome = outcome
	c.persist(rec)

	c.log.Warn("Swap awaiting refund", "swap_id", rec.ID, "escrows", len(pending),
		"cancel_after", pending[len(pending)-1].window.CancelAfter, "reason", rec.FailureReason)
	c.emitEvent(rec.ID, EventRefunding, rec.Clone())
}

// finish retires rec with a cancelled or expired status.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) finish(rec *Record, status Status) {
	if err := rec.TransitionTo(status); err != nil {
		c.log.Warn("Transition rejected", "swap_id", rec.ID, "status", status, "error", err)
	}
	c.eraseSecret(rec.ID)
	c.retire(rec)

	event := EventCancelled
	if status == StatusExpired {
		event = EventExpired
	}
	c.log.Warn("Swap "+string(status), "swap_id", rec.ID, "reason", rec.FailureReason)
	c.emitEvent(rec.ID, event, rec.Clone())
}

// revealPlan is everything Complete needs to finish the destination escrow
// without holding c.mu.
type revealPlan struct {
	adapter escrow.Adapter
	ref     escrow.Ref
	lock    hashlock.Lock
	secret  []byte
}

func (c *Coordinator) planReveal(swapID string) (*revealPlan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.idle(swapID)
	if err != nil {
		return nil, err
	}
	secret, ok := c.secrets[swapID]
	if !ok || len(secret) == 0 {
		return nil, fmt.Errorf("%w: swap %s", ErrMissingSecret, swapID)
	}
	if rec.Status != StatusLocked || rec.DestinationEscrow == nil {
		return nil, fmt.Errorf("%w: cannot complete a %s swap", ErrInvalidTransition, rec.Status)
	}

	eval := hashlock.EvaluateTimelock(rec.DestinationWindow, "", c.clock.Now())
	if !eval.CanExecute {
		return nil, fmt.Errorf("%w: destination window is %s", ErrCoordination, eval.State)
	}

	adapter, ok := c.adapters[rec.DestinationChain]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrCoordination, rec.DestinationChain)
	}

	c.busy[swapID] = true
	return &revealPlan{
		adapter: adapter,
		ref:     *rec.DestinationEscrow,
		lock:    rec.Lock,
		secret:  helpers.CloneBytes(secret),
	}, nil
}

// Complete reveals the secret on the destination escrow, which is the chain
// whose window closes first.
func (c *Coordinator) Complete(ctx context.Context, swapID string) (*Record, error) {
	plan, err := c.planReveal(swapID)
	if err != nil {
		return nil, err
	}
	defer c.release(swapID)
	defer helpers.SecureClear(plan.secret)

	tx, err := plan.adapter.FinishEscrow(ctx, plan.ref.Owner, plan.ref, plan.lock, plan.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: reveal on %s: %w", ErrCoordination, plan.ref.Chain, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.active[swapID]
	if err := rec.TransitionTo(StatusCompleted); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	rec.CompletedAt = &now
	rec.RevealTx = tx
	c.eraseSecret(swapID)
	c.retire(rec)

	c.log.Info("Swap completed", "swap_id", swapID, "reveal_tx", tx)
	c.emitEvent(rec.ID, EventCompleted, rec.Clone())

	return rec.Clone(), nil
}

// Cancel abandons the swap and cancels every escrow it created. Escrows whose
// ledger refuses the cancel are retried by the timeout monitor, and the swap
// reports refunding until they are all refunded. Cancelling a refunding swap
// is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, swapID, reason string) (*Record, error) {
	c.mu.Lock()
	rec, err := c.idle(swapID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	switch {
	case rec.Status == StatusRefunding:
		cp := rec.Clone()
		c.mu.Unlock()
		return cp, nil
	case rec.Status.IsTerminal():
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: swap already %s", ErrInvalidTransition, rec.Status)
	}
	c.busy[swapID] = true
	legs := rec.unrefunded()
	c.mu.Unlock()
	defer c.release(swapID)

	results := c.attemptRefunds(context.WithoutCancel(ctx), swapID, legs)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyRefunds(rec, legs, results)
	c.abandon(rec, reason, StatusCancelled)
	return rec.Clone(), nil
}

// MarkSettled records a swap settled by the relayer network rather than by
// our own reveal.
func (c *Coordinator) MarkSettled(swapID string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.idle(swapID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusPending {
		if err := rec.TransitionTo(StatusLocked); err != nil {
			return nil, err
		}
	}
	if err := rec.TransitionTo(StatusCompleted); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	rec.CompletedAt = &now
	c.eraseSecret(swapID)
	c.retire(rec)

	c.log.Info("Swap settled remotely", "swap_id", swapID)
	c.emitEvent(rec.ID, EventCompleted, rec.Clone())

	return rec.Clone(), nil
}

// Secret returns a copy of the swap's secret while it is still held.
func (c *Coordinator) Secret(swapID string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	secret, ok := c.secrets[swapID]
	if !ok || len(secret) == 0 {
		return nil, fmt.Errorf("%w: swap %s", ErrMissingSecret, swapID)
	}
	return helpers.CloneBytes(secret), nil
}

// Get returns a copy of the record, active or retired.
func (c *Coordinator) Get(swapID string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.active[swapID]; ok {
		return rec.Clone(), nil
	}
	if rec, ok := c.history[swapID]; ok {
		return rec.Clone(), nil
	}
	if c.store != nil {
		if rec, err := c.loadRecord(swapID); err == nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
}

// Status reports the swap status, the time of its last milestone and a
// details map for display.
func (c *Coordinator) Status(swapID string) (*StatusReport, error) {
	rec, err := c.Get(swapID)
	if err != nil {
		return nil, err
	}

	ts := rec.CreatedAt
	if rec.CompletedAt != nil {
		ts = *rec.CompletedAt
	}

	external := ""
	switch rec.Status {
	case StatusCompleted:
		external = hashlock.ExternalCompleted
	case StatusCancelled, StatusExpired:
		external = hashlock.ExternalCancelled
	}
	now := c.clock.Now()

	details := map[string]any{
		"direction":            rec.Direction,
		"from_amount":          rec.FromAmount.String(),
		"to_amount":            rec.ToAmount.String(),
		"from_asset":           rec.FromAsset,
		"to_asset":             rec.ToAsset,
		"hash":                 helpers.BytesToHex(rec.Lock.Hash),
		"stage":                StageFromStatus(rec.Status),
		"source_timelock":      hashlock.EvaluateTimelock(rec.SourceWindow, external, now),
		"destination_timelock": hashlock.EvaluateTimelock(rec.DestinationWindow, external, now),
	}
	if rec.SourceEscrow != nil {
		details["source_escrow"] = rec.SourceEscrow
	}
	if rec.DestinationEscrow != nil {
		details["destination_escrow"] = rec.DestinationEscrow
	}
	if rec.RevealTx != "" {
		details["reveal_tx"] = rec.RevealTx
	}
	if rec.FailureReason != "" {
		details["failure_reason"] = rec.FailureReason
	}
	if rec.SourceRefundTx != "" {
		details["source_refund_tx"] = rec.SourceRefundTx
	}
	if rec.DestinationRefundTx != "" {
		details["destination_refund_tx"] = rec.DestinationRefundTx
	}
	if rec.Status == StatusRefunding {
		details["refund_outcome"] = rec.RefundOutcome
	}

	return &StatusReport{Status: rec.Status, Timestamp: ts, Details: details}, nil
}

// List returns all known records, newest first.
func (c *Coordinator) List() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Record, 0, len(c.active)+len(c.history))
	for _, rec := range c.active {
		out = append(out, rec.Clone())
	}
	for _, rec := range c.history {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Active reports whether the swap is still in flight.
func (c *Coordinator) Active(swapID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[swapID]
	return ok
}

// idle returns the active record unless an escrow operation on it is in
// flight.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) idle(swapID string) (*Record, error) {
	rec, ok := c.active[swapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, swapID)
	}
	if c.busy[swapID] {
		return nil, fmt.Errorf("%w: swap %s has an escrow operation in flight", ErrCoordination, swapID)
	}
	return rec, nil
}

// release clears the busy mark set while escrows were driven outside c.mu.
func (c *Coordinator) release(swapID string) {
	c.mu.Lock()
	delete(c.busy, swapID)
	c.mu.Unlock()
}

// eraseSecret zeroes and drops the secret in memory and on disk.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) eraseSecret(swapID string) {
	if secret, ok := c.secrets[swapID]; ok {
		helpers.SecureClear(secret)
		delete(c.secrets, swapID)
	}
	if c.store != nil {
		if err := c.store.DeleteSecret(swapID); err != nil {
			c.log.Warn("Failed to delete stored secret", "swap_id", swapID, "error", err)
		}
	}
}

// retire moves a terminal record to history.
// NOTE: Caller must hold c.mu.
func (c *Coordinator) retire(rec *Record) {
	delete(c.active, rec.ID)
	c.history[rec.ID] = rec
	c.persist(rec)
}
