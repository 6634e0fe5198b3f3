package fusion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/escrow"
	"github.com/klingon-exchange/xrpfusion/internal/hashlock"
	"github.com/klingon-exchange/xrpfusion/internal/storage"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// ManagerConfig holds the collaborators of a Manager.
type ManagerConfig struct {
	Configuration *Configuration
	Endpoint      Endpoint
	Oracle        RateOracle
	Signer        OrderSigner
	Swaps         *swap.Coordinator
	Store         *storage.Storage // optional
	Clock         clock.Clock

	// Takers are the default counterparty addresses paid by the source
	// escrow, per source chain.
	Takers map[escrow.Chain]string
}

// Manager owns cross-chain orders and drives them through the relayer and
// the paired atomic swap.
type Manager struct {
	mu sync.RWMutex

	cfg      *Configuration
	endpoint Endpoint
	oracle   RateOracle
	signer   OrderSigner
	swaps    *swap.Coordinator
	store    *storage.Storage
	clock    clock.Clock
	takers   map[escrow.Chain]string

	orders    map[string]*Order
	progress  map[string]*Progress
	executing map[string]bool

	log *logging.Logger
}

// NewManager creates an order manager.
func NewManager(cfg *ManagerConfig) *Manager {
	m := &Manager{
		cfg:       cfg.Configuration,
		endpoint:  cfg.Endpoint,
		oracle:    cfg.Oracle,
		signer:    cfg.Signer,
		swaps:     cfg.Swaps,
		store:     cfg.Store,
		clock:     cfg.Clock,
		takers:    cfg.Takers,
		orders:    make(map[string]*Order),
		progress:  make(map[string]*Progress),
		executing: make(map[string]bool),
		log:       logging.GetDefault().Component("fusion"),
	}
	if m.cfg == nil {
		m.cfg = DefaultConfiguration()
	}
	if m.oracle == nil {
		m.oracle = NewStaticOracle()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.takers == nil {
		m.takers = make(map[escrow.Chain]string)
	}
	return m
}

// CreateOrder validates the request, commits to a fresh secret, submits the
// signed order to the relayer and prepares the paired swap. A failed swap
// preparation withdraws the relayer order before returning.
func (m *Manager) CreateOrder(ctx context.Context, dir swap.Direction, sourceAmount, targetAmount, userAddress string, opts *Options) (*CreateResult, error) {
	if opts == nil {
		opts = &Options{}
	}

	// 1. Validate
	source, target, err := m.validate(ctx, dir, sourceAmount, targetAmount, userAddress, opts)
	if err != nil {
		m.log.Warn("Order rejected", "direction", dir, "user", userAddress, "reason", err)
		return nil, err
	}
	if err := checkReceiver(dir, opts.ReceiverAddress); err != nil {
		return nil, err
	}
	priority := decimal.Zero
	if opts.PriorityFee != "" {
		if priority, err = helpers.ParseAmount(opts.PriorityFee); err != nil {
			return nil, validationErr("Frais de priorité invalides: %s", opts.PriorityFee)
		}
	}

	// 2. Commit
	commitment, err := hashlock.GenerateCommitment(hashlock.SHA256, hashlock.DefaultSecretSize)
	if err != nil {
		return nil, err
	}
	defer commitment.Erase()

	duration := m.cfg.DefaultTimelock
	if opts.CustomTimelock > 0 {
		duration = time.Duration(opts.CustomTimelock) * time.Second
	}
	now := m.clock.Now()
	window, err := hashlock.BuildWindow(now, duration, m.cfg.SafetyMargin)
	if err != nil {
		return nil, err
	}

	// 3. Submit the relayer order
	orderHash, err := m.submit(ctx, dir, source, target, userAddress, opts, commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to create relayer order: %w", err)
	}

	// 4. Prepare the paired swap
	srcChain, dstChain := dir.Chains()
	taker := opts.TakerAddress
	if taker == "" {
		taker = m.takers[srcChain]
	}
	rec, err := m.swaps.Prepare(&swap.Request{
		Direction:       dir,
		FromAmount:      source,
		ToAmount:        target,
		MakerAddress:    userAddress,
		TakerAddress:    taker,
		ReceiverAddress: opts.ReceiverAddress,
		TimeoutHours:    m.cfg.SwapTimeoutHours,
		Timelock:        duration,
		SafetyMargin:    m.cfg.SafetyMargin,
		Commitment:      commitment,
	})
	if err != nil {
		m.cancelRemote(ctx, orderHash)
		return nil, fmt.Errorf("failed to prepare atomic swap: %w", err)
	}

	// 5. Assemble
	order := &Order{
		ID:           orderHash,
		SwapID:       rec.ID,
		Direction:    dir,
		SourceAmount: source,
		TargetAmount: target,
		SourceChain:  srcChain,
		TargetChain:  dstChain,
		UserAddress:  userAddress,
		Lock:         commitment.Lock(),
		Window:       window,
		Fees:         m.cfg.Fees.quote(source, priority),
		QuoteID:      opts.QuoteID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Stage:        StageCreated,
	}

	m.mu.Lock()
	m.orders[order.ID] = order
	m.progress[order.ID] = &Progress{OrderHash: order.ID, Stage: swap.StageInitiated, LastUpdate: now}
	m.persistOrder(order)
	m.mu.Unlock()

	m.log.Info("Order created", "order", order.ID, "swap_id", rec.ID, "trade", describe(dir, source, target))

	return &CreateResult{
		Order:               order.clone(),
		AtomicSwap:          rec,
		EstimatedCompletion: now.Add(m.cfg.EstimatedCompletion),
	}, nil
}

// submit builds, signs and posts the limit order.
func (m *Manager) submit(ctx context.Context, dir swap.Direction, source, target decimal.Decimal, user string, opts *Options, c *hashlock.Commitment) (string, error) {
	if m.signer == nil {
		return "", errors.New("no order signer configured")
	}

	srcChain, dstChain := dir.Chains()
	making, err := baseUnits(srcChain, source)
	if err != nil {
		return "", err
	}
	taking, err := baseUnits(dstChain, target)
	if err != nil {
		return "", err
	}
	salt, err := newSalt()
	if err != nil {
		return "", err
	}

	maker := m.signer.Address().Hex()
	receiver := maker
	switch {
	case IsETHAddress(opts.ReceiverAddress):
		receiver = opts.ReceiverAddress
	case IsETHAddress(user):
		receiver = user
	}

	order := LimitOrder{
		Salt:         salt,
		MakerAsset:   assetAddress(srcChain.Asset()),
		TakerAsset:   assetAddress(dstChain.Asset()),
		Maker:        maker,
		Receiver:     receiver,
		MakingAmount: making,
		TakingAmount: taking,
		MakerTraits:  defaultMakerTraits,
	}
	signature, localHash, err := m.signer.SignOrder(&order)
	if err != nil {
		return "", err
	}

	srcChainID := m.signer.ChainID()
	if srcChain == escrow.ChainXRP {
		srcChainID = XRPLChainID
	}

	hash, err := m.endpoint.SubmitOrder(ctx, &SubmitOrderRequest{
		Order:        order,
		SrcChainID:   srcChainID,
		Signature:    signature,
		Extension:    defaultOrderExtension,
		QuoteID:      opts.QuoteID,
		SecretHashes: []string{helpers.BytesToHex(c.Hash)},
	})
	if err != nil {
		return "", err
	}
	if hash == "" {
		hash = localHash
	}
	return hash, nil
}

func baseUnits(chain escrow.Chain, amount decimal.Decimal) (string, error) {
	if chain == escrow.ChainXRP {
		return helpers.XRPToDrops(amount)
	}
	wei, err := helpers.ETHToWei(amount)
	if err != nil {
		return "", err
	}
	return wei.String(), nil
}

// cancelRemote withdraws a relayer order when the endpoint supports it.
// Failures are logged only.
func (m *Manager) cancelRemote(ctx context.Context, orderHash string) {
	canceller, ok := m.endpoint.(Canceller)
	if !ok {
		m.log.Warn("Relayer cannot cancel orders, leaving it to expire", "order", orderHash)
		return
	}
	if err := canceller.CancelOrder(context.WithoutCancel(ctx), orderHash); err != nil {
		m.log.Error("Failed to cancel relayer order", "order", orderHash, "error", err)
		return
	}
	m.log.Info("Relayer order cancelled", "order", orderHash)
}

// MonitorAndExecute waits for a resolver, locks both escrows, reveals the
// secret on the destination chain and verifies settlement. Any failure runs
// recovery and marks the order failed.
func (m *Manager) MonitorAndExecute(ctx context.Context, orderID string, progress ProgressFunc) (*Execution, error) {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Stage != StageCreated {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot execute a %s order", ErrInvalidStage, order.Stage)
	}
	if m.executing[orderID] {
		m.mu.Unlock()
		return nil, ErrAlreadyExecuting
	}
	m.executing[orderID] = true
	swapID := order.SwapID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.executing, orderID)
		m.mu.Unlock()
	}()

	report := func(stage string, percent int, details map[string]any) {
		m.log.Debug("Order progress", "order", orderID, "stage", stage, "percent", percent)
		if progress != nil {
			progress(stage, percent, details)
		}
	}

	report("Initialisation", 0, map[string]any{"message": "Démarrage de la surveillance"})

	// Phase 1: resolver match
	report("Attente du resolver", 10, map[string]any{"message": "Recherche d'un resolver pour l'ordre"})
	matched, err := m.waitForMatch(ctx, orderID)
	if err != nil {
		return nil, m.fail(ctx, orderID, "Aucun resolver trouvé dans le délai imparti", err)
	}
	report("Resolver trouvé", 25, map[string]any{"message": "Un resolver a pris l'ordre", "status": matched.Status})

	// Phase 2: escrows
	report("Initialisation atomic swap", 40, map[string]any{"message": "Création des escrows sur les deux chaînes"})
	rec, err := m.swaps.Lock(ctx, swapID, "")
	if err != nil {
		return nil, m.fail(ctx, orderID, "Échec de coordination", err)
	}
	if err := m.setStage(orderID, StageLocked); err != nil {
		return nil, m.fail(ctx, orderID, "Échec de coordination", err)
	}
	m.adoptWindow(orderID, rec.SourceWindow)
	m.recordLocal(orderID, swap.StageEscrowDeployed, 60, rec)
	report("Escrows créés", 60, map[string]any{
		"message":            "Escrows créés sur les deux chaînes",
		"source_escrow":      rec.SourceEscrow,
		"destination_escrow": rec.DestinationEscrow,
	})

	// Phase 3: reveal
	report("Révélation du secret", 80, map[string]any{"message": "Révélation du secret pour débloquer les fonds"})
	if err := m.setStage(orderID, StageExecuting); err != nil {
		return nil, m.fail(ctx, orderID, "Échec de révélation du secret", err)
	}
	if err := m.waitExecutable(ctx, rec.DestinationWindow); err != nil {
		return nil, m.fail(ctx, orderID, "Échec de révélation du secret", err)
	}
	secret, err := m.swaps.Secret(swapID)
	if err != nil {
		return nil, m.fail(ctx, orderID, "Échec de révélation du secret", err)
	}
	defer helpers.SecureClear(secret)

	done, err := m.swaps.Complete(ctx, swapID)
	if err != nil {
		return nil, m.fail(ctx, orderID, "Échec de révélation du secret", err)
	}
	// The secret is public on the destination ledger now; hand it to the
	// relayer so the resolver can claim the source escrow.
	if err := m.endpoint.SubmitSecret(ctx, orderID, secret); err != nil {
		m.log.Warn("Relayer secret submission failed", "order", orderID, "error", err)
	} else {
		m.markSecretSubmitted(orderID)
	}
	m.recordLocal(orderID, swap.StageSecretSubmitted, 80, done)

	// Phase 4: verification
	report("Finalisation", 95, map[string]any{"message": "Transfert final des fonds"})
	if done.Status != swap.StatusCompleted || done.RevealTx == "" {
		return nil, m.fail(ctx, orderID, "Échec de vérification finale", fmt.Errorf("swap %s is %s", swapID, done.Status))
	}
	if err := m.setStage(orderID, StageCompleted); err != nil {
		return nil, m.fail(ctx, orderID, "Échec de vérification finale", err)
	}
	m.recordLocal(orderID, swap.StageCompleted, 100, done)
	report("Complété", 100, map[string]any{"message": "Swap cross-chain complété avec succès"})

	completed, err := m.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	hashes := TransactionHashes{Target: done.RevealTx}
	if done.SourceEscrow != nil {
		hashes.Source = done.SourceEscrow.TxHash
	}
	m.log.Info("Order completed", "order", orderID, "source_tx", hashes.Source, "target_tx", hashes.Target)

	return &Execution{CompletedOrder: completed, TransactionHashes: hashes}, nil
}

// waitForMatch polls the relayer until the order is taken, bounded by
// ResolverWait.
func (m *Manager) waitForMatch(ctx context.Context, orderID string) (*ActiveOrder, error) {
	deadline := m.clock.Now().Add(m.cfg.ResolverWait)
	interval := m.cfg.MatchPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		remote, err := FindOrder(ctx, m.endpoint, orderID)
		switch {
		case err == nil && (remote.Status == swap.RemoteActive || remote.Status == swap.RemoteFilled):
			return remote, nil
		case err == nil && remote.Status == swap.RemoteCancelled:
			return nil, ErrOrderCancelled
		case err != nil && !errors.Is(err, ErrOrderNotFound):
			m.log.Warn("Relayer poll failed while waiting for resolver", "order", orderID, "error", err)
		}

		if !m.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: waited %s", ErrCounterpartyTimeout, m.cfg.ResolverWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitExecutable sleeps until the window opens. An expired window is an
// error.
func (m *Manager) waitExecutable(ctx context.Context, w hashlock.Window) error {
	eval := hashlock.EvaluateTimelock(w, "", m.clock.Now())
	switch eval.State {
	case hashlock.StateExecutable:
		return nil
	case hashlock.StateLocked:
		m.log.Info("Waiting for destination window", "remaining", eval.TimeRemaining)
		timer := m.clock.Timer(eval.TimeRemaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	default:
		return fmt.Errorf("destination window is %s", eval.State)
	}
}

// fail runs recovery, marks the order failed and returns the error shown to
// the caller. Recovery failures are logged and never replace cause.
func (m *Manager) fail(ctx context.Context, orderID, summary string, cause error) error {
	reason := fmt.Sprintf("%s: %v", summary, cause)
	m.recover(ctx, orderID, reason)
	if err := m.MarkFailed(orderID, reason); err != nil {
		m.log.Warn("Could not mark order failed", "order", orderID, "error", err)
	}
	return fmt.Errorf("%s: %w", summary, cause)
}

// recover cancels the swap escrows (which erases the secret) and withdraws
// the relayer order, best effort.
func (m *Manager) recover(ctx context.Context, orderID, reason string) {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	m.log.Warn("Attempting recovery", "order", orderID, "reason", reason)
	if m.swaps.Active(order.SwapID) {
		if _, err := m.swaps.Cancel(context.WithoutCancel(ctx), order.SwapID, reason); err != nil {
			m.log.Error("Swap cancellation failed during recovery", "order", orderID, "swap_id", order.SwapID, "error", err)
		}
	}
	m.cancelRemote(ctx, orderID)
}

// CancelOrder withdraws the order at the relayer, cancels the swap and marks
// the order failed with reason.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	var stage Stage
	if ok {
		stage = order.Stage
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if stage.IsTerminal() {
		return nil, fmt.Errorf("%w: order already %s", ErrInvalidStage, stage)
	}
	if reason == "" {
		reason = "cancelled by user"
	}

	m.recover(ctx, orderID, reason)
	if err := m.MarkFailed(orderID, reason); err != nil {
		return nil, err
	}
	return m.GetOrder(orderID)
}

// setStage advances the order one or more stages and persists it.
func (m *Manager) setStage(orderID string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err := order.advanceTo(stage); err != nil {
		return err
	}
	order.UpdatedAt = m.clock.Now()
	m.persistOrder(order)
	return nil
}

// adoptWindow replaces the window committed at creation with the source
// escrow window fixed at lock time.
func (m *Manager) adoptWindow(orderID string, w hashlock.Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[orderID]; ok {
		order.Window = w
		m.persistOrder(order)
	}
}

// recordLocal records progress observed by our own execution.
func (m *Manager) recordLocal(orderID string, stage swap.Stage, percent int, rec *swap.Record) {
	p := Progress{OrderHash: orderID, Stage: stage, Percent: percent}
	if rec.SourceEscrow != nil {
		p.SourceEscrow = rec.SourceEscrow.ID
	}
	if rec.DestinationEscrow != nil {
		p.DestinationEscrow = rec.DestinationEscrow.ID
	}
	if err := m.RecordProgress(orderID, p); err != nil {
		m.log.Warn("Failed to record progress", "order", orderID, "error", err)
	}
}

func (m *Manager) markSecretSubmitted(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[orderID]; ok {
		p.SecretSubmitted = true
		m.persistProgress(orderID, p)
	}
}

// RecordProgress stores progress observed for an order. The stage and
// percentage never move backwards.
func (m *Manager) RecordProgress(orderID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	cur, ok := m.progress[orderID]
	if !ok {
		cur = &Progress{OrderHash: orderID, Stage: swap.StageInitiated}
		m.progress[orderID] = cur
	}
	if p.OrderHash != "" {
		cur.OrderHash = p.OrderHash
	}
	if p.SourceEscrow != "" {
		cur.SourceEscrow = p.SourceEscrow
	}
	if p.DestinationEscrow != "" {
		cur.DestinationEscrow = p.DestinationEscrow
	}
	cur.Stage = swap.Advance(cur.Stage, p.Stage)
	if p.Percent > cur.Percent {
		cur.Percent = p.Percent
	}
	cur.SecretSubmitted = cur.SecretSubmitted || p.SecretSubmitted
	cur.LastUpdate = m.clock.Now()
	m.persistProgress(orderID, cur)
	return nil
}

// MarkCompleted settles the order after the relayer reports it filled.
func (m *Manager) MarkCompleted(orderID string) error {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	var swapID string
	if ok {
		swapID = order.SwapID
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if m.swaps.Active(swapID) {
		if _, err := m.swaps.MarkSettled(swapID); err != nil {
			m.log.Warn("Failed to settle swap", "order", orderID, "swap_id", swapID, "error", err)
		}
	}
	if err := m.setStage(orderID, StageCompleted); err != nil {
		return err
	}
	m.log.Info("Order settled by relayer", "order", orderID)
	return nil
}

// MarkFailed marks the order failed with reason. Its swap is cancelled if it
// is still in flight.
func (m *Manager) MarkFailed(orderID, reason string) error {
	m.mu.Lock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err := order.transitionTo(StageFailed); err != nil {
		m.mu.Unlock()
		return err
	}
	order.FailureReason = reason
	order.UpdatedAt = m.clock.Now()
	if p, ok := m.progress[orderID]; ok {
		p.Stage = swap.Advance(p.Stage, swap.StageFailed)
		p.LastUpdate = order.UpdatedAt
		m.persistProgress(orderID, p)
	}
	m.persistOrder(order)
	swapID := order.SwapID
	m.mu.Unlock()

	if m.swaps.Active(swapID) {
		if _, err := m.swaps.Cancel(context.Background(), swapID, reason); err != nil {
			m.log.Warn("Failed to cancel swap", "order", orderID, "swap_id", swapID, "error", err)
		}
	}
	m.log.Warn("Order failed", "order", orderID, "reason", reason)
	return nil
}

// SecretForOrder returns the swap secret of an order while it is held.
func (m *Manager) SecretForOrder(orderID string) ([]byte, error) {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return m.swaps.Secret(order.SwapID)
}

// GetOrder returns a copy of the order.
func (m *Manager) GetOrder(orderID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order.clone(), nil
}

// Progress returns the last recorded progress of the order.
func (m *Manager) Progress(orderID string) (*Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.progress[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	cp := *p
	return &cp, nil
}

// ListOrders returns all orders, newest first.
func (m *Manager) ListOrders() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
