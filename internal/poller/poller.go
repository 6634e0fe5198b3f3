// Package poller tracks relayer orders until they settle or fail.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/klingon-exchange/xrpfusion/internal/fusion"
	"github.com/klingon-exchange/xrpfusion/internal/swap"
	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// ErrPolling wraps a failed relayer status fetch.
var ErrPolling = errors.New("order polling failed")

// Tracker receives what the poller observes. *fusion.Manager implements it.
type Tracker interface {
	Progress(orderID string) (*fusion.Progress, error)
	RecordProgress(orderID string, p fusion.Progress) error
	MarkCompleted(orderID string) error
	MarkFailed(orderID, reason string) error
	SecretForOrder(orderID string) ([]byte, error)
}

// Config configures polling behavior.
type Config struct {
	Interval      time.Duration // Time between polls
	MaxErrors     int           // Consecutive failures before the order is failed
	SecretTrigger int           // Minimum progress before the secret is handed over
	Clock         clock.Clock
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      15 * time.Second,
		MaxErrors:     3,
		SecretTrigger: 60,
	}
}

// Update is published after every poll cycle.
type Update struct {
	OrderID         string
	OrderHash       string
	Status          string
	Stage           swap.Stage
	Percent         int
	SecretSubmitted bool
	Done            bool
	Err             error
}

// UpdateHandler is called for each poll update.
type UpdateHandler func(Update)

// Poller runs one poll loop per order against the relayer.
type Poller struct {
	endpoint fusion.Endpoint
	tracker  Tracker
	cfg      Config
	clock    clock.Clock
	log      *logging.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	handlers []UpdateHandler
}

type task struct {
	orderID   string
	orderHash string
	cancel    context.CancelFunc
	done      chan struct{}

	// mu serializes poll mutations against stop.
	mu              sync.Mutex
	stopped         bool
	stage           swap.Stage
	percent         int
	secretSubmitted bool
	pollErrors      int
	secretErrors    int
}

// New creates a poller.
func New(endpoint fusion.Endpoint, tracker Tracker, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.SecretTrigger <= 0 {
		cfg.SecretTrigger = def.SecretTrigger
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Poller{
		endpoint: endpoint,
		tracker:  tracker,
		cfg:      cfg,
		clock:    clk,
		log:      logging.GetDefault().Component("poller"),
		tasks:    make(map[string]*task),
	}
}

// OnUpdate registers a handler for poll updates.
func (p *Poller) OnUpdate(handler UpdateHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *Poller) emit(u Update) {
	p.mu.Lock()
	handlers := append([]UpdateHandler(nil), p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		go h(u)
	}
}

// Start begins polling orderHash on behalf of orderID. A poll already
// running for the order is stopped first. The first poll runs immediately.
func (p *Poller) Start(ctx context.Context, orderID, orderHash string) {
	if orderHash == "" {
		orderHash = orderID
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		orderID:   orderID,
		orderHash: orderHash,
		cancel:    cancel,
		done:      make(chan struct{}),
		stage:     swap.StageInitiated,
	}
	if prev, err := p.tracker.Progress(orderID); err == nil {
		t.stage = prev.Stage
		t.percent = prev.Percent
		t.secretSubmitted = prev.SecretSubmitted
	}

	p.mu.Lock()
	old := p.tasks[orderID]
	p.tasks[orderID] = t
	p.mu.Unlock()

	if old != nil {
		old.stop()
		p.log.Debug("Restarting order poll", "order", orderID)
	}

	go p.run(ctx, t)
	p.log.Info("Order polling started", "order", orderID, "interval", p.cfg.Interval)
}

// Stop stops polling the order. When it returns no further poll will touch
// the order. Stopping an order that is not polled is a no-op.
func (p *Poller) Stop(orderID string) {
	p.mu.Lock()
	t := p.tasks[orderID]
	delete(p.tasks, orderID)
	p.mu.Unlock()

	if t != nil {
		t.stop()
		p.log.Info("Order polling stopped", "order", orderID)
	}
}

// StopAll stops every running poll.
func (p *Poller) StopAll() {
	p.mu.Lock()
	tasks := p.tasks
	p.tasks = make(map[string]*task)
	p.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
}

// Active reports whether the order is being polled.
func (p *Poller) Active(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[orderID]
	return ok
}

// stop cancels the loop and waits for it to exit. It must not be called from
// the loop itself.
func (t *task) stop() {
	t.cancel()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	<-t.done
}

func (p *Poller) run(ctx context.Context, t *task) {
	defer close(t.done)

	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if finished := p.poll(ctx, t); finished {
			p.retire(t)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// retire drops a task that ended on its own.
func (p *Poller) retire(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tasks[t.orderID] == t {
		delete(p.tasks, t.orderID)
	}
}

// poll runs one cycle and reports whether polling is over.
func (p *Poller) poll(ctx context.Context, t *task) bool {
	remote, err := fusion.FindOrder(ctx, p.endpoint, t.orderHash)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || ctx.Err() != nil {
		return true
	}

	switch {
	case errors.Is(err, fusion.ErrOrderNotFound):
		// Not listed yet, or no longer active. Neither is a failure.
		p.log.Debug("Order not in relayer active set", "order", t.orderID)
		return false
	case err != nil:
		return p.pollFailed(t, err)
	}
	t.pollErrors = 0

	stage := swap.StageFromRemote(remote.Remote())
	percent := swap.ProgressFor(stage, remote.Status)
	t.stage = swap.Advance(t.stage, stage)
	if percent > t.percent {
		t.percent = percent
	}
	t.secretSubmitted = t.secretSubmitted || remote.SecretSubmitted

	progress := fusion.Progress{
		OrderHash:         t.orderHash,
		SourceEscrow:      remote.SrcEscrowAddress,
		DestinationEscrow: remote.DstEscrowAddress,
		Stage:             t.stage,
		Percent:           t.percent,
		SecretSubmitted:   t.secretSubmitted,
	}
	if err := p.tracker.RecordProgress(t.orderID, progress); err != nil {
		p.log.Warn("Failed to record progress", "order", t.orderID, "error", err)
	}

	switch remote.Status {
	case swap.RemoteFilled:
		if err := p.tracker.MarkCompleted(t.orderID); err != nil {
			p.log.Warn("Failed to mark order completed", "order", t.orderID, "error", err)
		}
		p.log.Info("Order filled", "order", t.orderID)
		p.publish(t, remote.Status, true, nil)
		return true
	case swap.RemoteCancelled:
		if err := p.tracker.MarkFailed(t.orderID, "order cancelled"); err != nil {
			p.log.Warn("Failed to mark order failed", "order", t.orderID, "error", err)
		}
		t.stage = swap.Advance(t.stage, swap.StageFailed)
		p.log.Warn("Order cancelled by relayer", "order", t.orderID)
		p.publish(t, remote.Status, true, nil)
		return true
	}

	if !t.secretSubmitted && stage == swap.StageFinalityConfirmed && percent >= p.cfg.SecretTrigger {
		if ended := p.refresh(t); ended {
			p.log.Info("Order already settled locally", "order", t.orderID, "stage", t.stage)
			p.publish(t, remote.Status, true, nil)
			return true
		}
		if !t.secretSubmitted {
			if finished := p.submitSecret(ctx, t); finished {
				return true
			}
		}
	}

	p.publish(t, remote.Status, false, nil)
	return false
}

// refresh merges progress recorded outside the poller, such as a reveal by
// the order's own execution. It reports whether the order has already ended.
// NOTE: Caller must hold t.mu.
func (p *Poller) refresh(t *task) bool {
	cur, err := p.tracker.Progress(t.orderID)
	if err != nil {
		return false
	}
	t.secretSubmitted = t.secretSubmitted || cur.SecretSubmitted
	if cur.Stage.IsTerminal() {
		t.stage = swap.Advance(t.stage, cur.Stage)
		return true
	}
	return false
}

// pollFailed counts a failed fetch and fails the order at MaxErrors.
// NOTE: Caller must hold t.mu.
func (p *Poller) pollFailed(t *task, cause error) bool {
	t.pollErrors++
	err := fmt.Errorf("%w: %s: %w", ErrPolling, t.orderHash, cause)
	p.log.Warn("Order poll failed", "order", t.orderID, "attempt", t.pollErrors, "max", p.cfg.MaxErrors, "error", cause)

	if t.pollErrors < p.cfg.MaxErrors {
		p.publish(t, "", false, err)
		return false
	}

	t.stage = swap.Advance(t.stage, swap.StageFailed)
	reason := fmt.Sprintf("polling failed %d times: %v", t.pollErrors, cause)
	if merr := p.tracker.MarkFailed(t.orderID, reason); merr != nil {
		p.log.Warn("Failed to mark order failed", "order", t.orderID, "error", merr)
	}
	p.publish(t, "", true, err)
	return true
}

// submitSecret hands the secret to the relayer once finality is confirmed.
// NOTE: Caller must hold t.mu.
func (p *Poller) submitSecret(ctx context.Context, t *task) bool {
	secret, err := p.tracker.SecretForOrder(t.orderID)
	if err == nil {
		err = p.endpoint.SubmitSecret(ctx, t.orderHash, secret)
		helpers.SecureClear(secret)
	}
	if err == nil {
		t.secretSubmitted = true
		t.secretErrors = 0
		t.stage = swap.Advance(t.stage, swap.StageSecretSubmitted)
		if pct := swap.ProgressFor(swap.StageSecretSubmitted, ""); pct > t.percent {
			t.percent = pct
		}
		rerr := p.tracker.RecordProgress(t.orderID, fusion.Progress{
			OrderHash:       t.orderHash,
			Stage:           t.stage,
			Percent:         t.percent,
			SecretSubmitted: true,
		})
		if rerr != nil {
			p.log.Warn("Failed to record progress", "order", t.orderID, "error", rerr)
		}
		p.log.Info("Secret submitted to relayer", "order", t.orderID)
		return false
	}

	t.secretErrors++
	p.log.Warn("Secret submission failed", "order", t.orderID, "attempt", t.secretErrors, "max", p.cfg.MaxErrors, "error", err)
	if t.secretErrors < p.cfg.MaxErrors {
		return false
	}

	t.stage = swap.Advance(t.stage, swap.StageFailed)
	reason := fmt.Sprintf("secret submission failed %d times: %v", t.secretErrors, err)
	if merr := p.tracker.MarkFailed(t.orderID, reason); merr != nil {
		p.log.Warn("Failed to mark order failed", "order", t.orderID, "error", merr)
	}
	p.publish(t, "", true, err)
	return true
}

// NOTE: Caller must hold t.mu.
func (p *Poller) publish(t *task, status string, done bool, err error) {
	p.emit(Update{
		OrderID:         t.orderID,
		OrderHash:       t.orderHash,
		Status:          status,
		Stage:           t.stage,
		Percent:         t.percent,
		SecretSubmitted: t.secretSubmitted,
		Done:            done,
		Err:             err,
	})
}
