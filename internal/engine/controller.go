package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/infra"
	"quoter_go/internal/strategy"
)

const (
	requoteThreshold = 0.001 // relative mid move that forces a replace
	reconnectWait    = 15 * time.Second
	reconnectBackoff = 10 * time.Second
	noBookSleep      = 2 * time.Second
	noQuoteSleep     = 3 * time.Second
	placeFailSleep   = 5 * time.Second
	loopErrorSleep   = 5 * time.Second
	cycleRestSleep   = 2 * time.Second
)

// Transport submits order mutations to the exchange. The controller is the
// only writer; no other component mutates order state.
type Transport interface {
	CreateOrder(ctx context.Context, ord domain.OrderRequest) error
	CancelAllOrders(ctx context.Context) error
}

// MarketView is the controller's read-only window onto the hub's caches.
type MarketView interface {
	Mid() (float64, bool)
	Healthy() bool
	MarkStale()
	Capital() domain.CapitalState
	Position() domain.PositionState
	AwaitBookUpdate(ctx context.Context, timeout time.Duration) error
}

// StreamRestarter rebuilds the order-book stream task after a health
// failure.
type StreamRestarter interface {
	Restart(ctx context.Context) error
	Alive() bool
}

// quotingState is the controller's own state: current side, last quoted
// mid, and the single in-flight order if any.
type quotingState struct {
	side          domain.Side
	lastQuotedMid float64
	active        *domain.ActiveOrder
}

// ControllerConfig holds the controller's externally supplied knobs.
type ControllerConfig struct {
	OrderTimeout   time.Duration
	MinNotionalUSD float64
}

// Controller runs the order lifecycle state machine: decide the quote,
// place it, wait out the reconciliation window, cancel, and flip sides
// based on the stream-confirmed position.
type Controller struct {
	cfg       ControllerConfig
	view      MarketView
	transport Transport
	streams   StreamRestarter
	pricer    *strategy.Pricer
	sizer     *strategy.Sizer

	state quotingState

	nowFn func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates the lifecycle controller starting on the buy side.
func NewController(
	cfg ControllerConfig,
	view MarketView,
	transport Transport,
	streams StreamRestarter,
	pricer *strategy.Pricer,
	sizer *strategy.Sizer,
) *Controller {
	return &Controller{
		cfg:       cfg,
		view:      view,
		transport: transport,
		streams:   streams,
		pricer:    pricer,
		sizer:     sizer,
		state:     quotingState{side: domain.SideBuy},
		nowFn:     time.Now,
		sleep:     sleepCtx,
	}
}

// Side returns the current quoting side.
func (c *Controller) Side() domain.Side {
	return c.state.side
}

// SetSide overrides the quoting side. Used by the startup sequencer after
// evaluating a pre-existing position.
func (c *Controller) SetSide(s domain.Side) {
	c.state.side = s
}

// Active returns the in-flight order, or nil.
func (c *Controller) Active() *domain.ActiveOrder {
	return c.state.active
}

// Run drives the control loop until the context is cancelled. Every error
// inside a cycle is transient: logged, backed off, retried. Errors whose
// text points at the stream additionally force the reconnect path.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("market making loop started", "side", c.state.side)
	for {
		if ctx.Err() != nil {
			slog.Info("market making loop stopping")
			return
		}
		if err := c.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			infra.GlobalMetrics.RecordLoopError()
			slog.Error("cycle error", "err", err)
			if isStreamError(err) {
				c.view.MarkStale()
			}
			_ = c.sleep(ctx, loopErrorSleep)
		}
	}
}

// RunOnce executes one full quoting cycle: health check, quote decision,
// placement, reconciliation window, cancel, side flip.
func (c *Controller) RunOnce(ctx context.Context) error {
	// 1. Stream health gate.
	if !c.view.Healthy() || !c.streams.Alive() {
		slog.Warn("book stream unhealthy, restarting")
		if err := c.restartStream(ctx); err != nil {
			slog.Error("stream restart failed, backing off", "err", err)
			return c.sleep(ctx, reconnectBackoff)
		}
		return nil
	}

	// 2. Mid price.
	mid, ok := c.view.Mid()
	if !ok {
		slog.Info("no order book data yet, sleeping")
		return c.sleep(ctx, noBookSleep)
	}

	// 3. Target price; under strict parameters a missing model means no
	// quote this cycle rather than quoting blind.
	price, err := c.pricer.Price(mid, c.state.side)
	if errors.Is(err, domain.ErrNoQuote) {
		return c.sleep(ctx, noQuoteSleep)
	}
	if err != nil {
		return err
	}

	priceChanged := c.state.lastQuotedMid == 0 ||
		relDiff(mid, c.state.lastQuotedMid) > requoteThreshold

	slog.Info("quote target",
		"mid", mid, "side", c.state.side, "price", price, "price_changed", priceChanged)

	// 4. Replace-on-move: cancel so the next block can re-place.
	if c.state.active != nil {
		if priceChanged {
			c.cancelActive(ctx)
		} else {
			slog.Info("order still active, price unchanged",
				"client_id", c.state.active.ClientID)
		}
	}

	// 5. Place a fresh quote when nothing is resting. A sizing result of
	// zero means skip placement but still run the reconciliation window.
	if c.state.active == nil {
		amount := c.sizer.Size(c.state.side, mid, c.view.Capital(), c.view.Position())
		if amount > 0 {
			ord := domain.OrderRequest{
				ClientID:   ClientOrderID(c.nowFn()),
				Side:       c.state.side,
				Price:      price,
				Amount:     amount,
				PostOnly:   true,
				ReduceOnly: c.state.side == domain.SideSell,
			}
			slog.Info("placing order",
				"side", ord.Side, "amount", ord.Amount, "price", ord.Price, "client_id", ord.ClientID)
			if err := c.transport.CreateOrder(ctx, ord); err != nil {
				slog.Error("order placement failed",
					"side", ord.Side, "price", ord.Price, "amount", ord.Amount, "err", err)
				return c.sleep(ctx, placeFailSleep)
			}
			infra.GlobalMetrics.RecordOrderPlaced()
			c.state.active = &domain.ActiveOrder{
				ClientID: ord.ClientID,
				Side:     ord.Side,
				Price:    ord.Price,
				Amount:   ord.Amount,
				PlacedAt: c.nowFn(),
			}
			c.state.lastQuotedMid = mid
		} else if c.state.side == domain.SideBuy {
			slog.Warn("calculated order size is zero, skipping placement")
		}
	}

	// 6. Reconciliation window: wait, then unconditionally cancel.
	if err := c.sleep(ctx, c.cfg.OrderTimeout); err != nil {
		return err
	}
	if c.state.active != nil {
		slog.Info("order timeout reached, cancelling and assessing fills",
			"client_id", c.state.active.ClientID)
		c.cancelActive(ctx)
	}

	// 7-8. The post-cancel position from the account stream is the sole
	// ground truth for what filled; flip sides against it.
	c.flipSide(mid)

	return c.sleep(ctx, cycleRestSleep)
}

// flipSide applies the side transition rules against the reconciled
// position. A partial sell fill that leaves the notional above the minimum
// stays on the sell side and re-evaluates next cycle.
func (c *Controller) flipSide(mid float64) {
	pos := c.view.Position()
	notional := pos.Notional(mid)

	switch {
	case c.state.side == domain.SideBuy && pos.Size > 0:
		slog.Info("position opened after buy cycle, flipping to sell", "inventory", pos.Size)
		c.state.side = domain.SideSell
	case c.state.side == domain.SideSell && pos.IsFlat():
		slog.Info("position closed after sell cycle, flipping to buy")
		c.state.side = domain.SideBuy
	case c.state.side == domain.SideSell && pos.Size > 0 && notional < c.cfg.MinNotionalUSD:
		slog.Info("position too small to sell, flipping to buy to accumulate",
			"notional", notional)
		c.state.side = domain.SideBuy
	default:
		slog.Info("no decisive fill, remaining on side",
			"side", c.state.side, "inventory", pos.Size)
	}
}

// cancelActive cancels all resting orders. The sub-account carries at most
// one order, so cancel-all is the cancel primitive; repeating it with
// nothing outstanding is harmless. The active marker is cleared only on a
// confirmed round trip.
func (c *Controller) cancelActive(ctx context.Context) {
	if err := c.transport.CancelAllOrders(ctx); err != nil {
		slog.Error("cancel failed", "err", err)
		return
	}
	infra.GlobalMetrics.RecordOrderCancelled()
	c.state.active = nil
}

// restartStream rebuilds the book stream and blocks until a fresh snapshot
// arrives or the reconnect window elapses.
func (c *Controller) restartStream(ctx context.Context) error {
	infra.GlobalMetrics.RecordReconnect()
	if err := c.streams.Restart(ctx); err != nil {
		return err
	}
	slog.Info("waiting for book stream to resubscribe")
	if err := c.view.AwaitBookUpdate(ctx, reconnectWait); err != nil {
		return err
	}
	slog.Info("book stream reconnected")
	return nil
}

// ClientOrderID derives a bounded client order id from the wall clock.
// Collisions are negligible under the single-order model.
func ClientOrderID(now time.Time) int64 {
	return now.UnixMicro() % 1_000_000
}

func relDiff(a, b float64) float64 {
	d := (a - b) / b
	if d < 0 {
		return -d
	}
	return d
}

func isStreamError(err error) bool {
	var se *domain.StreamError
	if errors.As(err, &se) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "websocket")
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
