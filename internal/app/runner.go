package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/engine"
	"quoter_go/internal/infra"
	"quoter_go/internal/infra/lighter"
	"quoter_go/internal/infra/storage"
	"quoter_go/internal/strategy"
)

const (
	hubInboxSize     = 1024
	readinessTimeout = 30 * time.Second
	postCancelSettle = 3 * time.Second
	liquidationWait  = 60 * time.Second
	liquidationPoll  = 1 * time.Second
	cleanupTimeout   = 10 * time.Second
	balancePeriod    = 5 * time.Minute
	balanceLogName   = "balance_log.txt"
)

// Runner owns the startup/shutdown sequence: resolve metadata, clean the
// account, bring up the streams, gate on readiness, settle any pre-existing
// position, then hand control to the lifecycle controller. Cleanup runs on
// every exit path.
type Runner struct {
	cfg   *infra.Config
	store *storage.Storage
	runID string
}

// NewRunner creates a runner from bootstrapped resources.
func NewRunner(b *Bootstrap) *Runner {
	return &Runner{cfg: b.Config, store: b.Storage, runID: b.RunID}
}

// Run executes the full lifecycle until the context is cancelled or a
// startup step fails.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("quoter starting", "symbol", r.cfg.Exchange.Symbol)

	client := lighter.NewClient(r.cfg)

	// Fatal-at-startup: an unresolved market means nothing else can run.
	market, err := client.MarketDetails(ctx, r.cfg.Exchange.Symbol)
	if err != nil {
		return fmt.Errorf("resolve market details: %w", err)
	}
	client.SetMarket(market)
	slog.Info("market resolved",
		"symbol", market.Symbol, "id", market.ID,
		"price_tick", market.PriceTick, "amount_tick", market.AmountTick)

	// Clean slate: a failure here means unknown resting orders, also fatal.
	if err := client.CancelAllOrders(ctx); err != nil {
		return fmt.Errorf("startup cancel-all: %w", err)
	}
	if err := sleepCtx(ctx, postCancelSettle); err != nil {
		return err
	}

	hub := engine.NewHub(hubInboxSize, market.ID, r.cfg.Exchange.AccountIndex, r.persistFill)
	go hub.Run(ctx)

	streamCtx, stopStreams := context.WithCancel(ctx)
	bookStream := lighter.NewBookStream(r.cfg.Exchange.WSURL, market.ID, hub.Inbox())
	statsWorker := lighter.NewStatsWorker(r.cfg.Exchange.WSURL, r.cfg.Exchange.AccountIndex, hub.Inbox())
	accountWorker := lighter.NewAccountAllWorker(r.cfg.Exchange.WSURL, r.cfg.Exchange.AccountIndex, hub.Inbox())

	// Cleanup is not cancellable: it uses a fresh context so an outstanding
	// order is cancelled even when the run context is already dead.
	defer func() {
		slog.Info("cleanup starting")
		stopStreams()
		bookStream.Stop()
		statsWorker.Disconnect()
		accountWorker.Disconnect()

		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := client.CancelAllOrders(cctx); err != nil {
			slog.Error("cleanup cancel-all failed", "err", err)
		}
		slog.Info("quoter stopped")
	}()

	if err := bookStream.Start(streamCtx); err != nil {
		return fmt.Errorf("start book stream: %w", err)
	}
	if err := statsWorker.Connect(streamCtx); err != nil {
		return fmt.Errorf("start user stats stream: %w", err)
	}
	if err := accountWorker.Connect(streamCtx); err != nil {
		return fmt.Errorf("start account stream: %w", err)
	}

	// Readiness gates, each fatal on timeout.
	slog.Info("waiting for initial order book")
	if err := hub.WaitBookReady(ctx, readinessTimeout); err != nil {
		return fmt.Errorf("timeout waiting for order book: %w", err)
	}
	slog.Info("waiting for valid account capital")
	if err := hub.WaitCapitalReady(ctx, readinessTimeout); err != nil {
		return fmt.Errorf("timeout waiting for account capital: %w", err)
	}
	slog.Info("waiting for initial position data")
	if err := hub.WaitAccountReady(ctx, readinessTimeout); err != nil {
		return fmt.Errorf("timeout waiting for position data: %w", err)
	}
	slog.Info("streams ready",
		"capital", hub.Capital().Available, "position", hub.Position().Size)

	pricer := strategy.NewPricer(strategy.PricerConfig{
		Symbol:          r.cfg.Exchange.Symbol,
		ParamsDir:       r.cfg.Trading.ParamsDir,
		RefreshInterval: time.Duration(r.cfg.Trading.ParamsRefreshSec) * time.Second,
		RequireParams:   r.cfg.Trading.RequireParams,
		StaticSpread:    r.cfg.Trading.Spread,
	})
	sizer := strategy.NewSizer(strategy.SizerConfig{
		UseDynamicSizing: r.cfg.Trading.UseDynamicSizing,
		BaseAmount:       r.cfg.Trading.BaseAmount,
		CapitalUsage:     r.cfg.Trading.CapitalUsage,
		SafetyMargin:     r.cfg.Trading.SafetyMargin,
		MinNotionalUSD:   r.cfg.Trading.MinNotionalUSD,
		MinSizeFloor:     r.cfg.Trading.MinOrderSizeFloor,
	})
	controller := engine.NewController(engine.ControllerConfig{
		OrderTimeout:   time.Duration(r.cfg.Trading.OrderTimeoutSec) * time.Second,
		MinNotionalUSD: r.cfg.Trading.MinNotionalUSD,
	}, hub, client, bookStream, pricer, sizer)

	if err := r.settleStartupPosition(ctx, hub, client, controller); err != nil {
		return err
	}

	go r.trackBalance(ctx, hub)

	controller.Run(ctx)
	return nil
}

// settleStartupPosition handles a pre-existing long position: either
// liquidate it (when configured) and wait for the stream to confirm the
// close, or pick the initial quoting side from its notional value.
func (r *Runner) settleStartupPosition(ctx context.Context, hub *engine.Hub, client *lighter.Client, controller *engine.Controller) error {
	pos := hub.Position()
	if pos.Size <= 0 {
		return nil
	}

	mid, ok := hub.Mid()

	if r.cfg.Trading.CloseLongOnStart {
		if !ok {
			slog.Warn("no fresh mid price yet, skipping auto-close this boot")
			return nil
		}
		slog.Info("closing pre-existing long position", "size", pos.Size)
		// Quote slightly above mid so the close is maker-side too.
		sellPrice := mid * (1.0 + r.cfg.Trading.Spread)
		ord := domain.OrderRequest{
			ClientID:   engine.ClientOrderID(time.Now()),
			Side:       domain.SideSell,
			Price:      sellPrice,
			Amount:     pos.Size,
			PostOnly:   true,
			ReduceOnly: true,
		}
		if err := client.CreateOrder(ctx, ord); err != nil {
			slog.Error("failed to place position closing order", "err", err)
			return nil
		}
		controller.SetSide(domain.SideSell)

		slog.Info("waiting for stream to confirm position close")
		deadline := time.Now().Add(liquidationWait)
		for time.Now().Before(deadline) {
			if hub.Position().IsFlat() {
				slog.Info("pre-existing position closed")
				return nil
			}
			if err := sleepCtx(ctx, liquidationPoll); err != nil {
				return err
			}
		}
		return fmt.Errorf("timed out waiting for startup position to close")
	}

	if !ok {
		slog.Warn("no mid price to evaluate existing position, starting on sell side")
		controller.SetSide(domain.SideSell)
		return nil
	}
	notional := pos.Notional(mid)
	if notional < r.cfg.Trading.MinNotionalUSD {
		slog.Info("existing position below minimum notional, starting on buy side",
			"notional", notional)
		controller.SetSide(domain.SideBuy)
	} else {
		slog.Info("existing position detected, starting on sell side",
			"notional", notional)
		controller.SetSide(domain.SideSell)
	}
	return nil
}

// persistFill is the hub's persistence hook; storage failures are logged
// and never reach the hotpath.
func (r *Runner) persistFill(f domain.Fill) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveFill(r.runID, f); err != nil {
		slog.Error("failed to persist fill", "trade_id", f.TradeID, "err", err)
	}
}

// trackBalance appends a portfolio-value line on a fixed period while no
// position is open, and mirrors the reading into the database.
func (r *Runner) trackBalance(ctx context.Context, hub *engine.Hub) {
	logPath := filepath.Join(r.cfg.Logging.Dir, balanceLogName)

	ticker := time.NewTicker(balancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pos := hub.Position()
		capital := hub.Capital()
		switch {
		case !pos.IsFlat():
			slog.Info("skipping balance logging, position open", "size", pos.Size)
		case !capital.Valid:
			slog.Info("skipping balance logging, portfolio value not yet received")
		default:
			line := fmt.Sprintf("[%s] Portfolio Value: $%.2f\n",
				time.Now().Format("2006-01-02 15:04:05"), capital.Portfolio)
			if err := appendLine(logPath, line); err != nil {
				slog.Error("failed to write balance log", "err", err)
			}
			if r.store != nil {
				if err := r.store.SaveBalanceSnapshot(r.runID, capital.Portfolio); err != nil {
					slog.Error("failed to persist balance snapshot", "err", err)
				}
			}
			slog.Info("portfolio value logged", "value", capital.Portfolio)
		}
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

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
