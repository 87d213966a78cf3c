package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/event"
	"quoter_go/internal/infra"

	"github.com/gorilla/websocket"
)

// AccountWorker consumes one of the two per-account channels
// (user_stats/{account} or account_all/{account}) and forwards parsed
// events to the hub inbox. Account events block on a full inbox rather than
// drop: losing a fill loses reconciliation ground truth.
type AccountWorker struct {
	wsURL        string
	channel      string
	accountIndex int64
	inbox        chan<- event.Event
	parse        func(*wsEnvelope) event.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatsWorker creates the consumer for user_stats/{account}.
func NewStatsWorker(wsURL string, accountIndex int64, inbox chan<- event.Event) *AccountWorker {
	w := &AccountWorker{
		wsURL:        wsURL,
		channel:      fmt.Sprintf("user_stats/%d", accountIndex),
		accountIndex: accountIndex,
		inbox:        inbox,
	}
	w.parse = w.parseStats
	return w
}

// NewAccountAllWorker creates the consumer for account_all/{account}.
func NewAccountAllWorker(wsURL string, accountIndex int64, inbox chan<- event.Event) *AccountWorker {
	w := &AccountWorker{
		wsURL:        wsURL,
		channel:      fmt.Sprintf("account_all/%d", accountIndex),
		accountIndex: accountIndex,
		inbox:        inbox,
	}
	w.parse = w.parseAccountAll
	return w
}

// Connect starts the connection loop.
func (w *AccountWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Disconnect stops the worker and waits for its goroutine to exit.
func (w *AccountWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *AccountWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()

	bo := newReconnectBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.run(ctx); err != nil {
			slog.Error("account stream failed, reconnecting",
				"channel", w.channel, "err", err)
			infra.GlobalMetrics.RecordReconnect()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// run dials, subscribes, and consumes messages until the connection drops.
func (w *AccountWorker) run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.NewStreamError(w.channel, fmt.Errorf("dial failed: %w", err))
	}
	defer conn.Close()
	infra.GlobalMetrics.IncrementConnections()
	defer infra.GlobalMetrics.DecrementConnections()

	sub := wsSubscribe{Type: "subscribe", Channel: w.channel}
	b, _ := json.Marshal(sub)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return domain.NewStreamError(w.channel, err)
	}
	slog.Info("account stream subscribed", "channel", w.channel)

	// Close the connection when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return domain.NewStreamError(w.channel, err)
		}
		w.handleMessage(ctx, msg)
	}
}

func (w *AccountWorker) handleMessage(ctx context.Context, msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("account stream: malformed message", "channel", w.channel, "err", err)
		return
	}

	if keepaliveTypes[env.Type] {
		return
	}

	ev := w.parse(&env)
	if ev == nil {
		slog.Debug("account stream: unhandled message",
			"channel", w.channel, "type", env.Type)
		return
	}

	select {
	case w.inbox <- ev:
	case <-ctx.Done():
	}
}

// parseStats handles user_stats payloads. Value validation (both > 0) is
// the hub's job; the worker only translates the wire shape.
func (w *AccountWorker) parseStats(env *wsEnvelope) event.Event {
	switch env.Type {
	case "update/user_stats", "subscribed/user_stats":
	default:
		return nil
	}
	if env.Stats == nil {
		return nil
	}

	available, errA := env.Stats.AvailableBalance.Float64()
	portfolio, errP := env.Stats.PortfolioValue.Float64()
	if errA != nil || errP != nil {
		slog.Warn("user stats with non-numeric values",
			"available", env.Stats.AvailableBalance, "portfolio", env.Stats.PortfolioValue)
		return nil
	}

	return &event.StatsEvent{
		AccountID: w.accountIndex,
		Available: available,
		Portfolio: portfolio,
	}
}

// parseAccountAll handles positions-and-trades payloads.
func (w *AccountWorker) parseAccountAll(env *wsEnvelope) event.Event {
	switch env.Type {
	case "update/account_all", "update/account", "subscribed/account_all":
	default:
		return nil
	}

	positions := make(map[int64]float64, len(env.Positions))
	for key, pos := range env.Positions {
		marketID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		size, err := pos.Position.Float64()
		if err != nil {
			continue
		}
		positions[marketID] = size
	}

	var fills []domain.Fill
	for _, trades := range env.Trades {
		for _, t := range trades {
			size, errS := t.Size.Float64()
			price, errP := t.Price.Float64()
			if errS != nil || errP != nil {
				continue
			}
			fills = append(fills, domain.Fill{
				TradeID:   t.TradeID,
				MarketID:  t.MarketID,
				Type:      t.Type,
				Size:      size,
				Price:     price,
				Timestamp: t.Timestamp,
			})
		}
	}

	return &event.AccountEvent{
		AccountID: w.accountIndex,
		Positions: positions,
		Fills:     fills,
	}
}
