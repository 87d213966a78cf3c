package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/event"
	"quoter_go/internal/infra"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second
	return bo
}

// BookWorker consumes the order-book channel for one market and forwards
// snapshots to the hub inbox. It reconnects with backoff indefinitely; the
// exit channel closes only when the context is cancelled, which is how the
// health monitor distinguishes "reconnecting" from "gone".
type BookWorker struct {
	wsURL    string
	marketID int64
	inbox    chan<- event.Event

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBookWorker creates an order-book stream worker.
func NewBookWorker(wsURL string, marketID int64, inbox chan<- event.Event) *BookWorker {
	return &BookWorker{
		wsURL:    wsURL,
		marketID: marketID,
		inbox:    inbox,
		done:     make(chan struct{}),
	}
}

// Connect starts the connection loop.
func (w *BookWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Alive reports whether the worker goroutine is still running.
func (w *BookWorker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *BookWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)

	bo := newReconnectBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("book stream connection failed", "err", err)
			infra.GlobalMetrics.RecordReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
				continue
			}
		} else {
			bo.Reset()
			w.readLoop(ctx)
		}
	}
}

func (w *BookWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.NewStreamError("order_book", fmt.Errorf("dial failed: %w", err))
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	sub := wsSubscribe{Type: "subscribe", Channel: fmt.Sprintf("order_book/%d", w.marketID)}
	b, _ := json.Marshal(sub)
	if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("book stream connected", "market", w.marketID)
	return nil
}

func (w *BookWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return domain.NewStreamError("order_book", fmt.Errorf("no conn"))
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *BookWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			slog.Warn("book stream read failed", "err", err)
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *BookWorker) handleMessage(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("book stream: malformed message", "err", err)
		return
	}

	switch env.Type {
	case "subscribed/order_book", "update/order_book":
		if env.OrderBook == nil {
			return
		}
		marketID := marketIDFromChannel(env.Channel)
		if marketID != w.marketID {
			return
		}
		ev := event.AcquireBookEvent()
		ev.MarketID = marketID
		ev.Bids = appendLevels(ev.Bids, env.OrderBook.Bids)
		ev.Asks = appendLevels(ev.Asks, env.OrderBook.Asks)
		// Drop when the hub is behind: the next snapshot supersedes this
		// one anyway.
		select {
		case w.inbox <- ev:
		default:
			event.ReleaseBookEvent(ev)
		}
	default:
		if keepaliveTypes[env.Type] {
			return
		}
		slog.Warn("book stream: unknown message type", "type", env.Type)
	}
}

func (w *BookWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		infra.GlobalMetrics.DecrementConnections()
	}
}

// Disconnect stops the worker and waits for its goroutine to exit.
func (w *BookWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

func marketIDFromChannel(channel string) int64 {
	idx := strings.LastIndexByte(channel, '/')
	if idx < 0 {
		return -1
	}
	id, err := strconv.ParseInt(channel[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func appendLevels(dst []domain.PriceLevel, levels []wsLevel) []domain.PriceLevel {
	for _, lv := range levels {
		price, errP := lv.Price.Float64()
		size, errS := lv.Size.Float64()
		if errP != nil || errS != nil {
			continue
		}
		dst = append(dst, domain.PriceLevel{Price: price, Size: size})
	}
	return dst
}

// BookStream owns the current book worker and rebuilds it on demand. It is
// the controller's reconnection handle.
type BookStream struct {
	wsURL    string
	marketID int64
	inbox    chan<- event.Event

	mu     sync.Mutex
	worker *BookWorker
}

// NewBookStream creates the supervisor; Start must be called before use.
func NewBookStream(wsURL string, marketID int64, inbox chan<- event.Event) *BookStream {
	return &BookStream{wsURL: wsURL, marketID: marketID, inbox: inbox}
}

// Start launches the initial worker.
func (s *BookStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worker = NewBookWorker(s.wsURL, s.marketID, s.inbox)
	return s.worker.Connect(ctx)
}

// Restart tears down the current worker and launches a fresh one.
func (s *BookStream) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Info("restarting book stream", "market", s.marketID)
	if s.worker != nil {
		s.worker.Disconnect()
	}
	s.worker = NewBookWorker(s.wsURL, s.marketID, s.inbox)
	return s.worker.Connect(ctx)
}

// Alive reports whether the current worker goroutine is running.
func (s *BookStream) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker != nil && s.worker.Alive()
}

// Stop disconnects the current worker.
func (s *BookStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil {
		s.worker.Disconnect()
		s.worker = nil
	}
}
