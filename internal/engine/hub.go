package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/event"
	"quoter_go/internal/infra"
)

const (
	midFreshWindow = 10 * time.Second
	staleAfter     = 30 * time.Second
	ledgerCapacity = 20
)

// Hub is the single-threaded state applier. Stream workers send parsed
// events to its inbox; the Run goroutine is the sole writer of the book,
// capital and position caches. External readers go through the RLock'ed
// getters and must re-read after any sleep rather than reuse stale locals.
type Hub struct {
	inbox        chan event.Event
	marketID     int64
	accountIndex int64

	// Caches. Written only by the Run goroutine.
	book        domain.BookSnapshot
	midCached   float64
	midValid    bool
	lastBookAt  time.Time
	forcedStale bool
	capital     domain.CapitalState
	position    domain.PositionState
	ledger      *domain.FillLedger

	bookReady    chan struct{}
	capitalReady chan struct{}
	accountReady chan struct{}
	bookOnce     sync.Once
	capitalOnce  sync.Once
	accountOnce  sync.Once

	bookWaiters []chan struct{}

	// onFill is invoked for each newly observed fill (persistence hook).
	onFill func(domain.Fill)

	mu    sync.RWMutex // external reads only; the hotpath is single-threaded
	nowFn func() time.Time
}

// NewHub creates a hub for one market and account.
func NewHub(inboxSize int, marketID, accountIndex int64, onFill func(domain.Fill)) *Hub {
	return &Hub{
		inbox:        make(chan event.Event, inboxSize),
		marketID:     marketID,
		accountIndex: accountIndex,
		ledger:       domain.NewFillLedger(ledgerCapacity),
		bookReady:    make(chan struct{}),
		capitalReady: make(chan struct{}),
		accountReady: make(chan struct{}),
		onFill:       onFill,
		nowFn:        time.Now,
	}
}

// Inbox returns the event channel. Stream workers send events here.
func (h *Hub) Inbox() chan<- event.Event {
	return h.inbox
}

// Run starts the apply loop. This MUST be run in a single goroutine.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("state hub started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("state hub stopping")
			return
		case ev := <-h.inbox:
			h.processEvent(ev)
			infra.GlobalMetrics.RecordEvent()
		}
	}
}

func (h *Hub) processEvent(ev event.Event) {
	switch e := ev.(type) {
	case *event.BookEvent:
		h.applyBook(e)
		event.ReleaseBookEvent(e)
	case *event.StatsEvent:
		h.applyStats(e)
	case *event.AccountEvent:
		h.applyAccount(e)
	default:
		slog.Warn("unknown event type", "type", ev.GetType())
	}
}

// applyBook replaces the cached book wholesale. A snapshot with an empty
// side does not clear the previously cached mid price; stale-but-present
// beats none.
func (h *Hub) applyBook(e *event.BookEvent) {
	if e.MarketID != h.marketID {
		return
	}

	h.mu.Lock()
	h.book = domain.BookSnapshot{
		Bids:      append([]domain.PriceLevel(nil), e.Bids...),
		Asks:      append([]domain.PriceLevel(nil), e.Asks...),
		UpdatedAt: h.nowFn(),
	}
	if mid, ok := h.book.Mid(); ok {
		h.midCached = mid
		h.midValid = true
	}
	h.lastBookAt = h.nowFn()
	h.forcedStale = false
	waiters := h.bookWaiters
	h.bookWaiters = nil
	h.mu.Unlock()

	infra.GlobalMetrics.SetStreamHealth(true)
	for _, ch := range waiters {
		close(ch)
	}
	h.bookOnce.Do(func() { close(h.bookReady) })
}

// applyStats accepts a capital update only when both reported values are
// strictly positive; anything else is logged and dropped so the last good
// value survives transient garbage.
func (h *Hub) applyStats(e *event.StatsEvent) {
	if e.AccountID != h.accountIndex {
		return
	}
	if e.Available <= 0 || e.Portfolio <= 0 {
		slog.Warn("dropping user stats with invalid values",
			"available", e.Available, "portfolio", e.Portfolio)
		return
	}

	h.mu.Lock()
	h.capital = domain.CapitalState{
		Available: e.Available,
		Portfolio: e.Portfolio,
		Valid:     true,
		UpdatedAt: h.nowFn(),
	}
	h.mu.Unlock()

	slog.Info("user stats updated",
		"available", e.Available, "portfolio", e.Portfolio)
	h.capitalOnce.Do(func() { close(h.capitalReady) })
}

// applyAccount takes the reported size for the tracked market, treating a
// missing entry as an explicit flat, and merges new fills into the bounded
// ledger. The readiness signal fires on the first update regardless of
// content.
func (h *Hub) applyAccount(e *event.AccountEvent) {
	if e.AccountID != h.accountIndex {
		return
	}

	newSize := e.Positions[h.marketID] // zero when absent: flat, not unknown

	h.mu.Lock()
	if newSize != h.position.Size {
		slog.Info("position update",
			"market", h.marketID, "old", h.position.Size, "new", newSize)
	}
	h.position = domain.PositionState{Size: newSize, UpdatedAt: h.nowFn()}

	fills := append([]domain.Fill(nil), e.Fills...)
	sort.Slice(fills, func(i, j int) bool {
		return fills[i].Timestamp < fills[j].Timestamp
	})
	var fresh []domain.Fill
	for _, f := range fills {
		if h.ledger.Add(f) {
			fresh = append(fresh, f)
		}
	}
	h.mu.Unlock()

	for _, f := range fresh {
		slog.Info("trade update",
			"market", f.MarketID, "type", f.Type, "size", f.Size, "price", f.Price)
		infra.GlobalMetrics.RecordFill()
		if h.onFill != nil {
			h.onFill(f)
		}
	}

	h.accountOnce.Do(func() { close(h.accountReady) })
}

// Mid returns the current mid price. The cached value is used while it is
// younger than the freshness window; past that the mid is recomputed from
// the raw cached book, and only an empty book yields no price at all.
func (h *Hub) Mid() (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.midValid && h.nowFn().Sub(h.lastBookAt) < midFreshWindow {
		return h.midCached, true
	}
	return h.book.Mid()
}

// Healthy reports whether the book stream delivered an update recently
// enough to trust.
func (h *Hub) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.forcedStale || h.lastBookAt.IsZero() {
		return false
	}
	return h.nowFn().Sub(h.lastBookAt) <= staleAfter
}

// MarkStale forces the next health check to fail, pushing the controller
// into the reconnect path. Cleared by the next book update.
func (h *Hub) MarkStale() {
	h.mu.Lock()
	h.forcedStale = true
	h.mu.Unlock()
	infra.GlobalMetrics.SetStreamHealth(false)
}

// Capital returns a copy of the capital cache.
func (h *Hub) Capital() domain.CapitalState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capital
}

// Position returns a copy of the position cache.
func (h *Hub) Position() domain.PositionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.position
}

// RecentFills returns the fill ledger, most recent first.
func (h *Hub) RecentFills() []domain.Fill {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ledger.Recent()
}

// AwaitBookUpdate blocks until the next book snapshot is applied, the
// timeout elapses, or the context is cancelled.
func (h *Hub) AwaitBookUpdate(ctx context.Context, timeout time.Duration) error {
	ch := make(chan struct{})
	h.mu.Lock()
	h.bookWaiters = append(h.bookWaiters, ch)
	h.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return domain.ErrReconnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitBookReady blocks until the first book snapshot arrives.
func (h *Hub) WaitBookReady(ctx context.Context, timeout time.Duration) error {
	return waitSignal(ctx, h.bookReady, timeout)
}

// WaitCapitalReady blocks until the first valid capital update arrives.
func (h *Hub) WaitCapitalReady(ctx context.Context, timeout time.Duration) error {
	return waitSignal(ctx, h.capitalReady, timeout)
}

// WaitAccountReady blocks until the first account-wide update arrives.
func (h *Hub) WaitAccountReady(ctx context.Context, timeout time.Duration) error {
	return waitSignal(ctx, h.accountReady, timeout)
}

func waitSignal(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
