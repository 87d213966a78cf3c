package engine

import (
	"context"
	"testing"
	"time"

	"quoter_go/internal/domain"
	"quoter_go/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMarketID = int64(7)
	testAccount  = int64(3)
)

func newTestHub() (*Hub, *time.Time) {
	h := NewHub(16, testMarketID, testAccount, nil)
	now := time.Unix(1_700_000_000, 0)
	h.nowFn = func() time.Time { return now }
	return h, &now
}

func bookEvent(marketID int64, bid, ask float64) *event.BookEvent {
	ev := &event.BookEvent{MarketID: marketID}
	if bid > 0 {
		ev.Bids = []domain.PriceLevel{{Price: bid, Size: 1}}
	}
	if ask > 0 {
		ev.Asks = []domain.PriceLevel{{Price: ask, Size: 1}}
	}
	return ev
}

func TestMidFromBookUpdates(t *testing.T) {
	h, _ := newTestHub()

	_, ok := h.Mid()
	assert.False(t, ok, "no book yet")

	h.processEvent(bookEvent(testMarketID, 99, 101))
	mid, ok := h.Mid()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)

	// Updates for other markets are ignored.
	h.processEvent(bookEvent(int64(99), 10, 20))
	mid, _ = h.Mid()
	assert.Equal(t, 100.0, mid)
}

func TestEmptySideKeepsCachedMid(t *testing.T) {
	h, now := newTestHub()

	h.processEvent(bookEvent(testMarketID, 99, 101))
	h.processEvent(bookEvent(testMarketID, 98, 0)) // ask side empty

	// Within the freshness window the previously cached mid survives.
	mid, ok := h.Mid()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)

	// Once the cache ages out, the raw one-sided book cannot produce a mid.
	*now = now.Add(11 * time.Second)
	_, ok = h.Mid()
	assert.False(t, ok)
}

func TestMidRecomputedFromRawBookWhenCacheStale(t *testing.T) {
	h, now := newTestHub()

	h.processEvent(bookEvent(testMarketID, 99, 101))
	*now = now.Add(11 * time.Second)

	// Cache is stale but the raw book is two-sided: recompute.
	mid, ok := h.Mid()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)
}

func TestHealthiness(t *testing.T) {
	h, now := newTestHub()

	assert.False(t, h.Healthy(), "no update yet")

	h.processEvent(bookEvent(testMarketID, 99, 101))
	assert.True(t, h.Healthy())

	*now = now.Add(31 * time.Second)
	assert.False(t, h.Healthy(), "no update for >30s")

	h.processEvent(bookEvent(testMarketID, 99, 101))
	assert.True(t, h.Healthy())

	h.MarkStale()
	assert.False(t, h.Healthy(), "forced stale")

	h.processEvent(bookEvent(testMarketID, 99, 101))
	assert.True(t, h.Healthy(), "book update clears forced staleness")
}

func TestCapitalAcceptedOnlyWhenBothPositive(t *testing.T) {
	h, _ := newTestHub()

	cases := []struct {
		name      string
		available float64
		portfolio float64
		accepted  bool
	}{
		{"both positive", 1000, 1200, true},
		{"zero available", 0, 1200, false},
		{"negative available", -1, 1200, false},
		{"zero portfolio", 1000, 0, false},
	}

	h.processEvent(&event.StatsEvent{AccountID: testAccount, Available: 500, Portfolio: 600})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := h.Capital()
			h.processEvent(&event.StatsEvent{
				AccountID: testAccount, Available: tc.available, Portfolio: tc.portfolio,
			})
			got := h.Capital()
			if tc.accepted {
				assert.Equal(t, tc.available, got.Available)
				assert.Equal(t, tc.portfolio, got.Portfolio)
			} else {
				assert.Equal(t, before, got, "invalid update must preserve last good value")
			}
		})
	}
}

func TestCapitalIgnoresOtherAccounts(t *testing.T) {
	h, _ := newTestHub()
	h.processEvent(&event.StatsEvent{AccountID: 42, Available: 1, Portfolio: 1})
	assert.False(t, h.Capital().Valid)
}

func TestPositionAbsentMeansFlat(t *testing.T) {
	h, _ := newTestHub()

	h.processEvent(&event.AccountEvent{
		AccountID: testAccount,
		Positions: map[int64]float64{testMarketID: 2.5},
	})
	assert.Equal(t, 2.5, h.Position().Size)

	// The next update carries no entry for our market: explicit flat.
	h.processEvent(&event.AccountEvent{
		AccountID: testAccount,
		Positions: map[int64]float64{99: 1.0},
	})
	assert.True(t, h.Position().IsFlat())
}

func TestFillLedgerMergesAndDedups(t *testing.T) {
	var persisted []domain.Fill
	h := NewHub(16, testMarketID, testAccount, func(f domain.Fill) {
		persisted = append(persisted, f)
	})

	fills := []domain.Fill{
		{TradeID: 1, MarketID: testMarketID, Size: 1, Price: 100, Timestamp: 10},
		{TradeID: 2, MarketID: testMarketID, Size: 2, Price: 101, Timestamp: 20},
	}
	h.processEvent(&event.AccountEvent{AccountID: testAccount, Fills: fills})

	// Same fills again plus one new: only the new one is merged.
	h.processEvent(&event.AccountEvent{
		AccountID: testAccount,
		Fills: append(fills, domain.Fill{
			TradeID: 3, MarketID: testMarketID, Size: 3, Price: 102, Timestamp: 30,
		}),
	})

	recent := h.RecentFills()
	require.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].TradeID, "most recent first")
	assert.Len(t, persisted, 3, "persistence hook fires once per unique fill")
}

func TestReadinessSignals(t *testing.T) {
	h, _ := newTestHub()
	ctx := context.Background()

	err := h.WaitBookReady(ctx, 10*time.Millisecond)
	assert.Error(t, err, "not ready before first snapshot")

	h.processEvent(bookEvent(testMarketID, 99, 101))
	assert.NoError(t, h.WaitBookReady(ctx, time.Second))

	// Capital readiness fires only on the first *valid* update.
	h.processEvent(&event.StatsEvent{AccountID: testAccount, Available: 0, Portfolio: 5})
	err = h.WaitCapitalReady(ctx, 10*time.Millisecond)
	assert.Error(t, err)
	h.processEvent(&event.StatsEvent{AccountID: testAccount, Available: 5, Portfolio: 5})
	assert.NoError(t, h.WaitCapitalReady(ctx, time.Second))

	// Account readiness fires on any first update, even an empty one.
	h.processEvent(&event.AccountEvent{AccountID: testAccount})
	assert.NoError(t, h.WaitAccountReady(ctx, time.Second))
}

func TestAwaitBookUpdate(t *testing.T) {
	h, _ := newTestHub()

	err := h.AwaitBookUpdate(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrReconnectTimeout)

	done := make(chan error, 1)
	go func() {
		done <- h.AwaitBookUpdate(context.Background(), time.Second)
	}()
	// Give the waiter a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	h.processEvent(bookEvent(testMarketID, 99, 101))
	assert.NoError(t, <-done)
}
