package lighter

import (
	"testing"

	"quoter_go/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainBook(t *testing.T, inbox chan event.Event) *event.BookEvent {
	t.Helper()
	select {
	case ev := <-inbox:
		book, ok := ev.(*event.BookEvent)
		require.True(t, ok)
		return book
	default:
		t.Fatal("expected a book event in the inbox")
		return nil
	}
}

func TestBookWorkerHandleMessage(t *testing.T) {
	inbox := make(chan event.Event, 4)
	w := NewBookWorker("wss://example/stream", 21, inbox)

	w.handleMessage([]byte(`{
		"type": "update/order_book",
		"channel": "order_book/21",
		"order_book": {
			"bids": [{"price": "99.5", "size": "2"}],
			"asks": [{"price": "100.5", "size": "3"}]
		}
	}`))

	book := drainBook(t, inbox)
	assert.Equal(t, int64(21), book.MarketID)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, 99.5, book.Bids[0].Price)
	assert.Equal(t, 2.0, book.Bids[0].Size)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, 100.5, book.Asks[0].Price)
}

func TestBookWorkerIgnoresOtherMarketsAndNoise(t *testing.T) {
	inbox := make(chan event.Event, 4)
	w := NewBookWorker("wss://example/stream", 21, inbox)

	w.handleMessage([]byte(`{
		"type": "update/order_book",
		"channel": "order_book/99",
		"order_book": {"bids": [{"price": "1", "size": "1"}], "asks": []}
	}`))
	w.handleMessage([]byte(`{"type": "ping"}`))
	w.handleMessage([]byte(`{"type": "update/order_book", "channel": "order_book/21"}`))
	w.handleMessage([]byte(`not json`))

	assert.Empty(t, inbox)
}

func TestBookWorkerSkipsUnparseableLevels(t *testing.T) {
	inbox := make(chan event.Event, 4)
	w := NewBookWorker("wss://example/stream", 21, inbox)

	w.handleMessage([]byte(`{
		"type": "subscribed/order_book",
		"channel": "order_book/21",
		"order_book": {
			"bids": [{"price": "abc", "size": "1"}, {"price": "99", "size": "1"}],
			"asks": [{"price": "101", "size": "1"}]
		}
	}`))

	book := drainBook(t, inbox)
	require.Len(t, book.Bids, 1, "garbage level dropped, good level kept")
	assert.Equal(t, 99.0, book.Bids[0].Price)
}

func TestBookWorkerDropsWhenInboxFull(t *testing.T) {
	inbox := make(chan event.Event, 1)
	w := NewBookWorker("wss://example/stream", 21, inbox)

	msg := []byte(`{
		"type": "update/order_book",
		"channel": "order_book/21",
		"order_book": {"bids": [{"price": "99", "size": "1"}], "asks": [{"price": "101", "size": "1"}]}
	}`)
	w.handleMessage(msg)
	w.handleMessage(msg) // inbox full: superseded snapshot is dropped

	assert.Len(t, inbox, 1)
}

func TestMarketIDFromChannel(t *testing.T) {
	assert.Equal(t, int64(21), marketIDFromChannel("order_book/21"))
	assert.Equal(t, int64(0), marketIDFromChannel("order_book/0"))
	assert.Equal(t, int64(-1), marketIDFromChannel("order_book"))
	assert.Equal(t, int64(-1), marketIDFromChannel("order_book/x"))
}

func TestParseStats(t *testing.T) {
	w := NewStatsWorker("wss://example/stream", 5, nil)

	var env wsEnvelope
	env.Type = "update/user_stats"
	env.Stats = &wsStats{AvailableBalance: "123.45", PortfolioValue: "678.9"}

	ev := w.parse(&env)
	require.NotNil(t, ev)
	stats, ok := ev.(*event.StatsEvent)
	require.True(t, ok)
	assert.Equal(t, int64(5), stats.AccountID)
	assert.Equal(t, 123.45, stats.Available)
	assert.Equal(t, 678.9, stats.Portfolio)
}

func TestParseStatsRejectsGarbage(t *testing.T) {
	w := NewStatsWorker("wss://example/stream", 5, nil)

	t.Run("wrong type", func(t *testing.T) {
		env := wsEnvelope{Type: "update/account_all"}
		assert.Nil(t, w.parse(&env))
	})

	t.Run("missing stats", func(t *testing.T) {
		env := wsEnvelope{Type: "update/user_stats"}
		assert.Nil(t, w.parse(&env))
	})

	t.Run("non-numeric balance", func(t *testing.T) {
		env := wsEnvelope{
			Type:  "update/user_stats",
			Stats: &wsStats{AvailableBalance: "oops", PortfolioValue: "1"},
		}
		assert.Nil(t, w.parse(&env))
	})
}

func TestParseAccountAll(t *testing.T) {
	w := NewAccountAllWorker("wss://example/stream", 5, nil)

	var env wsEnvelope
	env.Type = "update/account_all"
	env.Positions = map[string]wsPosition{
		"21":  {Position: "1.5"},
		"bad": {Position: "1"},
		"7":   {Position: "oops"},
	}
	env.Trades = map[string][]wsTrade{
		"21": {
			{TradeID: 9, MarketID: 21, Type: "trade", Size: "0.5", Price: "100.1", Timestamp: 1700000000},
			{TradeID: 10, MarketID: 21, Type: "trade", Size: "x", Price: "100.1", Timestamp: 1700000001},
		},
	}

	ev := w.parse(&env)
	require.NotNil(t, ev)
	acct, ok := ev.(*event.AccountEvent)
	require.True(t, ok)
	assert.Equal(t, int64(5), acct.AccountID)
	assert.Equal(t, map[int64]float64{21: 1.5}, acct.Positions)
	require.Len(t, acct.Fills, 1, "unparseable trade dropped")
	assert.Equal(t, int64(9), acct.Fills[0].TradeID)
	assert.Equal(t, 0.5, acct.Fills[0].Size)
}

func TestParseAccountAllEmptyUpdateStillEmits(t *testing.T) {
	w := NewAccountAllWorker("wss://example/stream", 5, nil)

	env := wsEnvelope{Type: "subscribed/account_all"}
	ev := w.parse(&env)
	require.NotNil(t, ev, "an empty account update still confirms flat positions")
	acct := ev.(*event.AccountEvent)
	assert.Empty(t, acct.Positions)
	assert.Empty(t, acct.Fills)
}
