package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillLedgerDedupAndBound(t *testing.T) {
	l := NewFillLedger(3)

	for i := int64(1); i <= 3; i++ {
		assert.True(t, l.Add(Fill{TradeID: i, Timestamp: i}))
	}
	assert.False(t, l.Add(Fill{TradeID: 2}), "duplicate trade id rejected")
	assert.Equal(t, 3, l.Len())

	// A fourth unique fill evicts the oldest; the evicted id becomes
	// addable again, which is fine for a bounded observability record.
	assert.True(t, l.Add(Fill{TradeID: 4, Timestamp: 4}))
	recent := l.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, int64(4), recent[0].TradeID, "most recent first")
	assert.Equal(t, int64(2), recent[2].TradeID)
}

func TestFillLedgerRecentReturnsCopy(t *testing.T) {
	l := NewFillLedger(5)
	l.Add(Fill{TradeID: 1, Price: 100})

	got := l.Recent()
	got[0].Price = 0
	assert.Equal(t, 100.0, l.Recent()[0].Price)
}

func TestPositionIsFlat(t *testing.T) {
	assert.True(t, PositionState{}.IsFlat())
	assert.True(t, PositionState{Size: 1e-12}.IsFlat(), "float residue counts as flat")
	assert.True(t, PositionState{Size: -1e-12}.IsFlat())
	assert.False(t, PositionState{Size: 0.001}.IsFlat())
	assert.False(t, PositionState{Size: -0.001}.IsFlat())
}

func TestPositionNotional(t *testing.T) {
	assert.Equal(t, 500.0, PositionState{Size: 5}.Notional(100))
	assert.Equal(t, -500.0, PositionState{Size: -5}.Notional(100))
}

func TestBookSnapshotMid(t *testing.T) {
	full := BookSnapshot{
		Bids: []PriceLevel{{Price: 99, Size: 1}},
		Asks: []PriceLevel{{Price: 101, Size: 1}},
	}
	mid, ok := full.Mid()
	require.True(t, ok)
	assert.Equal(t, 100.0, mid)

	oneSided := BookSnapshot{Bids: []PriceLevel{{Price: 99, Size: 1}}}
	_, ok = oneSided.Mid()
	assert.False(t, ok)

	empty := BookSnapshot{}
	_, ok = empty.Mid()
	assert.False(t, ok)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func TestStreamErrorIsRetriable(t *testing.T) {
	err := NewStreamError("order_book", assert.AnError)
	assert.True(t, IsRetriable(err))
	assert.ErrorIs(t, err, assert.AnError)

	cfgErr := &ConfigError{Field: "symbol", Err: assert.AnError}
	assert.False(t, IsRetriable(cfgErr))
}
