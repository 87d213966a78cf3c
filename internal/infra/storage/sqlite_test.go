package storage

import (
	"path/filepath"
	"testing"
	"time"

	"quoter_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err, "directory is created on demand")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveFillDedupsByTradeID(t *testing.T) {
	s := newTestStorage(t)

	fill := domain.Fill{
		TradeID:   42,
		MarketID:  21,
		Type:      "trade",
		Size:      0.5,
		Price:     100.25,
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, s.SaveFill("run-1", fill))
	require.NoError(t, s.SaveFill("run-1", fill), "replayed fill is a no-op")
	require.NoError(t, s.SaveFill("run-2", fill), "dedup spans runs")

	fills, err := s.RecentFills(10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(42), fills[0].TradeID)
	assert.Equal(t, "run-1", fills[0].RunID)
	assert.Equal(t, 100.25, fills[0].Price)
}

func TestRecentFillsOrderAndLimit(t *testing.T) {
	s := newTestStorage(t)

	base := time.Now().Add(-time.Hour)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.SaveFill("run-1", domain.Fill{
			TradeID:   i,
			MarketID:  21,
			Size:      1,
			Price:     float64(100 + i),
			Timestamp: base.Add(time.Duration(i) * time.Minute).UnixMilli(),
		}))
	}

	fills, err := s.RecentFills(3)
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.Equal(t, int64(5), fills[0].TradeID, "most recent first")
	assert.Equal(t, int64(3), fills[2].TradeID)
}

func TestBalanceSnapshots(t *testing.T) {
	s := newTestStorage(t)

	last, err := s.LastBalanceSnapshot()
	require.NoError(t, err)
	assert.Nil(t, last, "empty table is not an error")

	require.NoError(t, s.SaveBalanceSnapshot("run-1", 1000.5))
	require.NoError(t, s.SaveBalanceSnapshot("run-1", 1001.7))

	last, err = s.LastBalanceSnapshot()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1001.7, last.PortfolioValue)
	assert.Equal(t, "run-1", last.RunID)
}
