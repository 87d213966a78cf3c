package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketInfo is the resolved metadata for the traded market. Tick sizes are
// kept as decimals so boundary scaling stays exact.
type MarketInfo struct {
	Symbol     string
	ID         int64
	PriceTick  decimal.Decimal
	AmountTick decimal.Decimal
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot holds the latest order book for the traded market. It is
// replaced wholesale on every stream message; the hub is its only writer.
type BookSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// Mid returns the mid price recomputed from the raw book. The second return
// is false when either side is empty; a one-sided book has no trustworthy
// mid.
func (b *BookSnapshot) Mid() (float64, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2, true
}
