package domain

import "time"

// Side is the quoting side of the engine. Buy accumulates inventory,
// Sell reduces it.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ActiveOrder describes the single order believed to be resting on the
// exchange. At most one ActiveOrder exists at any time; the controller is
// its only writer.
type ActiveOrder struct {
	ClientID int64
	Side     Side
	Price    float64
	Amount   float64
	PlacedAt time.Time
}

// OrderRequest is the order submission payload handed to the trading
// transport. Price and Amount are unscaled; the transport applies the
// market's tick sizes.
type OrderRequest struct {
	ClientID   int64
	Side       Side
	Price      float64
	Amount     float64
	PostOnly   bool
	ReduceOnly bool
}
