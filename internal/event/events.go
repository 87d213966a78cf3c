package event

import "quoter_go/internal/domain"

// Event is a parsed stream message bound for the hub's inbox. Workers only
// translate wire payloads into events; all state mutation happens on the
// hub's single goroutine.
type Event interface {
	GetType() string
}

// BookEvent carries a wholesale order book replacement for one market.
type BookEvent struct {
	MarketID int64
	Bids     []domain.PriceLevel
	Asks     []domain.PriceLevel
}

func (e *BookEvent) GetType() string { return "book" }

// StatsEvent carries an account capital update from the user_stats channel.
type StatsEvent struct {
	AccountID int64
	Available float64
	Portfolio float64
}

func (e *StatsEvent) GetType() string { return "user_stats" }

// AccountEvent carries positions and trades from the account_all channel.
// Positions map market id to signed size; a missing entry for a market
// means flat.
type AccountEvent struct {
	AccountID int64
	Positions map[int64]float64
	Fills     []domain.Fill
}

func (e *AccountEvent) GetType() string { return "account_all" }
