package domain

import "time"

// CapitalState holds the account's spendable capital as reported by the
// user-stats stream. Zero Valid means no accepted update has arrived yet.
type CapitalState struct {
	Available float64
	Portfolio float64
	Valid     bool
	UpdatedAt time.Time
}

// PositionState is the signed position size for the traded market. The
// account stream reporting no entry for the market is an explicit flat, not
// an unknown, so Size is always meaningful once the first account update
// has been applied.
type PositionState struct {
	Size      float64
	UpdatedAt time.Time
}

// flatEpsilon bounds float noise when deciding whether a position is closed.
const flatEpsilon = 1e-9

// IsFlat reports whether the position is effectively zero.
func (p PositionState) IsFlat() bool {
	return p.Size < flatEpsilon && p.Size > -flatEpsilon
}

// Notional returns the dollar value of the position at the given mid price.
func (p PositionState) Notional(mid float64) float64 {
	return p.Size * mid
}

// Fill is one executed trade reported by the account stream.
type Fill struct {
	TradeID   int64
	MarketID  int64
	Type      string
	Size      float64
	Price     float64
	Timestamp int64
}

// FillLedger is a bounded, de-duplicated, most-recent-first record of fills.
// It exists for observability; money-at-risk decisions never read it.
type FillLedger struct {
	cap   int
	fills []Fill
	seen  map[int64]struct{}
}

// NewFillLedger creates a ledger keeping at most capacity fills.
func NewFillLedger(capacity int) *FillLedger {
	return &FillLedger{
		cap:  capacity,
		seen: make(map[int64]struct{}, capacity),
	}
}

// Add records a fill unless its trade id is already present. It returns
// true when the fill was new. The oldest entry is evicted once the ledger
// is full.
func (l *FillLedger) Add(f Fill) bool {
	if _, dup := l.seen[f.TradeID]; dup {
		return false
	}
	l.fills = append([]Fill{f}, l.fills...)
	l.seen[f.TradeID] = struct{}{}
	if len(l.fills) > l.cap {
		evicted := l.fills[len(l.fills)-1]
		l.fills = l.fills[:len(l.fills)-1]
		delete(l.seen, evicted.TradeID)
	}
	return true
}

// Recent returns a copy of the ledger, most recent first.
func (l *FillLedger) Recent() []Fill {
	out := make([]Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Len returns the number of fills currently held.
func (l *FillLedger) Len() int {
	return len(l.fills)
}
