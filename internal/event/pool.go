package event

import (
	"sync"
)

// Book updates are the high-frequency path, so BookEvents are pooled to
// reduce GC pressure.
//
// Usage:
//
//	ev := AcquireBookEvent()
//	ev.MarketID = id
//	// ... send, process ...
//	ReleaseBookEvent(ev)  // Return to pool after processing
var bookPool = sync.Pool{
	New: func() interface{} {
		return &BookEvent{}
	},
}

// AcquireBookEvent gets a BookEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireBookEvent() *BookEvent {
	return bookPool.Get().(*BookEvent)
}

// ReleaseBookEvent returns a BookEvent to the pool.
// The event is reset before being pooled; the level slices keep their
// backing arrays so steady-state processing stops allocating.
func ReleaseBookEvent(ev *BookEvent) {
	if ev == nil {
		return
	}
	ev.MarketID = 0
	ev.Bids = ev.Bids[:0]
	ev.Asks = ev.Asks[:0]

	bookPool.Put(ev)
}
