package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsApplied   atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersCancelled atomic.Uint64
	fillsRecorded   atomic.Uint64
	reconnects      atomic.Uint64
	loopErrors      atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	streamHealthy     atomic.Int32 // 1 = healthy, 0 = stale
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records one stream event applied by the hub.
func (m *Metrics) RecordEvent() {
	m.eventsApplied.Add(1)
}

// RecordOrderPlaced records a successful order submission.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderCancelled records a cancel-all round trip.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordFill records a new fill merged into the ledger.
func (m *Metrics) RecordFill() {
	m.fillsRecorded.Add(1)
}

// RecordReconnect records one stream reconnection attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordLoopError records a caught control-loop error.
func (m *Metrics) RecordLoopError() {
	m.loopErrors.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetStreamHealth sets the book stream health gauge.
func (m *Metrics) SetStreamHealth(healthy bool) {
	if healthy {
		m.streamHealthy.Store(1)
	} else {
		m.streamHealthy.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsApplied     uint64
	OrdersPlaced      uint64
	OrdersCancelled   uint64
	FillsRecorded     uint64
	Reconnects        uint64
	LoopErrors        uint64
	ActiveConnections int32
	StreamHealthy     bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsApplied:     m.eventsApplied.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		FillsRecorded:     m.fillsRecorded.Load(),
		Reconnects:        m.reconnects.Load(),
		LoopErrors:        m.loopErrors.Load(),
		ActiveConnections: m.activeConnections.Load(),
		StreamHealthy:     m.streamHealthy.Load() == 1,
		Timestamp:         time.Now(),
	}
}
