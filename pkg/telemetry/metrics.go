// Package telemetry provides observability primitives for the session
// transport: structured logging, metrics collection, Prometheus export,
// distributed tracing, and health checks.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics across sessions, the reliability engine,
// and the handshake path.
type Collector struct {
	sessionsActive   atomic.Uint64
	sessionsTotal    atomic.Uint64
	sessionsFailed   atomic.Uint64
	sessionsExpired  atomic.Uint64
	handshakeLatency *Histogram

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	packetsSent   atomic.Uint64
	packetsRecv   atomic.Uint64

	retransmits       atomic.Uint64
	queueOverflows    atomic.Uint64
	reconnectsStarted atomic.Uint64
	reconnectsOK      atomic.Uint64
	authFailures      atomic.Uint64
	replaysBlocked    atomic.Uint64

	sealErrors     atomic.Uint64
	openErrors     atomic.Uint64
	protocolErrors atomic.Uint64

	connectionRateLimits atomic.Uint64
	handshakeRateLimits  atomic.Uint64

	sealLatency *Histogram
	openLatency *Histogram

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		sealLatency:      NewHistogram(LatencyBuckets),
		openLatency:      NewHistogram(LatencyBuckets),
		createdAt:        time.Now(),
		labels:           labels,
	}
}

var (
	// HandshakeLatencyBuckets bounds handshake duration, in milliseconds.
	HandshakeLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

	// LatencyBuckets bounds seal/open operation duration, in microseconds.
	LatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
)

// --- Session metrics ---

func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

func (c *Collector) SessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (c *Collector) SessionFailed()  { c.sessionsFailed.Add(1) }
func (c *Collector) SessionExpired() { c.sessionsExpired.Add(1) }

func (c *Collector) RecordHandshakeLatency(d time.Duration) {
	c.handshakeLatency.Observe(float64(d.Milliseconds()))
}

// --- Traffic metrics ---

func (c *Collector) RecordBytesSent(n uint64)     { c.bytesSent.Add(n) }
func (c *Collector) RecordBytesReceived(n uint64) { c.bytesReceived.Add(n) }
func (c *Collector) RecordPacketSent()            { c.packetsSent.Add(1) }
func (c *Collector) RecordPacketReceived()        { c.packetsRecv.Add(1) }

// --- Reliability metrics ---

func (c *Collector) RecordRetransmit()      { c.retransmits.Add(1) }
func (c *Collector) RecordQueueOverflow()   { c.queueOverflows.Add(1) }
func (c *Collector) RecordReconnectStart()  { c.reconnectsStarted.Add(1) }
func (c *Collector) RecordReconnectOK()     { c.reconnectsOK.Add(1) }
func (c *Collector) RecordReplayBlocked()   { c.replaysBlocked.Add(1) }
func (c *Collector) RecordAuthFailure()     { c.authFailures.Add(1) }

// --- Error metrics ---

func (c *Collector) RecordSealError()     { c.sealErrors.Add(1) }
func (c *Collector) RecordOpenError()     { c.openErrors.Add(1) }
func (c *Collector) RecordProtocolError() { c.protocolErrors.Add(1) }

// --- Admission control metrics ---

func (c *Collector) RecordConnectionRateLimit() { c.connectionRateLimits.Add(1) }
func (c *Collector) RecordHandshakeRateLimit()  { c.handshakeRateLimits.Add(1) }

// --- Performance metrics ---

func (c *Collector) RecordSealLatency(d time.Duration) {
	c.sealLatency.Observe(float64(d.Microseconds()))
}

func (c *Collector) RecordOpenLatency(d time.Duration) {
	c.openLatency.Observe(float64(d.Microseconds()))
}

// Snapshot is a point-in-time read of every metric.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	SessionsActive  uint64
	SessionsTotal   uint64
	SessionsFailed  uint64
	SessionsExpired uint64

	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	PacketsRecv   uint64

	Retransmits       uint64
	QueueOverflows    uint64
	ReconnectsStarted uint64
	ReconnectsOK      uint64
	AuthFailures      uint64
	ReplaysBlocked    uint64

	SealErrors     uint64
	OpenErrors     uint64
	ProtocolErrors uint64

	ConnectionRateLimits uint64
	HandshakeRateLimits  uint64

	HandshakeLatency HistogramSummary
	SealLatency      HistogramSummary
	OpenLatency      HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:         time.Now(),
		Uptime:            time.Since(c.createdAt),
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		SessionsFailed:    c.sessionsFailed.Load(),
		SessionsExpired:   c.sessionsExpired.Load(),
		BytesSent:         c.bytesSent.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		PacketsSent:       c.packetsSent.Load(),
		PacketsRecv:       c.packetsRecv.Load(),
		Retransmits:       c.retransmits.Load(),
		QueueOverflows:    c.queueOverflows.Load(),
		ReconnectsStarted: c.reconnectsStarted.Load(),
		ReconnectsOK:      c.reconnectsOK.Load(),
		AuthFailures:      c.authFailures.Load(),
		ReplaysBlocked:    c.replaysBlocked.Load(),
		SealErrors:           c.sealErrors.Load(),
		OpenErrors:           c.openErrors.Load(),
		ProtocolErrors:       c.protocolErrors.Load(),
		ConnectionRateLimits: c.connectionRateLimits.Load(),
		HandshakeRateLimits:  c.handshakeRateLimits.Load(),
		HandshakeLatency:     c.handshakeLatency.Summary(),
		SealLatency:          c.sealLatency.Summary(),
		OpenLatency:          c.openLatency.Summary(),
		Labels:               c.labels,
	}
}

// Reset clears all metrics. Useful for tests.
func (c *Collector) Reset() {
	c.sessionsActive.Store(0)
	c.sessionsTotal.Store(0)
	c.sessionsFailed.Store(0)
	c.sessionsExpired.Store(0)
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.packetsSent.Store(0)
	c.packetsRecv.Store(0)
	c.retransmits.Store(0)
	c.queueOverflows.Store(0)
	c.reconnectsStarted.Store(0)
	c.reconnectsOK.Store(0)
	c.authFailures.Store(0)
	c.replaysBlocked.Store(0)
	c.sealErrors.Store(0)
	c.openErrors.Store(0)
	c.protocolErrors.Store(0)
	c.connectionRateLimits.Store(0)
	c.handshakeRateLimits.Store(0)
	c.handshakeLatency.Reset()
	c.sealLatency.Reset()
	c.openLatency.Reset()
	c.createdAt = time.Now()
}

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector, creating one with
// default settings on first use.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollector = NewCollector(Labels{"instance": "default"})
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector. Call during
// initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollector = c
}
