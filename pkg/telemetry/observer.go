package telemetry

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/wire"
)

var _ session.Observer = (*SessionObserver)(nil)

// SessionObserver implements session.Observer, recording metrics and
// structured logs for every session lifecycle event, send/receive, and
// retransmission. Attach one per session.
type SessionObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	sessionID string
	role      string
}

// SessionObserverConfig configures a SessionObserver.
type SessionObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	SessionID []byte
	Role      string // "client" or "server"
}

// NewSessionObserver creates a session observer from cfg, defaulting
// any unset field to the global collector, tracer, and logger.
func NewSessionObserver(cfg SessionObserverConfig) *SessionObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	sessionID := ""
	if len(cfg.SessionID) > 0 {
		sessionID = hex.EncodeToString(cfg.SessionID[:min(8, len(cfg.SessionID))])
	}

	return &SessionObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("session").With(Fields{
			"session_id": sessionID,
			"role":       cfg.Role,
		}),
		sessionID: sessionID,
		role:      cfg.Role,
	}
}

// OnSessionStart is called once a session object is created, before
// the handshake begins.
func (o *SessionObserver) OnSessionStart() {
	o.collector.SessionStarted()
	o.logger.Info("session started")
}

// OnSessionConnected is called once a session reaches Connected.
func (o *SessionObserver) OnSessionConnected() {
	o.logger.Info("session connected")
}

// OnSessionReconnecting is called when a session loses contact and
// enters Reconnecting.
func (o *SessionObserver) OnSessionReconnecting() {
	o.collector.RecordReconnectStart()
	o.logger.Warn("session reconnecting")
}

// OnSessionExpired is called when a session times out in Reconnecting
// without recovering.
func (o *SessionObserver) OnSessionExpired() {
	o.collector.SessionExpired()
	o.collector.SessionEnded()
	o.logger.Warn("session expired")
}

// OnSessionClosed is called once, when the session transitions to
// Closed for any reason.
func (o *SessionObserver) OnSessionClosed(reason wire.DisconnectReasonTag) {
	o.collector.SessionEnded()
	o.logger.Info("session closed", Fields{"reason": reason.String()})
}

// OnHandshakeStart returns a context and completion function for
// handshake tracing.
func (o *SessionObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	spanName := SpanHandshakeClient
	if o.role == "server" {
		spanName = SpanHandshakeServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName, WithSpanKind(SpanKindServer))

	o.logger.Debug("handshake started")

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordHandshakeLatency(duration)

		if err != nil {
			o.collector.SessionFailed()
			o.logger.Error("handshake failed", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.logger.Info("handshake completed", Fields{
				"duration": duration.String(),
			})
		}

		endSpan(err)
	}
}

// OnSend records metrics for an outbound packet seal.
func (o *SessionObserver) OnSend(ctx context.Context, payloadLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanSend)

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordSealLatency(duration)

		if err != nil {
			o.collector.RecordSealError()
			o.logger.Debug("send failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordBytesSent(uint64(payloadLen))
			o.collector.RecordPacketSent()
		}

		endSpan(err)
	}
}

// OnReceive records metrics for an inbound packet open.
func (o *SessionObserver) OnReceive(ctx context.Context, payloadLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanReceive)

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordOpenLatency(duration)

		if err != nil {
			o.collector.RecordOpenError()
			o.logger.Debug("receive failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordBytesReceived(uint64(payloadLen))
			o.collector.RecordPacketReceived()
		}

		endSpan(err)
	}
}

// OnRetransmit records a reliability-engine retransmission of seq.
func (o *SessionObserver) OnRetransmit(seq uint32) {
	o.collector.RecordRetransmit()
	o.logger.Debug("retransmitting", Fields{"seq": seq})
}

// OnProtocolError records a malformed or out-of-state packet.
func (o *SessionObserver) OnProtocolError(err error) {
	o.collector.RecordProtocolError()
	o.logger.Error("protocol error", Fields{"error": err.Error()})
}

// Logger returns the observer's logger for ad hoc logging alongside
// the instrumented hooks.
func (o *SessionObserver) Logger() *Logger {
	return o.logger
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
