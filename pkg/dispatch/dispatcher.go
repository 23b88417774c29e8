// Package dispatch routes decoded application messages to type-keyed
// handlers and fires session lifecycle callbacks, isolating user code
// from the I/O loop: a handler panic is captured and handed to the error
// sink rather than ever reaching the caller.
package dispatch

import (
	"fmt"
	"sync"

	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/wire"
)

// MessageHandler processes one decoded message delivered on a session.
type MessageHandler func(sess *session.Session, message interface{})

// ErrorSink receives a message the dispatcher could not route, or an
// error raised while handling one. The session is never torn down on its
// account; that decision is left to the caller.
type ErrorSink func(sess *session.Session, message interface{}, err error)

// Dispatcher maps message type tags to handlers and holds the single
// registration slot for each session lifecycle callback.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[uint16]MessageHandler

	errorSink ErrorSink

	onSessionStarted      func(*session.Session)
	onSessionDisconnected func(*session.Session, wire.DisconnectReasonTag)
	onSessionReconnected  func(*session.Session)
	onSessionExpired      func(*session.Session)
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint16]MessageHandler)}
}

// RegisterHandler maps tag to handler, replacing any previous registration.
func (d *Dispatcher) RegisterHandler(tag uint16, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tag] = handler
}

// SetErrorSink installs the single error sink. A nil sink silently drops
// unrouted messages and handler errors.
func (d *Dispatcher) SetErrorSink(sink ErrorSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorSink = sink
}

// OnSessionStarted registers the lifecycle callback fired once a session's
// handshake completes.
func (d *Dispatcher) OnSessionStarted(fn func(*session.Session)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSessionStarted = fn
}

// OnSessionDisconnected registers the lifecycle callback fired when a
// session is closed, reliable or forced.
func (d *Dispatcher) OnSessionDisconnected(fn func(*session.Session, wire.DisconnectReasonTag)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSessionDisconnected = fn
}

// OnSessionReconnected registers the lifecycle callback fired when a
// Reconnecting session recovers.
func (d *Dispatcher) OnSessionReconnected(fn func(*session.Session)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSessionReconnected = fn
}

// OnSessionExpired registers the lifecycle callback fired when a session
// times out without recovering from Reconnecting.
func (d *Dispatcher) OnSessionExpired(fn func(*session.Session)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSessionExpired = fn
}

// Dispatch routes one decoded message to its registered handler. A
// handler panic is recovered and reported to the error sink instead of
// propagating to the caller; the session is left untouched either way.
func (d *Dispatcher) Dispatch(sess *session.Session, tag uint16, message interface{}) {
	d.mu.RLock()
	handler, ok := d.handlers[tag]
	d.mu.RUnlock()

	if !ok {
		d.reportError(sess, message, qerrors.ErrUnknownMessageType)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.reportError(sess, message, fmt.Errorf("message handler panic: %v", r))
		}
	}()
	handler(sess, message)
}

func (d *Dispatcher) reportError(sess *session.Session, message interface{}, err error) {
	d.mu.RLock()
	sink := d.errorSink
	d.mu.RUnlock()
	if sink != nil {
		sink(sess, message, err)
	}
}

// ReportError routes err to the error sink directly, for failures the
// caller detects before a message ever reaches Dispatch — such as a
// Protocol decode failure on an otherwise well-formed Data packet.
func (d *Dispatcher) ReportError(sess *session.Session, err error) {
	d.reportError(sess, nil, err)
}

// FireSessionStarted invokes the onSessionStarted callback, if registered.
func (d *Dispatcher) FireSessionStarted(sess *session.Session) {
	d.mu.RLock()
	fn := d.onSessionStarted
	d.mu.RUnlock()
	if fn != nil {
		fn(sess)
	}
}

// FireSessionDisconnected invokes the onSessionDisconnected callback, if
// registered.
func (d *Dispatcher) FireSessionDisconnected(sess *session.Session, reason wire.DisconnectReasonTag) {
	d.mu.RLock()
	fn := d.onSessionDisconnected
	d.mu.RUnlock()
	if fn != nil {
		fn(sess, reason)
	}
}

// FireSessionReconnected invokes the onSessionReconnected callback, if
// registered.
func (d *Dispatcher) FireSessionReconnected(sess *session.Session) {
	d.mu.RLock()
	fn := d.onSessionReconnected
	d.mu.RUnlock()
	if fn != nil {
		fn(sess)
	}
}

// FireSessionExpired invokes the onSessionExpired callback, if registered.
func (d *Dispatcher) FireSessionExpired(sess *session.Session) {
	d.mu.RLock()
	fn := d.onSessionExpired
	d.mu.RUnlock()
	if fn != nil {
		fn(sess)
	}
}
