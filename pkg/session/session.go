// Package session implements the per-peer state of an established or
// handshaking transport session: encryption state, reliable-delivery
// tracking, and the lifecycle transitions driven by heartbeats,
// reconnection, and idle expiry.
package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/reliability"
	"github.com/corvidnet/reliant/pkg/wire"
)

// State represents where a session sits in its lifecycle.
type State int32

const (
	// StateHandshaking indicates the handshake has not yet completed.
	StateHandshaking State = iota

	// StateConnected indicates the session is fully established and
	// exchanging traffic normally.
	StateConnected

	// StateReconnecting indicates the peer has missed enough heartbeats
	// that the session is presumed to be recovering from transient
	// network loss, but has not yet been declared expired.
	StateReconnecting

	// StateExpired indicates the session was not recovered before its
	// timeout and its resources should be released.
	StateExpired

	// StateClosed indicates the session was torn down deliberately.
	StateClosed
)

// String returns a human-readable name for the session state.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateExpired:
		return "Expired"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role indicates which side of the handshake this endpoint played.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Observer receives session lifecycle and traffic events. Implementations
// should be lightweight since callbacks may run on hot paths.
type Observer interface {
	OnSessionStart()
	OnSessionConnected()
	OnSessionReconnecting()
	OnSessionExpired()
	OnSessionClosed(reason wire.DisconnectReasonTag)
	OnHandshakeStart(ctx context.Context) (context.Context, func(error))
	OnSend(ctx context.Context, payloadLen int) (context.Context, func(error))
	OnReceive(ctx context.Context, payloadLen int) (context.Context, func(error))
	OnRetransmit(seq uint32)
	OnProtocolError(err error)
}

// Session is one peer's side of an established or handshaking session.
type Session struct {
	SessionID []byte
	Role      Role

	Version     wire.Version
	CipherSuite constants.CipherSuite

	state atomic.Int32

	mu          sync.RWMutex
	peerAddr    net.Addr
	sendCipher  *crypto.AEAD
	recvCipher  *crypto.AEAD
	lastActivity time.Time
	attachment  interface{}

	sendTracker *reliability.SendTracker
	reorderBuf  *reliability.ReorderBuffer

	consecutiveProtocolErrors atomic.Int32
	missedHeartbeats          atomic.Int32

	CreatedAt   time.Time
	ConnectedAt time.Time

	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	PacketsSent   atomic.Uint64
	PacketsRecv   atomic.Uint64

	observer Observer
}

// Config bounds the reliable-delivery engine backing a session.
type Config struct {
	MaxReliableQueueSize int
	MaxRetransmitAttempts int
}

// DefaultConfig returns the spec's default reliability bounds.
func DefaultConfig() Config {
	return Config{
		MaxReliableQueueSize:  constants.DefaultMaxReliableQueueSize,
		MaxRetransmitAttempts: constants.DefaultMaxRetransmitAttempts,
	}
}

// New creates a fresh session with a newly generated SessionId.
func New(role Role, peerAddr net.Addr, cfg Config, observer Observer) (*Session, error) {
	sessionID, err := crypto.SecureRandomBytes(constants.SessionIDSize)
	if err != nil {
		return nil, err
	}
	return newSession(sessionID, role, peerAddr, cfg, observer), nil
}

// NewWithID creates a session using an already-assigned SessionId, used by
// a client once it has parsed the ServerHello's SessionID field.
func NewWithID(sessionID []byte, role Role, peerAddr net.Addr, cfg Config, observer Observer) *Session {
	return newSession(sessionID, role, peerAddr, cfg, observer)
}

func newSession(sessionID []byte, role Role, peerAddr net.Addr, cfg Config, observer Observer) *Session {
	s := &Session{
		SessionID:    sessionID,
		Role:         role,
		peerAddr:     peerAddr,
		lastActivity: time.Now(),
		sendTracker:  reliability.NewSendTracker(cfg.MaxReliableQueueSize, cfg.MaxRetransmitAttempts),
		reorderBuf:   reliability.NewReorderBuffer(),
		CreatedAt:    time.Now(),
		observer:     observer,
	}
	s.state.Store(int32(StateHandshaking))
	if observer != nil {
		observer.OnSessionStart()
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetState transitions the session to a new state and fires the matching
// observer callback.
func (s *Session) SetState(state State) {
	s.state.Store(int32(state))
	if s.observer == nil {
		return
	}
	switch state {
	case StateConnected:
		s.observer.OnSessionConnected()
	case StateReconnecting:
		s.observer.OnSessionReconnecting()
	case StateExpired:
		s.observer.OnSessionExpired()
	}
}

// PeerAddr returns the address currently believed to reach the peer.
func (s *Session) PeerAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerAddr
}

// SetPeerAddr updates the peer address, used when a reconnect arrives
// from a new address but authenticates under the existing session key.
func (s *Session) SetPeerAddr(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerAddr = addr
}

// Attachment returns the opaque application-defined value associated with
// this session.
func (s *Session) Attachment() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachment
}

// SetAttachment stores an opaque application-defined value on the session.
func (s *Session) SetAttachment(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachment = v
}

// InitializeTrafficKeys installs the AEAD ciphers derived at the end of
// the handshake. The session remains in its current state; the caller
// transitions it to Connected once the ClientFinish/ServerWelcome exchange
// that proves both sides derived the same keys has completed.
func (s *Session) InitializeTrafficKeys(sendKey, recvKey []byte, suite constants.CipherSuite) error {
	sendCipher, err := crypto.NewAEAD(suite, sendKey)
	if err != nil {
		return err
	}
	recvCipher, err := crypto.NewAEAD(suite, recvKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sendCipher = sendCipher
	s.recvCipher = recvCipher
	s.CipherSuite = suite
	s.mu.Unlock()

	s.ConnectedAt = time.Now()
	return nil
}

// SealPacket encrypts a plaintext body for the given packet type and
// assembles the full wire bytes, authenticating the header as associated
// data.
func (s *Session) SealPacket(pktType wire.PacketType, plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	cipher := s.sendCipher
	s.mu.RUnlock()

	if cipher == nil {
		return nil, qerrors.ErrSessionClosed
	}

	ctx, done := s.fireSend(len(plaintext))
	_ = ctx

	additionalData := wire.EncodePacketHeader(pktType, s.SessionID)
	counter, ciphertext, err := cipher.Seal(plaintext, additionalData)
	if done != nil {
		done(err)
	}
	if err != nil {
		return nil, err
	}

	s.BytesSent.Add(uint64(len(plaintext)))
	s.PacketsSent.Add(1)
	s.touch()

	return wire.AssembleEncryptedPacket(pktType, s.SessionID, counter, ciphertext), nil
}

// OpenPacket parses and decrypts a post-handshake packet, verifying the
// header as associated data and that the SessionId matches this session.
func (s *Session) OpenPacket(data []byte) (wire.PacketType, []byte, error) {
	s.mu.RLock()
	cipher := s.recvCipher
	s.mu.RUnlock()

	if cipher == nil {
		return 0, nil, qerrors.ErrSessionClosed
	}

	pktType, sessionID, additionalData, nonceCounter, ciphertext, err := wire.ParseEncryptedPacket(data)
	if err != nil {
		s.recordProtocolError(err)
		return 0, nil, err
	}
	if !crypto.ConstantTimeCompare(sessionID, s.SessionID) {
		s.recordProtocolError(qerrors.ErrUnknownSession)
		return 0, nil, qerrors.ErrUnknownSession
	}

	ctx, done := s.fireReceive(len(ciphertext))
	_ = ctx

	plaintext, err := cipher.Open(nonceCounter, ciphertext, additionalData)
	if done != nil {
		done(err)
	}
	if err != nil {
		s.recordProtocolError(err)
		return 0, nil, err
	}

	s.BytesReceived.Add(uint64(len(plaintext)))
	s.PacketsRecv.Add(1)
	s.touch()
	s.consecutiveProtocolErrors.Store(0)

	return pktType, plaintext, nil
}

func (s *Session) fireSend(n int) (context.Context, func(error)) {
	if s.observer == nil {
		return context.Background(), nil
	}
	return s.observer.OnSend(context.Background(), n)
}

func (s *Session) fireReceive(n int) (context.Context, func(error)) {
	if s.observer == nil {
		return context.Background(), nil
	}
	return s.observer.OnReceive(context.Background(), n)
}

// recordProtocolError bumps the consecutive-error counter and reports to
// the observer; callers close the session once MaxConsecutiveProtocolErrors
// is reached.
func (s *Session) recordProtocolError(err error) {
	s.consecutiveProtocolErrors.Add(1)
	if s.observer != nil {
		s.observer.OnProtocolError(err)
	}
}

// ConsecutiveProtocolErrors returns the current streak of decrypt/parse
// failures since the last successful decrypt.
func (s *Session) ConsecutiveProtocolErrors() int32 {
	return s.consecutiveProtocolErrors.Load()
}

// ExceedsProtocolErrorBudget reports whether the session has accumulated
// enough consecutive protocol errors to be closed.
func (s *Session) ExceedsProtocolErrorBudget() bool {
	return s.consecutiveProtocolErrors.Load() >= constants.MaxConsecutiveProtocolErrors
}

// Observer returns the session's observer, or nil if none was attached.
func (s *Session) Observer() Observer {
	return s.observer
}

// SetObserver attaches an observer after construction, for callers that
// only know a session's final identity (and thus what to label the
// observer with) once New/NewWithID has assigned its SessionId. Must be
// called before any traffic flows; it does not retroactively fire
// OnSessionStart.
func (s *Session) SetObserver(observer Observer) {
	s.observer = observer
}

// SendTracker returns the reliable-delivery tracker for outbound messages.
func (s *Session) SendTracker() *reliability.SendTracker {
	return s.sendTracker
}

// ReorderBuffer returns the reassembly buffer for inbound reliable messages.
func (s *Session) ReorderBuffer() *reliability.ReorderBuffer {
	return s.reorderBuf
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last time a packet was sent or received.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IdleDuration returns how long it has been since any traffic was seen.
func (s *Session) IdleDuration() time.Duration {
	return time.Since(s.LastActivity())
}

// RecordHeartbeatMissed increments the missed-heartbeat counter and
// returns the new count, used by the server to decide when to move a
// session to Reconnecting.
func (s *Session) RecordHeartbeatMissed() int32 {
	return s.missedHeartbeats.Add(1)
}

// ResetMissedHeartbeats clears the missed-heartbeat counter, called
// whenever any packet arrives from the peer.
func (s *Session) ResetMissedHeartbeats() {
	s.missedHeartbeats.Store(0)
}

// MissedHeartbeats returns the current missed-heartbeat count.
func (s *Session) MissedHeartbeats() int32 {
	return s.missedHeartbeats.Load()
}

// Close tears the session down and zeroizes its key material.
func (s *Session) Close(reason wire.DisconnectReasonTag) {
	s.mu.Lock()
	s.sendCipher = nil
	s.recvCipher = nil
	s.mu.Unlock()

	s.SetState(StateClosed)
	if s.observer != nil {
		s.observer.OnSessionClosed(reason)
	}
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsRecv     uint64
	PendingReliable int
	State           State
	Duration        time.Duration
}

// Stats returns the current session statistics.
func (s *Session) Stats() Stats {
	return Stats{
		BytesSent:       s.BytesSent.Load(),
		BytesReceived:   s.BytesReceived.Load(),
		PacketsSent:     s.PacketsSent.Load(),
		PacketsRecv:     s.PacketsRecv.Load(),
		PendingReliable: s.sendTracker.PendingCount(),
		State:           s.State(),
		Duration:        time.Since(s.CreatedAt),
	}
}
