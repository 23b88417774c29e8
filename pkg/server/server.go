// Package server implements the session transport's listening side: one
// UDP socket, demultiplexed by SessionId across however many sessions are
// connected, with admission control at the handshake boundary and a
// timer task driving retransmission, heartbeats, and idle reconnection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/dispatch"
	"github.com/corvidnet/reliant/pkg/engine"
	"github.com/corvidnet/reliant/pkg/network"
	"github.com/corvidnet/reliant/pkg/protocol"
	"github.com/corvidnet/reliant/pkg/ratelimit"
	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/telemetry"
	"github.com/corvidnet/reliant/pkg/version"
	"github.com/corvidnet/reliant/pkg/wire"
)

// Config bounds the server's listening address, identity, and the
// reliability/admission parameters every session it accepts is built
// with.
type Config struct {
	// BindAddress is the UDP address to listen on. Empty means all
	// interfaces on an OS-chosen port.
	BindAddress string

	// Protocol encodes and decodes application messages. Required.
	Protocol protocol.Protocol

	// Identity is the server's long-term Ed25519 key pair, signed into
	// every ServerHello. Required.
	Identity *crypto.IdentityKeyPair

	// MaxConnections caps the number of simultaneously connected
	// sessions. Zero means unlimited.
	MaxConnections int

	// MaxConnectionsPerIP caps concurrent sessions from a single source
	// IP. Zero means unlimited.
	MaxConnectionsPerIP int

	// HandshakeRate and HandshakeBurst bound the rate of ClientHello
	// processing via a token bucket. A HandshakeRate of 0 means
	// unlimited.
	HandshakeRate  float64
	HandshakeBurst int

	SessionTimeout        time.Duration
	HeartbeatInterval     time.Duration
	MissedHeartbeatThreshold int
	MaxReliableQueueSize  int
	MaxRetransmitAttempts int
	MaxMessageSize        int

	// HandshakeTimeout bounds how long a session may remain Handshaking
	// before the server closes it and releases its admission slot. Zero
	// uses DefaultHandshakeTimeoutSeconds.
	HandshakeTimeout time.Duration

	// RetransmitTick is the period of the maintenance timer driving
	// retransmission and heartbeat emission.
	RetransmitTick time.Duration

	// Network overrides the datagram substrate; nil binds a real UDP
	// socket at BindAddress. Tests supply a network.Simulated endpoint.
	Network network.Network

	// SessionObserverFactory builds a session.Observer for each new
	// session, or nil to run without one.
	SessionObserverFactory func(sessionID []byte, role string) session.Observer

	// RateLimitObserver receives notifications for rejected connections
	// and handshakes, or nil.
	RateLimitObserver ratelimit.Observer

	// ObservabilityAddr, if non-empty, starts an HTTP server exposing
	// /metrics (Prometheus text format), /health, /healthz, and /readyz
	// alongside the UDP listener.
	ObservabilityAddr string

	// ObservabilityCollector supplies the counters and histograms the
	// observability server reports. Nil uses the process-wide global
	// collector.
	ObservabilityCollector *telemetry.Collector
}

// DefaultConfig returns a Config with every reliability and admission
// parameter set to the transport's defaults and no connection or rate
// limits applied.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:           time.Duration(constants.DefaultSessionTimeoutSeconds) * time.Second,
		HeartbeatInterval:        time.Duration(constants.DefaultHeartbeatIntervalSeconds) * time.Second,
		MissedHeartbeatThreshold: constants.DefaultMissedHeartbeatThreshold,
		MaxReliableQueueSize:     constants.DefaultMaxReliableQueueSize,
		MaxRetransmitAttempts:    constants.DefaultMaxRetransmitAttempts,
		MaxMessageSize:           constants.DefaultMaxMessageSize,
		RetransmitTick:           time.Duration(constants.DefaultRetransmitTickMillis) * time.Millisecond,
		HandshakeTimeout:         time.Duration(constants.DefaultHandshakeTimeoutSeconds) * time.Second,
	}
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		MaxReliableQueueSize:  c.MaxReliableQueueSize,
		MaxRetransmitAttempts: c.MaxRetransmitAttempts,
	}
}

// peerState bundles everything the server tracks per session beyond
// what the session and engine packages already own: the admission-
// control bookkeeping needed to release rate-limit slots on teardown,
// and the in-progress handshake object while a session is still
// Handshaking.
type peerState struct {
	conn      *engine.Conn
	remoteIP  string
	handshake *session.ServerHandshake

	// nextHeartbeatCheck schedules the next missed-heartbeat tally,
	// independent of the session's lastActivity watermark — which our
	// own outbound heartbeats also touch, and so cannot by itself
	// distinguish "we've heard nothing from the peer" from "we just
	// sent something".
	nextHeartbeatCheck time.Time

	// handshakeDeadline is when a session still stuck in Handshaking
	// gets swept and its admission slot reclaimed. Set once at
	// ClientHello admission; irrelevant once the session reaches
	// Connected.
	handshakeDeadline time.Time
}

// Server listens for datagrams on a single UDP socket and demultiplexes
// them by SessionId across however many sessions are currently
// connected, handshaking, or reconnecting.
type Server struct {
	cfg  Config
	net  network.Network
	self bool // true if Server created cfg.Network itself and owns closing it

	dispatcher *dispatch.Dispatcher

	connLimiter *ratelimit.ConnectionLimiter
	ipLimiter   *ratelimit.IPRateLimiter
	hsLimiter   *ratelimit.HandshakeLimiter

	mu       sync.RWMutex
	sessions map[string]*peerState

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	obs *telemetry.Server
}

// New validates cfg and constructs a Server. Start must be called to
// begin listening.
func New(cfg Config) (*Server, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("server: Config.Protocol is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("server: Config.Identity is required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = time.Duration(constants.DefaultSessionTimeoutSeconds) * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Duration(constants.DefaultHeartbeatIntervalSeconds) * time.Second
	}
	if cfg.MissedHeartbeatThreshold <= 0 {
		cfg.MissedHeartbeatThreshold = constants.DefaultMissedHeartbeatThreshold
	}
	if cfg.MaxReliableQueueSize <= 0 {
		cfg.MaxReliableQueueSize = constants.DefaultMaxReliableQueueSize
	}
	if cfg.MaxRetransmitAttempts <= 0 {
		cfg.MaxRetransmitAttempts = constants.DefaultMaxRetransmitAttempts
	}
	if cfg.RetransmitTick <= 0 {
		cfg.RetransmitTick = time.Duration(constants.DefaultRetransmitTickMillis) * time.Millisecond
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = time.Duration(constants.DefaultHandshakeTimeoutSeconds) * time.Second
	}

	return &Server{
		cfg:         cfg,
		dispatcher:  dispatch.New(),
		connLimiter: ratelimit.NewConnectionLimiter(cfg.MaxConnections),
		ipLimiter:   ratelimit.NewIPRateLimiter(cfg.MaxConnectionsPerIP),
		hsLimiter:   ratelimit.NewHandshakeLimiter(cfg.HandshakeRate, cfg.HandshakeBurst),
		sessions:    make(map[string]*peerState),
		closed:      make(chan struct{}),
	}, nil
}

// OnMessage registers the handler invoked for every decoded application
// message carrying tag.
func (s *Server) OnMessage(tag uint16, handler dispatch.MessageHandler) {
	s.dispatcher.RegisterHandler(tag, handler)
}

// OnError sets the sink that receives dispatch and decode errors.
func (s *Server) OnError(sink dispatch.ErrorSink) { s.dispatcher.SetErrorSink(sink) }

// OnSessionStarted registers the callback fired once a session completes
// its handshake and is fully connected.
func (s *Server) OnSessionStarted(fn func(sess *session.Session)) { s.dispatcher.OnSessionStarted(fn) }

// OnSessionDisconnected registers the callback fired when a session is
// torn down, gracefully or otherwise.
func (s *Server) OnSessionDisconnected(fn func(sess *session.Session, reason wire.DisconnectReasonTag)) {
	s.dispatcher.OnSessionDisconnected(fn)
}

// OnSessionReconnected registers the callback fired when a session
// recovers from Reconnecting back to Connected.
func (s *Server) OnSessionReconnected(fn func(sess *session.Session)) {
	s.dispatcher.OnSessionReconnected(fn)
}

// OnSessionExpired registers the callback fired when a session times out
// in Reconnecting without recovering.
func (s *Server) OnSessionExpired(fn func(sess *session.Session)) { s.dispatcher.OnSessionExpired(fn) }

// Start binds the listening socket (unless Config.Network already
// supplied one) and launches the I/O and maintenance loops.
func (s *Server) Start() error {
	if s.cfg.Network != nil {
		s.net = s.cfg.Network
	} else {
		udpNet, err := network.ListenUDP(s.cfg.BindAddress)
		if err != nil {
			return err
		}
		s.net = udpNet
		s.self = true
	}

	telemetry.GetLogger().Named("server").Info("listening", telemetry.Fields{
		"version": version.Full(),
		"addr":    s.net.LocalAddr().String(),
	})

	if s.cfg.ObservabilityAddr != "" {
		s.obs = telemetry.NewServer(telemetry.ServerConfig{
			Collector:        s.cfg.ObservabilityCollector,
			Version:          version.String(),
			Namespace:        "reliant",
			EnablePrometheus: true,
			EnableHealth:     true,
		})
		s.obs.AddHealthCheck("connected_sessions", func() error {
			if s.cfg.MaxConnections > 0 && len(s.snapshotPeers()) >= s.cfg.MaxConnections {
				return fmt.Errorf("at capacity: %d/%d sessions", len(s.snapshotPeers()), s.cfg.MaxConnections)
			}
			return nil
		})

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.obs.ListenAndServe(s.cfg.ObservabilityAddr); err != nil {
				telemetry.GetLogger().Named("server").Error("observability server stopped", telemetry.Fields{"error": err.Error()})
			}
		}()
	}

	s.wg.Add(2)
	go s.ioLoop()
	go s.maintenanceLoop()
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.net.LocalAddr() }

func (s *Server) ioLoop() {
	defer s.wg.Done()
	for {
		addr, data, err := s.net.Receive()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				continue
			}
		}
		s.handleDatagram(addr, data)
	}
}

func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	pktType, sessionID, _, err := wire.ParsePacketHeader(data)
	if err != nil {
		return
	}

	if isZeroSessionID(sessionID) {
		if pktType == wire.PacketTypeClientHello {
			s.handleClientHello(addr, data)
		}
		return
	}

	key := string(sessionID)
	s.mu.RLock()
	peer, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return
	}

	switch peer.conn.Session.State() {
	case session.StateHandshaking:
		s.handleClientFinish(peer, addr, data)
	case session.StateConnected, session.StateReconnecting:
		s.handleSessionPacket(peer, addr, data)
	}
}

func (s *Server) handleClientHello(addr net.Addr, data []byte) {
	remoteIP := hostOf(addr)

	if !s.connLimiter.Acquire() {
		s.rejectHandshake(addr, remoteIP, false)
		return
	}
	if !s.ipLimiter.AllowConnection(remoteIP) {
		s.connLimiter.Release()
		s.rejectHandshake(addr, remoteIP, true)
		return
	}
	if !s.hsLimiter.AllowHandshake() {
		s.connLimiter.Release()
		s.ipLimiter.ReleaseConnection(remoteIP)
		s.rejectHandshake(addr, remoteIP, false)
		return
	}

	hs := session.NewServerHandshake(s.cfg.Identity, s.cfg.sessionConfig())
	sess, err := hs.ProcessClientHello(data, addr, nil)
	if err != nil {
		s.connLimiter.Release()
		s.ipLimiter.ReleaseConnection(remoteIP)
		if errors.Is(err, qerrors.ErrVersionMismatch) {
			s.sendCleartextDisconnect(addr, wire.DisconnectReason{Tag: wire.DisconnectReasonProtocolError, Detail: "version"})
		}
		return
	}

	if s.cfg.SessionObserverFactory != nil {
		sess.SetObserver(s.cfg.SessionObserverFactory(sess.SessionID, "server"))
	}

	serverHello, err := hs.CreateServerHello()
	if err != nil {
		s.connLimiter.Release()
		s.ipLimiter.ReleaseConnection(remoteIP)
		return
	}
	if err := s.net.Send(addr, serverHello); err != nil {
		s.connLimiter.Release()
		s.ipLimiter.ReleaseConnection(remoteIP)
		return
	}

	conn := engine.New(sess, s.net, s.cfg.Protocol, s.cfg.HeartbeatInterval)
	s.mu.Lock()
	s.sessions[string(sess.SessionID)] = &peerState{
		conn:               conn,
		remoteIP:           remoteIP,
		handshake:          hs,
		nextHeartbeatCheck: time.Now().Add(s.cfg.HeartbeatInterval),
		handshakeDeadline:  time.Now().Add(s.cfg.HandshakeTimeout),
	}
	s.mu.Unlock()
}

func (s *Server) rejectHandshake(addr net.Addr, remoteIP string, isIPLimit bool) {
	if s.cfg.RateLimitObserver != nil {
		if isIPLimit {
			s.cfg.RateLimitObserver.OnConnectionRateLimit(remoteIP)
		} else {
			s.cfg.RateLimitObserver.OnHandshakeRateLimit(remoteIP)
		}
	}
	s.sendCleartextDisconnect(addr, wire.DisconnectReason{Tag: wire.DisconnectReasonServerShutdown})
}

func (s *Server) sendCleartextDisconnect(addr net.Addr, reason wire.DisconnectReason) {
	packet, err := wire.NewCodec().EncodeCleartextDisconnect(reason)
	if err != nil {
		return
	}
	_ = s.net.Send(addr, packet)
}

func (s *Server) handleClientFinish(peer *peerState, addr net.Addr, data []byte) {
	pktType, err := wire.NewCodec().GetPacketType(data)
	if err != nil || pktType != wire.PacketTypeClientFinish {
		return
	}
	if err := peer.handshake.ProcessClientFinish(data); err != nil {
		s.dropSession(peer.conn.Session, wire.DisconnectReasonProtocolError, peer.remoteIP)
		return
	}

	welcome, err := peer.handshake.CreateServerWelcome(nil)
	if err != nil {
		s.dropSession(peer.conn.Session, wire.DisconnectReasonProtocolError, peer.remoteIP)
		return
	}
	if err := s.net.Send(addr, welcome); err != nil {
		return
	}

	s.mu.Lock()
	peer.handshake = nil
	s.mu.Unlock()

	s.dispatcher.FireSessionStarted(peer.conn.Session)
}

func (s *Server) handleSessionPacket(peer *peerState, addr net.Addr, data []byte) {
	sess := peer.conn.Session
	pktType, plaintext, err := sess.OpenPacket(data)
	if err != nil {
		if sess.ExceedsProtocolErrorBudget() {
			s.closeSession(peer, wire.DisconnectReasonProtocolError)
		}
		return
	}

	wasReconnecting := sess.State() == session.StateReconnecting
	sess.ResetMissedHeartbeats()
	if wasReconnecting {
		sess.SetPeerAddr(addr)
		sess.SetState(session.StateConnected)
		s.dispatcher.FireSessionReconnected(sess)
	}

	codec := wire.NewCodec()
	switch pktType {
	case wire.PacketTypeData:
		body, err := codec.DecodeDataBody(plaintext)
		if err != nil {
			return
		}
		msgs, err := peer.conn.HandleData(body)
		if err != nil {
			s.dispatcher.ReportError(sess, err)
			return
		}
		for _, m := range msgs {
			s.dispatcher.Dispatch(sess, m.Tag, m.Message)
		}
	case wire.PacketTypeAck:
		ack, err := codec.DecodeAckBody(plaintext)
		if err != nil {
			return
		}
		peer.conn.HandleAck(ack)
	case wire.PacketTypeHeartbeat:
		_ = codec.DecodeHeartbeatBody(plaintext)
	case wire.PacketTypeDisconnect:
		reason, err := codec.DecodeDisconnectBody(plaintext)
		if err != nil {
			return
		}
		sess.Close(reason.Tag)
		s.removeSession(peer)
		s.dispatcher.FireSessionDisconnected(sess, reason.Tag)
	}
}

func (s *Server) maintenanceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RetransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case now := <-ticker.C:
			s.runMaintenance(now)
		}
	}
}

func (s *Server) runMaintenance(now time.Time) {
	for _, peer := range s.snapshotPeers() {
		sess := peer.conn.Session
		switch sess.State() {
		case session.StateHandshaking:
			if now.After(peer.handshakeDeadline) {
				sess.Close(wire.DisconnectReasonTimeout)
				s.removeSession(peer)
			}
		case session.StateConnected:
			if failed := peer.conn.RunMaintenance(now); len(failed) > 0 {
				s.closeSession(peer, wire.DisconnectReasonNetworkError)
				continue
			}
			if now.After(peer.nextHeartbeatCheck) {
				peer.nextHeartbeatCheck = now.Add(s.cfg.HeartbeatInterval)
				if sess.RecordHeartbeatMissed() >= int32(s.cfg.MissedHeartbeatThreshold) {
					sess.SetState(session.StateReconnecting)
				}
			}
		case session.StateReconnecting:
			if sess.IdleDuration() > s.cfg.SessionTimeout {
				sess.SetState(session.StateExpired)
				s.dispatcher.FireSessionExpired(sess)
				s.removeSession(peer)
			}
		}
	}
}

func (s *Server) closeSession(peer *peerState, reason wire.DisconnectReasonTag) {
	sess := peer.conn.Session
	_ = peer.conn.SendDisconnect(wire.DisconnectReason{Tag: reason})
	sess.Close(reason)
	s.removeSession(peer)
	s.dispatcher.FireSessionDisconnected(sess, reason)
}

func (s *Server) dropSession(sess *session.Session, reason wire.DisconnectReasonTag, remoteIP string) {
	sess.Close(reason)
	s.mu.Lock()
	delete(s.sessions, string(sess.SessionID))
	s.mu.Unlock()
	s.connLimiter.Release()
	s.ipLimiter.ReleaseConnection(remoteIP)
}

func (s *Server) removeSession(peer *peerState) {
	s.mu.Lock()
	delete(s.sessions, string(peer.conn.Session.SessionID))
	s.mu.Unlock()
	s.connLimiter.Release()
	s.ipLimiter.ReleaseConnection(peer.remoteIP)
}

func (s *Server) snapshotPeers() []*peerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peerState, 0, len(s.sessions))
	for _, peer := range s.sessions {
		out = append(out, peer)
	}
	return out
}

// GetConnectedSessions returns a snapshot of every currently connected
// or reconnecting session. Later changes to the session table are not
// observed by the returned slice.
func (s *Server) GetConnectedSessions() []*session.Session {
	peers := s.snapshotPeers()
	out := make([]*session.Session, 0, len(peers))
	for _, peer := range peers {
		switch peer.conn.Session.State() {
		case session.StateConnected, session.StateReconnecting:
			out = append(out, peer.conn.Session)
		}
	}
	return out
}

// Send transmits msg to sess, reliably or unreliably.
func (s *Server) Send(sess *session.Session, msg interface{}, reliable bool) error {
	s.mu.RLock()
	peer, ok := s.sessions[string(sess.SessionID)]
	s.mu.RUnlock()
	if !ok {
		return qerrors.ErrSessionClosed
	}
	err := peer.conn.Send(msg, reliable)
	if err != nil && errors.Is(err, qerrors.ErrQueueOverflow) {
		s.closeSession(peer, wire.DisconnectReasonNetworkError)
	}
	return err
}

// Broadcast sends msg to every currently connected session, reliably or
// unreliably, over a consistent snapshot of the session table.
func (s *Server) Broadcast(msg interface{}, reliable bool) error {
	var errs []error
	for _, sess := range s.GetConnectedSessions() {
		if err := s.Send(sess, msg, reliable); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the I/O and maintenance loops, flushes a best-effort
// ServerShutdown Disconnect to every session, and releases the listening
// socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, peer := range s.snapshotPeers() {
			_ = peer.conn.SendDisconnect(wire.DisconnectReason{Tag: wire.DisconnectReasonServerShutdown})
			peer.conn.Session.Close(wire.DisconnectReasonServerShutdown)
			s.dispatcher.FireSessionDisconnected(peer.conn.Session, wire.DisconnectReasonServerShutdown)
		}
		close(s.closed)
		if s.self {
			err = s.net.Close()
		}
		if s.obs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.obs.Shutdown(ctx)
			cancel()
		}
		s.wg.Wait()
	})
	return err
}

func isZeroSessionID(sessionID []byte) bool {
	for _, b := range sessionID {
		if b != 0 {
			return false
		}
	}
	return true
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
