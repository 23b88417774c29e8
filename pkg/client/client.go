// Package client implements the session transport's connecting side:
// drive the four-message handshake against a server's pre-shared
// identity key, then run the same reliability and heartbeat engine the
// server runs per session.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/dispatch"
	"github.com/corvidnet/reliant/pkg/engine"
	"github.com/corvidnet/reliant/pkg/network"
	"github.com/corvidnet/reliant/pkg/protocol"
	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/wire"
)

// Config bounds the client's target server, protocol, and reliability
// parameters.
type Config struct {
	// ServerAddress is the server's UDP address (host:port), resolved
	// and dialed when Network is nil.
	ServerAddress string

	// ServerAddr overrides the resolved destination address, required
	// when Network is set (e.g. a network.Simulated endpoint, which
	// addresses peers by name rather than host:port).
	ServerAddr net.Addr

	// Protocol encodes and decodes application messages. Required, and
	// must register the same message set as the server.
	Protocol protocol.Protocol

	// ServerIdentity is the server's long-term Ed25519 public key,
	// pre-shared out of band. Required; ServerHello signatures that
	// don't verify against it abort the handshake with no session ever
	// created.
	ServerIdentity ed25519.PublicKey

	HeartbeatInterval        time.Duration
	SessionTimeout           time.Duration
	MissedHeartbeatThreshold int
	MaxReliableQueueSize     int
	MaxRetransmitAttempts    int

	// RetransmitTick is the period of the maintenance timer driving
	// retransmission and heartbeat emission.
	RetransmitTick time.Duration

	// Network overrides the datagram substrate; nil dials a real UDP
	// socket. Tests supply a network.Simulated endpoint.
	Network network.Network

	Observer session.Observer
}

// DefaultConfig returns a Config with every reliability parameter set to
// the transport's defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:        time.Duration(constants.DefaultHeartbeatIntervalSeconds) * time.Second,
		SessionTimeout:           time.Duration(constants.DefaultSessionTimeoutSeconds) * time.Second,
		MissedHeartbeatThreshold: constants.DefaultMissedHeartbeatThreshold,
		MaxReliableQueueSize:     constants.DefaultMaxReliableQueueSize,
		MaxRetransmitAttempts:    constants.DefaultMaxRetransmitAttempts,
		RetransmitTick:           time.Duration(constants.DefaultRetransmitTickMillis) * time.Millisecond,
	}
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		MaxReliableQueueSize:  c.MaxReliableQueueSize,
		MaxRetransmitAttempts: c.MaxRetransmitAttempts,
	}
}

// Client drives one session against a server: the handshake, then the
// same send/receive/retransmit/heartbeat engine the server runs.
type Client struct {
	cfg  Config
	net  network.Network
	self bool

	dispatcher *dispatch.Dispatcher
	conn       *engine.Conn

	// nextHeartbeatCheck schedules the next missed-heartbeat tally,
	// independent of the session's lastActivity watermark — which our
	// own outbound heartbeats also touch, and so cannot by itself
	// distinguish "the server has gone quiet" from "we just sent
	// something".
	nextHeartbeatCheck time.Time

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New validates cfg and constructs a Client. Connect performs the
// handshake and starts the maintenance loop.
func New(cfg Config) (*Client, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("client: Config.Protocol is required")
	}
	if len(cfg.ServerIdentity) == 0 {
		return nil, fmt.Errorf("client: Config.ServerIdentity is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Duration(constants.DefaultHeartbeatIntervalSeconds) * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = time.Duration(constants.DefaultSessionTimeoutSeconds) * time.Second
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

	return &Client{
		cfg:        cfg,
		dispatcher: dispatch.New(),
		closed:     make(chan struct{}),
	}, nil
}

// OnMessage registers the handler invoked for every decoded application
// message carrying tag.
func (c *Client) OnMessage(tag uint16, handler dispatch.MessageHandler) {
	c.dispatcher.RegisterHandler(tag, handler)
}

// OnError sets the sink that receives dispatch and decode errors.
func (c *Client) OnError(sink dispatch.ErrorSink) { c.dispatcher.SetErrorSink(sink) }

// OnDisconnected registers the callback fired when the session is torn
// down, gracefully or by timeout.
func (c *Client) OnDisconnected(fn func(sess *session.Session, reason wire.DisconnectReasonTag)) {
	c.dispatcher.OnSessionDisconnected(fn)
}

// OnReconnected registers the callback fired when the session recovers
// from Reconnecting back to Connected after the server resumes sending.
func (c *Client) OnReconnected(fn func(sess *session.Session)) {
	c.dispatcher.OnSessionReconnected(fn)
}

// OnExpired registers the callback fired when a session times out in
// Reconnecting without the server ever resuming.
func (c *Client) OnExpired(fn func(sess *session.Session)) {
	c.dispatcher.OnSessionExpired(fn)
}

// Connect resolves the server address, runs the four-message handshake,
// and starts the maintenance loop. The returned session is Connected.
func (c *Client) Connect() (*session.Session, error) {
	var serverAddr net.Addr
	if c.cfg.Network != nil {
		if c.cfg.ServerAddr == nil {
			return nil, fmt.Errorf("client: Config.ServerAddr is required when Config.Network is set")
		}
		c.net = c.cfg.Network
		serverAddr = c.cfg.ServerAddr
	} else {
		addr, err := net.ResolveUDPAddr("udp", c.cfg.ServerAddress)
		if err != nil {
			return nil, qerrors.NewProtocolError("client.Connect", qerrors.ErrIoFailure)
		}
		udpNet, err := network.ListenUDP(":0")
		if err != nil {
			return nil, err
		}
		c.net = udpNet
		c.self = true
		serverAddr = addr
	}

	hs := session.NewClientHandshake(c.cfg.ServerIdentity, c.cfg.sessionConfig())
	hello, err := hs.CreateClientHello()
	if err != nil {
		return nil, err
	}
	if err := c.net.Send(serverAddr, hello); err != nil {
		return nil, err
	}

	_, data, err := c.net.Receive()
	if err != nil {
		return nil, err
	}
	sess, err := hs.ProcessServerHello(data, serverAddr, c.cfg.Observer)
	if err != nil {
		return nil, err
	}

	finish, err := hs.CreateClientFinish()
	if err != nil {
		return nil, err
	}
	if err := c.net.Send(sess.PeerAddr(), finish); err != nil {
		return nil, err
	}

	_, data, err = c.net.Receive()
	if err != nil {
		return nil, err
	}
	if _, err := hs.ProcessServerWelcome(data); err != nil {
		return nil, err
	}

	c.conn = engine.New(sess, c.net, c.cfg.Protocol, c.cfg.HeartbeatInterval)
	c.nextHeartbeatCheck = time.Now().Add(c.cfg.HeartbeatInterval)

	c.wg.Add(2)
	go c.ioLoop()
	go c.maintenanceLoop()
	return sess, nil
}

func (c *Client) ioLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.net.Receive()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
				continue
			}
		}
		c.handlePacket(data)
	}
}

func (c *Client) handlePacket(data []byte) {
	sess := c.conn.Session
	pktType, plaintext, err := sess.OpenPacket(data)
	if err != nil {
		if sess.ExceedsProtocolErrorBudget() {
			c.teardown(wire.DisconnectReasonProtocolError)
		}
		return
	}
	wasReconnecting := sess.State() == session.StateReconnecting
	sess.ResetMissedHeartbeats()
	if wasReconnecting {
		sess.SetState(session.StateConnected)
		c.dispatcher.FireSessionReconnected(sess)
	}

	codec := wire.NewCodec()
	switch pktType {
	case wire.PacketTypeData:
		body, err := codec.DecodeDataBody(plaintext)
		if err != nil {
			return
		}
		msgs, err := c.conn.HandleData(body)
		if err != nil {
			c.dispatcher.ReportError(sess, err)
			return
		}
		for _, m := range msgs {
			c.dispatcher.Dispatch(sess, m.Tag, m.Message)
		}
	case wire.PacketTypeAck:
		ack, err := codec.DecodeAckBody(plaintext)
		if err != nil {
			return
		}
		c.conn.HandleAck(ack)
	case wire.PacketTypeHeartbeat:
		_ = codec.DecodeHeartbeatBody(plaintext)
	case wire.PacketTypeDisconnect:
		reason, err := codec.DecodeDisconnectBody(plaintext)
		if err != nil {
			return
		}
		sess.Close(reason.Tag)
		c.dispatcher.FireSessionDisconnected(sess, reason.Tag)
	}
}

func (c *Client) maintenanceLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RetransmitTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case now := <-ticker.C:
			if c.runMaintenance(now) {
				return
			}
		}
	}
}

// runMaintenance drives retransmission, heartbeat emission, and
// missed-heartbeat/idle-timeout detection for one tick. It returns true
// once the session has been torn down and the maintenance loop should
// stop.
//
// Missed-heartbeat detection runs on its own wall-clock schedule
// (nextHeartbeatCheck), not off the session's lastActivity: RunMaintenance
// below sends a heartbeat whenever the session has been quiet, and that
// send itself touches lastActivity, so checking IdleDuration directly
// here would never see the server go silent. Once the server's silence
// trips the missed-heartbeat threshold the session moves to
// Reconnecting, maintenance stops sending heartbeats, and only an
// inbound packet (handlePacket) can touch lastActivity again — so
// IdleDuration becomes a true measure of peer silence for deciding
// whether to give up.
func (c *Client) runMaintenance(now time.Time) (done bool) {
	sess := c.conn.Session
	switch sess.State() {
	case session.StateConnected:
		if failed := c.conn.RunMaintenance(now); len(failed) > 0 {
			c.teardown(wire.DisconnectReasonNetworkError)
			return true
		}
		if now.After(c.nextHeartbeatCheck) {
			c.nextHeartbeatCheck = now.Add(c.cfg.HeartbeatInterval)
			if sess.RecordHeartbeatMissed() >= int32(c.cfg.MissedHeartbeatThreshold) {
				sess.SetState(session.StateReconnecting)
			}
		}
	case session.StateReconnecting:
		if sess.IdleDuration() > c.cfg.SessionTimeout {
			sess.SetState(session.StateExpired)
			c.dispatcher.FireSessionExpired(sess)
			c.teardown(wire.DisconnectReasonTimeout)
			return true
		}
	}
	return false
}

func (c *Client) teardown(reason wire.DisconnectReasonTag) {
	sess := c.conn.Session
	sess.Close(reason)
	c.dispatcher.FireSessionDisconnected(sess, reason)
}

// Send transmits msg over the session, reliably or unreliably.
func (c *Client) Send(msg interface{}, reliable bool) error {
	err := c.conn.Send(msg, reliable)
	if err != nil && errors.Is(err, qerrors.ErrQueueOverflow) {
		c.teardown(wire.DisconnectReasonNetworkError)
	}
	return err
}

// Close gracefully disconnects the session and releases the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.SendDisconnect(wire.DisconnectReason{Tag: wire.DisconnectReasonClientClosed})
			c.conn.Session.Close(wire.DisconnectReasonClientClosed)
			c.dispatcher.FireSessionDisconnected(c.conn.Session, wire.DisconnectReasonClientClosed)
		}
		close(c.closed)
		if c.self {
			err = c.net.Close()
		}
		c.wg.Wait()
	})
	return err
}
