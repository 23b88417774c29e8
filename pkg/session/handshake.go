// handshake.go implements the four-message handshake that establishes a
// session's encryption keys and authenticates the server's identity.
//
//	Client                                   Server
//	    | -------- ClientHello -------------> |
//	    |   version, ephemeral X25519, random |
//	    |                                      |
//	    | <------- ServerHello --------------- |
//	    |   version, ephemeral X25519, random, |
//	    |   SessionId, Ed25519 signature       |
//	    |                                      |
//	    |   [Both derive handshake secret       |
//	    |    and traffic keys via SHAKE-256]    |
//	    |                                      |
//	    | -------- ClientFinish -------------> |
//	    |   transcript verify data (encrypted) |
//	    |                                      |
//	    | <------- ServerWelcome ------------- |
//	    |   transcript verify data, payload    |
//	    |        === Session Connected ===     |
//
// The server's ServerHello signature binds both ephemeral public keys,
// both randoms, and the newly minted SessionId to its long-term identity
// key, so a man-in-the-middle cannot substitute its own ephemeral key
// without the client detecting it. ClientFinish and ServerWelcome are
// ordinary encrypted session packets: once both sides have the ECDH
// secret they install traffic keys immediately, and the finish/welcome
// exchange simply proves they derived the same ones.
package session

import (
	"net"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/wire"
)

// clientFinishTag and serverWelcomeTag separate the two transcript hashes
// computed over the same handshake material, so one side's verify data
// can never be replayed as the other's.
var (
	clientFinishTag  = []byte("client-finish")
	serverWelcomeTag = []byte("server-welcome")
)

// ClientHandshake drives the client side of the handshake.
type ClientHandshake struct {
	codec *wire.Codec
	cfg   Config

	serverIdentity ed25519.PublicKey
	ephemeral      *crypto.X25519KeyPair
	clientRandom   []byte
	serverRandom   []byte
	serverEphemeral []byte

	session *Session
}

// NewClientHandshake creates a client handshake that will verify the
// server's ServerHello against its pre-shared long-term identity key.
func NewClientHandshake(serverIdentity ed25519.PublicKey, cfg Config) *ClientHandshake {
	return &ClientHandshake{codec: wire.NewCodec(), cfg: cfg, serverIdentity: serverIdentity}
}

// CreateClientHello generates a fresh ephemeral key pair and random, and
// encodes the ClientHello packet.
func (h *ClientHandshake) CreateClientHello() ([]byte, error) {
	ephemeral, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	clientRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)

	h.ephemeral = ephemeral
	h.clientRandom = clientRandom

	return h.codec.EncodeClientHello(&wire.ClientHello{
		Version:            wire.Current,
		EphemeralPublicKey: ephemeral.PublicKeyBytes(),
		Random:             clientRandom,
	})
}

// ProcessServerHello verifies the server's identity signature, derives
// the session's traffic keys, and creates the session object under its
// server-assigned SessionId. Returns the session in StateHandshaking;
// the caller must still exchange ClientFinish/ServerWelcome.
func (h *ClientHandshake) ProcessServerHello(data []byte, peerAddr net.Addr, observer Observer) (*Session, error) {
	msg, err := h.codec.DecodeServerHello(data)
	if err != nil {
		return nil, err
	}

	if err := crypto.VerifyServerHello(
		h.serverIdentity,
		h.clientRandom, msg.Random,
		h.ephemeral.PublicKeyBytes(), msg.EphemeralPublicKey,
		msg.SessionID, msg.Signature,
	); err != nil {
		return nil, err
	}

	serverPublic, err := crypto.ParseX25519PublicKey(msg.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	ecdhSecret, err := crypto.X25519(h.ephemeral.PrivateKey, serverPublic)
	if err != nil {
		return nil, err
	}

	handshakeSecret, err := crypto.DeriveHandshakeSecret(ecdhSecret, h.clientRandom, msg.Random)
	if err != nil {
		return nil, err
	}
	clientKey, serverKey, err := crypto.DeriveTrafficKeys(handshakeSecret)
	if err != nil {
		return nil, err
	}
	crypto.ZeroizeMultiple(ecdhSecret, handshakeSecret)

	h.serverRandom = msg.Random
	h.serverEphemeral = msg.EphemeralPublicKey

	sess := NewWithID(msg.SessionID, RoleClient, peerAddr, h.cfg, observer)
	sess.Version = msg.Version
	if err := sess.InitializeTrafficKeys(clientKey, serverKey, wire.PreferredCipherSuite()); err != nil {
		crypto.ZeroizeMultiple(clientKey, serverKey)
		return nil, err
	}
	crypto.ZeroizeMultiple(clientKey, serverKey)

	h.session = sess
	return sess, nil
}

// CreateClientFinish encodes and seals the ClientFinish packet.
func (h *ClientHandshake) CreateClientFinish() ([]byte, error) {
	verifyData := h.transcriptHash(clientFinishTag)
	body, err := h.codec.EncodeClientFinishBody(&wire.ClientFinish{VerifyData: verifyData})
	if err != nil {
		return nil, err
	}
	return h.session.SealPacket(wire.PacketTypeClientFinish, body)
}

// ProcessServerWelcome decrypts and verifies the ServerWelcome, completing
// the handshake and transitioning the session to Connected.
func (h *ClientHandshake) ProcessServerWelcome(data []byte) ([]byte, error) {
	pktType, plaintext, err := h.session.OpenPacket(data)
	if err != nil {
		return nil, err
	}
	if pktType != wire.PacketTypeServerWelcome {
		return nil, qerrors.ErrMalformedPacket
	}

	welcome, err := h.codec.DecodeServerWelcomeBody(plaintext)
	if err != nil {
		return nil, err
	}

	expected := h.transcriptHash(serverWelcomeTag)
	if !crypto.ConstantTimeCompare(welcome.VerifyData, expected) {
		return nil, qerrors.ErrHandshakeFailure
	}

	h.session.SetState(StateConnected)
	return welcome.Payload, nil
}

func (h *ClientHandshake) transcriptHash(tag []byte) []byte {
	return crypto.TranscriptHash(h.clientRandom, h.serverRandom, h.ephemeral.PublicKeyBytes(), h.serverEphemeral, h.session.SessionID, tag)
}

// ServerHandshake drives the server side of the handshake.
type ServerHandshake struct {
	codec    *wire.Codec
	cfg      Config
	identity *crypto.IdentityKeyPair

	clientRandom    []byte
	serverRandom    []byte
	ephemeral       *crypto.X25519KeyPair
	clientEphemeral []byte

	session *Session
}

// NewServerHandshake creates a server handshake that signs its ServerHello
// with the server's long-term identity key.
func NewServerHandshake(identity *crypto.IdentityKeyPair, cfg Config) *ServerHandshake {
	return &ServerHandshake{codec: wire.NewCodec(), cfg: cfg, identity: identity}
}

// ProcessClientHello validates the ClientHello and creates the session
// under a freshly generated SessionId.
func (h *ServerHandshake) ProcessClientHello(data []byte, peerAddr net.Addr, observer Observer) (*Session, error) {
	msg, err := h.codec.DecodeClientHello(data)
	if err != nil {
		return nil, err
	}

	h.clientRandom = msg.Random
	h.clientEphemeral = msg.EphemeralPublicKey

	sess, err := New(RoleServer, peerAddr, h.cfg, observer)
	if err != nil {
		return nil, err
	}
	sess.Version = msg.Version
	h.session = sess
	return sess, nil
}

// CreateServerHello generates the server's ephemeral key pair, derives
// traffic keys, signs the transcript, and encodes the ServerHello packet.
func (h *ServerHandshake) CreateServerHello() ([]byte, error) {
	ephemeral, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	serverRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)
	h.ephemeral = ephemeral
	h.serverRandom = serverRandom

	clientPublic, err := crypto.ParseX25519PublicKey(h.clientEphemeral)
	if err != nil {
		return nil, err
	}
	ecdhSecret, err := crypto.X25519(ephemeral.PrivateKey, clientPublic)
	if err != nil {
		return nil, err
	}

	handshakeSecret, err := crypto.DeriveHandshakeSecret(ecdhSecret, h.clientRandom, serverRandom)
	if err != nil {
		return nil, err
	}
	clientKey, serverKey, err := crypto.DeriveTrafficKeys(handshakeSecret)
	if err != nil {
		return nil, err
	}
	crypto.ZeroizeMultiple(ecdhSecret, handshakeSecret)

	if err := h.session.InitializeTrafficKeys(serverKey, clientKey, wire.PreferredCipherSuite()); err != nil {
		crypto.ZeroizeMultiple(clientKey, serverKey)
		return nil, err
	}
	crypto.ZeroizeMultiple(clientKey, serverKey)

	signature := crypto.SignServerHello(
		h.identity.PrivateKey,
		h.clientRandom, serverRandom,
		h.clientEphemeral, ephemeral.PublicKeyBytes(),
		h.session.SessionID,
	)

	return h.codec.EncodeServerHello(&wire.ServerHello{
		Version:            wire.Current,
		EphemeralPublicKey: ephemeral.PublicKeyBytes(),
		Random:             serverRandom,
		SessionID:          h.session.SessionID,
		Signature:          signature,
	})
}

// ProcessClientFinish decrypts and verifies the ClientFinish packet.
func (h *ServerHandshake) ProcessClientFinish(data []byte) error {
	pktType, plaintext, err := h.session.OpenPacket(data)
	if err != nil {
		return err
	}
	if pktType != wire.PacketTypeClientFinish {
		return qerrors.ErrMalformedPacket
	}

	finish, err := h.codec.DecodeClientFinishBody(plaintext)
	if err != nil {
		return err
	}

	expected := h.transcriptHash(clientFinishTag)
	if !crypto.ConstantTimeCompare(finish.VerifyData, expected) {
		return qerrors.ErrHandshakeFailure
	}
	return nil
}

// CreateServerWelcome encodes and seals the ServerWelcome packet carrying
// optional initial application payload, and marks the session Connected.
func (h *ServerHandshake) CreateServerWelcome(payload []byte) ([]byte, error) {
	verifyData := h.transcriptHash(serverWelcomeTag)
	body, err := h.codec.EncodeServerWelcomeBody(&wire.ServerWelcome{VerifyData: verifyData, Payload: payload})
	if err != nil {
		return nil, err
	}
	packet, err := h.session.SealPacket(wire.PacketTypeServerWelcome, body)
	if err != nil {
		return nil, err
	}
	h.session.SetState(StateConnected)
	return packet, nil
}

func (h *ServerHandshake) transcriptHash(tag []byte) []byte {
	return crypto.TranscriptHash(h.clientRandom, h.serverRandom, h.clientEphemeral, h.ephemeral.PublicKeyBytes(), h.session.SessionID, tag)
}

// Session returns the session object created during the handshake.
func (h *ServerHandshake) Session() *Session { return h.session }

// Session returns the session object created during the handshake.
func (h *ClientHandshake) Session() *Session { return h.session }
