// packets.go defines the packet types carried over the session
// transport and their validation rules.
//
// Handshake flow:
//
//	Client                                  Server
//	    | -------- ClientHello -------------> |
//	    | <------- ServerHello --------------- |
//	    | -------- ClientFinish -------------> |
//	    | <------- ServerWelcome ------------- |
//	    |        === Session Connected ===     |
//
// ClientHello and ServerHello travel in cleartext ahead of a 2-byte
// protocol version prefix; every other packet carries a 16-byte
// SessionId in cleartext and an authenticated-encrypted body.
package wire

import (
	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// PacketType identifies the type of a wire packet.
type PacketType uint8

// Packet types for handshake, session traffic, and control signaling.
const (
	// PacketTypeClientHello initiates the handshake from the client.
	PacketTypeClientHello PacketType = 0x01
	// PacketTypeServerHello responds to ClientHello with server parameters.
	PacketTypeServerHello PacketType = 0x02
	// PacketTypeClientFinish confirms possession of the session key.
	PacketTypeClientFinish PacketType = 0x03
	// PacketTypeServerWelcome completes the handshake from the server side.
	PacketTypeServerWelcome PacketType = 0x04

	// PacketTypeData carries a reliable or unreliable application message.
	PacketTypeData PacketType = 0x10
	// PacketTypeAck acknowledges received Data packets.
	PacketTypeAck PacketType = 0x11
	// PacketTypeHeartbeat keeps a quiet session alive.
	PacketTypeHeartbeat PacketType = 0x12
	// PacketTypeDisconnect signals graceful or forced session termination.
	PacketTypeDisconnect PacketType = 0x13
)

// String returns a human-readable name for the packet type.
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeClientHello:
		return "ClientHello"
	case PacketTypeServerHello:
		return "ServerHello"
	case PacketTypeClientFinish:
		return "ClientFinish"
	case PacketTypeServerWelcome:
		return "ServerWelcome"
	case PacketTypeData:
		return "Data"
	case PacketTypeAck:
		return "Ack"
	case PacketTypeHeartbeat:
		return "Heartbeat"
	case PacketTypeDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// HeaderSize is the size of the cleartext packet header shared by every
// post-handshake packet: 1-byte type + 16-byte SessionId.
const HeaderSize = 1 + constants.SessionIDSize

// ClientHello is sent by the client to begin the handshake.
type ClientHello struct {
	Version Version

	// EphemeralPublicKey is the client's X25519 public key for this session.
	EphemeralPublicKey []byte

	// Random is a 32-byte nonce binding this handshake transcript.
	Random []byte
}

// Validate checks that the ClientHello message is well formed.
func (m *ClientHello) Validate() error {
	if !m.Version.IsCompatible(Current) {
		return qerrors.ErrVersionMismatch
	}
	if len(m.EphemeralPublicKey) != constants.X25519PublicKeySize {
		return qerrors.ErrMalformedPacket
	}
	if len(m.Random) != constants.HandshakeRandomSize {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// ServerHello is sent by the server in response to a ClientHello.
type ServerHello struct {
	Version Version

	// EphemeralPublicKey is the server's X25519 public key for this session.
	EphemeralPublicKey []byte

	// Random is a 32-byte nonce binding this handshake transcript.
	Random []byte

	// SessionID is the server-assigned identifier for this session.
	SessionID []byte

	// Signature authenticates (clientRandom || serverRandom ||
	// clientEphemeral || serverEphemeral || SessionID) under the server's
	// long-term identity key.
	Signature []byte
}

// Validate checks that the ServerHello message is well formed.
func (m *ServerHello) Validate() error {
	if !m.Version.IsCompatible(Current) {
		return qerrors.ErrVersionMismatch
	}
	if len(m.EphemeralPublicKey) != constants.X25519PublicKeySize {
		return qerrors.ErrMalformedPacket
	}
	if len(m.Random) != constants.HandshakeRandomSize {
		return qerrors.ErrMalformedPacket
	}
	if len(m.SessionID) != constants.SessionIDSize {
		return qerrors.ErrMalformedPacket
	}
	if len(m.Signature) != constants.Ed25519SignatureSize {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// ClientFinish confirms the client's possession of the derived session key.
type ClientFinish struct {
	// VerifyData is a transcript hash proving the client derived the same
	// session key as the server.
	VerifyData []byte
}

// Validate checks that the ClientFinish message is well formed.
func (m *ClientFinish) Validate() error {
	if len(m.VerifyData) != constants.TranscriptHashSize {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// ServerWelcome completes the handshake and may carry initial server data.
type ServerWelcome struct {
	// VerifyData is a transcript hash proving the server derived the same
	// session key as the client.
	VerifyData []byte

	// Payload is optional initial application data, opaque to the transport.
	Payload []byte
}

// Validate checks that the ServerWelcome message is well formed.
func (m *ServerWelcome) Validate() error {
	if len(m.VerifyData) != constants.TranscriptHashSize {
		return qerrors.ErrMalformedPacket
	}
	if len(m.Payload) > constants.DefaultMaxMessageSize {
		return qerrors.ErrMessageTooLarge
	}
	return nil
}

// dataFlagReliable marks a Data packet as part of the reliable sequence
// space; unreliable packets always carry seq 0.
const dataFlagReliable = 1 << 0

// Data carries one application message, reliable or unreliable.
type Data struct {
	// Seq is the sequence number for reliable messages; 0 for unreliable.
	Seq uint32

	// Reliable indicates this message occupies the reliable sequence space
	// and expects an acknowledgement.
	Reliable bool

	// MessageTag is the stable integer tag the Protocol assigned to the
	// decoded payload's type.
	MessageTag uint16

	// Payload is the opaque, Protocol-encoded application message.
	Payload []byte
}

// Validate checks that the Data message is well formed.
func (m *Data) Validate() error {
	if len(m.Payload) > constants.DefaultMaxMessageSize {
		return qerrors.ErrMessageTooLarge
	}
	if !m.Reliable && m.Seq != 0 {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// Ack acknowledges received Data packets: everything up to and including
// UpTo, plus any isolated out-of-order sequence numbers in Selective.
type Ack struct {
	UpTo      uint32
	Selective []uint32
}

// Validate checks that the Ack message is well formed.
func (m *Ack) Validate() error {
	if len(m.Selective) > constants.MaxSelectiveAckEntries {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// DisconnectReasonTag identifies the cause of a session disconnection.
type DisconnectReasonTag uint8

// Disconnect reason tags, exhaustively enumerable.
const (
	DisconnectReasonNetworkError   DisconnectReasonTag = 0x01
	DisconnectReasonTimeout        DisconnectReasonTag = 0x02
	DisconnectReasonKickedByServer DisconnectReasonTag = 0x03
	DisconnectReasonProtocolError  DisconnectReasonTag = 0x04
	DisconnectReasonServerShutdown DisconnectReasonTag = 0x05

	// DisconnectReasonClientClosed marks a session ended by the client's
	// own voluntary Close, as opposed to a NetworkError it merely
	// observed.
	DisconnectReasonClientClosed DisconnectReasonTag = 0x06
)

// String returns a human-readable name for the disconnect reason tag.
func (t DisconnectReasonTag) String() string {
	switch t {
	case DisconnectReasonNetworkError:
		return "NetworkError"
	case DisconnectReasonTimeout:
		return "Timeout"
	case DisconnectReasonKickedByServer:
		return "KickedByServer"
	case DisconnectReasonProtocolError:
		return "ProtocolError"
	case DisconnectReasonServerShutdown:
		return "ServerShutdown"
	case DisconnectReasonClientClosed:
		return "ClientClosed"
	default:
		return "Unknown"
	}
}

// DisconnectReason is the tagged reason carried by a Disconnect packet.
type DisconnectReason struct {
	Tag    DisconnectReasonTag
	Detail string
}

// Disconnect signals graceful or forced session termination.
type Disconnect struct {
	Reason DisconnectReason
}

// maxDisconnectDetailLen bounds the single-byte length prefix on Detail.
const maxDisconnectDetailLen = 255

// Validate checks that the Disconnect message is well formed.
func (m *Disconnect) Validate() error {
	switch m.Reason.Tag {
	case DisconnectReasonNetworkError, DisconnectReasonTimeout, DisconnectReasonKickedByServer,
		DisconnectReasonProtocolError, DisconnectReasonServerShutdown, DisconnectReasonClientClosed:
	default:
		return qerrors.ErrMalformedPacket
	}
	if len(m.Reason.Detail) > maxDisconnectDetailLen {
		return qerrors.ErrMalformedPacket
	}
	return nil
}
